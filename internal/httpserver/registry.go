package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type setStatusRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := s.service.SetOperationalStatus(r.Context(), caller(r), req.Active); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	active, err := s.service.OperationalStatus(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"active": active})
}

type setVerifiedRequest struct {
	Verified bool `json:"verified"`
}

func (s *Server) handleSetVerified(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	var req setVerifiedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := s.service.SetEntityVerified(r.Context(), caller(r), entity, req.Verified); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entity": entity, "verified": req.Verified})
}

func (s *Server) handleIsVerified(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	verified, err := s.service.IsEntityVerified(r.Context(), entity)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entity": entity, "verified": verified})
}
