package httpserver

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/phaselock/escrowd/internal/models"
)

func pathID(r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

type createAllocationRequest struct {
	Beneficiary string   `json:"beneficiary"`
	Amount      uint64   `json:"amount"`
	Phases      []uint64 `json:"phases"`
}

func (s *Server) handleCreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req createAllocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	a, err := s.service.CreateAllocation(r.Context(), caller(r), req.Beneficiary, req.Amount, req.Phases)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	a, err := s.service.GetAllocation(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleReleasePhase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	a, err := s.service.ReleasePhase(r.Context(), caller(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleReclaimExpired(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	a, err := s.service.ReclaimExpired(r.Context(), caller(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	a, err := s.service.Terminate(r.Context(), caller(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

type extendRequest struct {
	Period uint64 `json:"period"`
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	var req extendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	a, err := s.service.Extend(r.Context(), caller(r), id, req.Period)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

type progressRequest struct {
	PhaseIndex uint64 `json:"phaseIndex"`
	Pct        uint64 `json:"pct"`
	Narrative  string `json:"narrative"`
	Evidence   string `json:"evidence,omitempty"` // base64, 32 bytes
}

func (s *Server) handleRecordProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	var evidence [32]byte
	if req.Evidence != "" {
		raw, err := base64.StdEncoding.DecodeString(req.Evidence)
		if err != nil || len(raw) != len(evidence) {
			respondError(w, http.StatusBadRequest, "evidence must be base64 of exactly 32 bytes")
			return
		}
		copy(evidence[:], raw)
	}
	p, err := s.service.RecordProgress(r.Context(), caller(r), id, req.PhaseIndex, req.Pct, req.Narrative, evidence)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	phase, ok := pathID(r, "phase")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid phase index")
		return
	}
	p, err := s.service.GetProgress(r.Context(), id, phase)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type delegationRequest struct {
	Delegate    string `json:"delegate"`
	Termination bool   `json:"termination"`
	Extension   bool   `json:"extension"`
	Supplement  bool   `json:"supplement"`
	Period      uint64 `json:"period"`
}

func (s *Server) handleDelegateAuthority(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	var req delegationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	d, err := s.service.DelegateAuthority(r.Context(), caller(r), id, req.Delegate, req.Termination, req.Extension, req.Supplement, req.Period)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDelegation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	d, err := s.service.GetDelegation(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

type createBranchedRequest struct {
	Amount   uint64          `json:"amount"`
	Branches []models.Branch `json:"branches"`
}

func (s *Server) handleCreateBranched(w http.ResponseWriter, r *http.Request) {
	var req createBranchedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	b, err := s.service.CreateBranched(r.Context(), caller(r), req.Branches, req.Amount)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBranched(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid branch id")
		return
	}
	b, err := s.service.GetBranched(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}
