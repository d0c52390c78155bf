package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phaselock/escrowd/internal/auth"
	"github.com/phaselock/escrowd/internal/config"
	"github.com/phaselock/escrowd/internal/escrow"
	"github.com/phaselock/escrowd/internal/store"
)

type Server struct {
	cfg      config.Config
	service  *escrow.Service
	store    store.Store
	verifier *auth.Verifier
}

func New(cfg config.Config, svc *escrow.Service, st store.Store, verifier *auth.Verifier) *Server {
	return &Server{cfg: cfg, service: svc, store: st, verifier: verifier}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/escrow", func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.Post("/allocations", s.handleCreateAllocation)
		r.Get("/allocations/{id}", s.handleGetAllocation)
		r.Post("/allocations/{id}/release", s.handleReleasePhase)
		r.Post("/allocations/{id}/reclaim", s.handleReclaimExpired)
		r.Post("/allocations/{id}/terminate", s.handleTerminate)
		r.Post("/allocations/{id}/extend", s.handleExtend)
		r.Post("/allocations/{id}/progress", s.handleRecordProgress)
		r.Get("/allocations/{id}/progress/{phase}", s.handleGetProgress)
		r.Post("/allocations/{id}/delegation", s.handleDelegateAuthority)
		r.Get("/allocations/{id}/delegation", s.handleGetDelegation)

		r.Post("/branches", s.handleCreateBranched)
		r.Get("/branches/{id}", s.handleGetBranched)

		r.Put("/status", s.handleSetStatus)
		r.Get("/status", s.handleGetStatus)
		r.Put("/registry/{entity}", s.handleSetVerified)
		r.Get("/registry/{entity}", s.handleIsVerified)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["store"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// caller returns the resolved principal subject; the auth middleware
// guarantees one is present on /escrow routes.
func caller(r *http.Request) string {
	if p := auth.FromContext(r.Context()); p != nil {
		return p.Subject
	}
	return ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondServiceError maps the escrow error taxonomy onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var ee *escrow.Error
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError
	}
	switch ee.Kind {
	case escrow.KindAccessDenied:
		return http.StatusForbidden
	case escrow.KindEntityMissing:
		return http.StatusNotFound
	case escrow.KindParameterInvalid, escrow.KindPhaseValidation,
		escrow.KindBeneficiaryOverflow, escrow.KindAllocationImbalance:
		return http.StatusBadRequest
	case escrow.KindTimelockViolation, escrow.KindAlreadyFinalized,
		escrow.KindProgressDuplicate, escrow.KindDelegationExists:
		return http.StatusConflict
	case escrow.KindOperationFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
