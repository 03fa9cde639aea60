// Package server exposes the consolidation API over HTTP. Handlers are
// thin: they decode, enforce the tenant boundary, delegate to the
// coordinator or store, and encode the result.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/planhub/internal/auth"
	"github.com/wolfeidau/planhub/internal/consolidator"
	planhubhttp "github.com/wolfeidau/planhub/internal/http"
	requestlog "github.com/wolfeidau/planhub/internal/logger"
	"github.com/wolfeidau/planhub/internal/models"
	"github.com/wolfeidau/planhub/internal/schema"
	"github.com/wolfeidau/planhub/internal/store"
	"github.com/wolfeidau/planhub/internal/telemetry"
)

const (
	maxSubmissionBytes = 32 << 20 // 32MiB decoded payload cap
	conflictRetries    = 3
)

// Config for the HTTP API.
type Config struct {
	// Verifier checks bearer tokens. Nil disables authentication and
	// injects the dev identity (development only).
	Verifier *auth.Verifier

	// CORSOrigins are the origins allowed to call the API from a
	// browser.
	CORSOrigins []string
}

// Server routes consolidation requests to the coordinator and store.
type Server struct {
	coordinator *consolidator.Coordinator
	store       store.ConsolidationStore
	cfg         Config
}

// New creates a server around a coordinator and its store.
func New(coordinator *consolidator.Coordinator, st store.ConsolidationStore, cfg Config) *Server {
	return &Server{coordinator: coordinator, store: st, cfg: cfg}
}

// Handler builds the full middleware chain and route table.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /organizations/{org}/submissions", s.handleSubmit)
	mux.HandleFunc("GET /organizations/{org}/workplans/{id}", s.handleGetWorkPlan)
	mux.HandleFunc("GET /organizations/{org}/workplans/{id}/activities", s.handleListActivities)
	mux.HandleFunc("DELETE /organizations/{org}/workplans/{id}", s.handleDeleteWorkPlan)
	mux.HandleFunc("GET /organizations/{org}/participants/{registration}", s.handleGetParticipant)
	mux.HandleFunc("GET /organizations/{org}/units/{code}", s.handleGetUnit)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Content-Encoding"},
	})

	var handler http.Handler = mux
	handler = planhubhttp.GzipRequestMiddleware()(handler)
	handler = auth.Middleware(s.cfg.Verifier)(handler)
	handler = corsMiddleware.Handler(handler)
	handler = planhubhttp.ClientIPMiddleware()(handler)
	handler = requestlog.Requests(logger)(handler)

	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit runs one submission. Write-write conflicts are retried
// here with exponential backoff so submitters see them only when the
// store stays contended.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgCode := r.PathValue("org")

	if _, ok := s.authorize(w, r, orgCode, auth.ScopePlansWrite); !ok {
		return
	}

	var raw schema.RawSubmission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "malformed submission payload: "+err.Error())
		return
	}

	m := telemetry.GetMetrics()
	m.SubmissionsReceivedTotal.Add(ctx, 1)
	started := time.Now()

	retryConflict := errors.New("write conflict, retrying")

	var last *consolidator.Result
	result, err := backoff.Retry(ctx, func() (*consolidator.Result, error) {
		res, err := s.coordinator.Process(ctx, orgCode, &raw)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if res.Retryable {
			last = res
			m.WriteConflictsTotal.Add(ctx, 1)
			return nil, retryConflict
		}
		return res, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(conflictRetries),
	)
	m.SubmissionDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	switch {
	case err != nil && last != nil:
		// Conflict survived all retries; the submitter can resubmit.
		m.SubmissionsRejectedTotal.Add(ctx, 1)
		writeJSON(w, http.StatusConflict, last)
		return
	case errors.Is(err, consolidator.ErrOrganizationMismatch):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		zerolog.Ctx(ctx).Error().Err(err).Msg("submission processing failed")
		writeError(w, http.StatusInternalServerError, "submission processing failed")
		return
	}

	m.RecordsInsertedTotal.Add(ctx, int64(result.Counts.Inserted))
	m.RecordsUpdatedTotal.Add(ctx, int64(result.Counts.Updated))
	m.RecordsUnchangedTotal.Add(ctx, int64(result.Counts.Unchanged))
	m.RecordsRejectedTotal.Add(ctx, int64(result.Counts.Rejected))

	if result.State == consolidator.StateRejected {
		m.SubmissionsRejectedTotal.Add(ctx, 1)
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	m.SubmissionsCommittedTotal.Add(ctx, 1)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetWorkPlan(w http.ResponseWriter, r *http.Request) {
	orgCode := r.PathValue("org")
	if _, ok := s.authorize(w, r, orgCode, auth.ScopePlansRead); !ok {
		return
	}

	plan, err := s.store.GetWorkPlan(r.Context(), orgCode, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err, "work plan not found")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	orgCode := r.PathValue("org")
	if _, ok := s.authorize(w, r, orgCode, auth.ScopePlansRead); !ok {
		return
	}

	ctx := r.Context()
	planID := r.PathValue("id")

	// A plan with no activities is an empty list; an unknown plan is 404.
	if _, err := s.store.GetWorkPlan(ctx, orgCode, planID); err != nil {
		writeStoreError(w, r, err, "work plan not found")
		return
	}

	activities, err := s.store.ListActivities(ctx, orgCode, planID)
	if err != nil {
		writeStoreError(w, r, err, "work plan not found")
		return
	}
	if activities == nil {
		activities = []*models.Activity{}
	}
	writeJSON(w, http.StatusOK, activities)
}

func (s *Server) handleDeleteWorkPlan(w http.ResponseWriter, r *http.Request) {
	orgCode := r.PathValue("org")
	if _, ok := s.authorize(w, r, orgCode, auth.ScopePlansWrite); !ok {
		return
	}

	if err := s.coordinator.DeleteWorkPlan(r.Context(), orgCode, r.PathValue("id")); err != nil {
		writeStoreError(w, r, err, "work plan not found")
		return
	}
	telemetry.GetMetrics().PlanDeletesTotal.Add(r.Context(), 1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	orgCode := r.PathValue("org")
	if _, ok := s.authorize(w, r, orgCode, auth.ScopePlansRead); !ok {
		return
	}

	part, err := s.store.GetParticipant(r.Context(), orgCode, r.PathValue("registration"))
	if err != nil {
		writeStoreError(w, r, err, "participant not found")
		return
	}
	writeJSON(w, http.StatusOK, part)
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	orgCode := r.PathValue("org")
	if _, ok := s.authorize(w, r, orgCode, auth.ScopePlansRead); !ok {
		return
	}

	unit, err := s.store.GetUnit(r.Context(), orgCode, r.PathValue("code"))
	if err != nil {
		writeStoreError(w, r, err, "unit not found")
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

// authorize enforces the scope and tenant checks shared by every
// endpoint.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, orgCode, scope string) (*auth.Identity, bool) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	if !identity.HasScope(scope) {
		writeError(w, http.StatusForbidden, "missing scope "+scope)
		return nil, false
	}
	if !identity.AllowsOrg(orgCode) {
		writeError(w, http.StatusForbidden, "not authorized for organization "+orgCode)
		return nil, false
	}
	return identity, true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("store operation failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
