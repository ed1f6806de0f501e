// Package api exposes the engine over HTTP.
//
// The surface is deliberately small: trigger ingestion plus read-only
// run inspection. Item CRUD and credential management belong to the
// collaborating systems and have no endpoints here.
//
//	POST /v1/triggers             trigger a publication run
//	GET  /v1/runs                 list runs
//	GET  /v1/runs/{key}           fetch one run
//	GET  /v1/runs/{key}/steps     the run's step ledger
//	GET  /v1/runs/{key}/history   the run's journal entries
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/journal"
	"github.com/mo-hossam-stack/slate/run"
)

// Triggerer creates or dedupes a publication run. Satisfied by
// *intake.Intake.
type Triggerer interface {
	Trigger(ctx context.Context, itemID string, scheduledAt *time.Time) (*run.Run, error)
}

// Server serves the HTTP API. It implements http.Handler.
type Server struct {
	triggerer Triggerer
	runs      run.Store
	history   journal.Store
	logger    *slog.Logger
	router    chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server. history may be nil, in which case the history
// endpoint returns 404.
func New(triggerer Triggerer, runs run.Store, history journal.Store, opts ...Option) *Server {
	s := &Server{
		triggerer: triggerer,
		runs:      runs,
		history:   history,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/triggers", s.handleTrigger)
		r.Get("/runs", s.handleListRuns)
		r.Route("/runs/{key}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/steps", s.handleListSteps)
			r.Get("/history", s.handleHistory)
		})
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// triggerRequest is the POST /v1/triggers body.
type triggerRequest struct {
	ItemID string `json:"item_id"`

	// ScheduledAt overrides the item's own scheduled time when set.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ItemID == "" {
		s.respondError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	// Distinguish first delivery from redelivery so the status code can
	// say which one this was. A race between the check and the trigger
	// only shifts the code, never the semantics.
	_, getErr := s.runs.GetRun(r.Context(), run.KeyForItem(req.ItemID))
	existed := getErr == nil

	res, err := s.triggerer.Trigger(r.Context(), req.ItemID, req.ScheduledAt)
	if err != nil {
		s.respondTriggerError(w, res, err)
		return
	}

	status := http.StatusAccepted
	if existed {
		status = http.StatusOK
	}
	s.respondJSON(w, status, res)
}

// respondTriggerError maps intake errors to HTTP statuses.
func (s *Server) respondTriggerError(w http.ResponseWriter, res *run.Run, err error) {
	switch {
	case errors.Is(err, slate.ErrAlreadyPublished):
		// A run handle accompanies the conflict when one exists.
		if res != nil {
			s.respondJSON(w, http.StatusConflict, res)
			return
		}
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, slate.ErrItemNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, slate.ErrContentTooShort),
		errors.Is(err, slate.ErrNotConnected):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("trigger failed", slog.String("error", err.Error()))
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := run.ListOpts{
		State:   run.State(q.Get("state")),
		OwnerID: q.Get("owner_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = n
	}

	runs, err := s.runs.ListRuns(r.Context(), opts)
	if err != nil {
		s.logger.Error("list runs failed", slog.String("error", err.Error()))
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	res, err := s.runs.GetRun(r.Context(), key)
	if err != nil {
		if errors.Is(err, slate.ErrRunNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("get run failed", slog.String("error", err.Error()))
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := s.runs.GetRun(r.Context(), key); err != nil {
		if errors.Is(err, slate.ErrRunNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("get run failed", slog.String("error", err.Error()))
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	steps, err := s.runs.ListSteps(r.Context(), key)
	if err != nil {
		s.logger.Error("list steps failed", slog.String("error", err.Error()))
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, "history not enabled")
		return
	}

	key := chi.URLParam(r, "key")
	entries, err := s.history.ListEntries(r.Context(), key)
	if err != nil {
		s.logger.Error("list history failed", slog.String("error", err.Error()))
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", slog.String("error", err.Error()))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, errorResponse{Error: msg})
}
