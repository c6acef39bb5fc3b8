// Package server is the long-running service surface: a cron scheduler for
// the configured communities and an HTTP API for on-demand syncs, run history,
// health and metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/roach88/debtsync/internal/metrics"
	"github.com/roach88/debtsync/internal/orchestrator"
	"github.com/roach88/debtsync/internal/runlog"
)

// Syncer runs one pipeline. Implemented by *orchestrator.Orchestrator.
type Syncer interface {
	Run(ctx context.Context, community string) (orchestrator.Result, error)
}

// History lists recorded runs. Implemented by *runlog.Store.
type History interface {
	List(ctx context.Context, community string, limit int) ([]runlog.Run, error)
}

// Pinger reports dependency health. A nil Pinger is always healthy.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API serves the HTTP endpoints.
type API struct {
	syncer  Syncer
	history History
	health  Pinger
	logger  *slog.Logger
}

// NewAPI creates the API. history and health may be nil.
func NewAPI(syncer Syncer, history History, health Pinger, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{syncer: syncer, history: history, health: health, logger: logger}
}

// Router returns the route table.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/sync/{community}", a.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/v1/runs", a.handleRuns).Methods(http.MethodGet)
	return r
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	community := mux.Vars(r)["community"]

	// A client that goes away after the truncate must not abort the reload.
	// Each step carries its own deadline; shutdown waits for the handler.
	res, err := a.syncer.Run(context.WithoutCancel(r.Context()), community)
	if err != nil {
		class := orchestrator.Classify(err)
		step, _ := orchestrator.FailedStep(err)
		a.logger.Warn("sync request failed", "community", community, "class", class, "error", err)
		respondJSON(w, StatusFor(class), errorBody{Code: class, Message: err.Error(), Step: string(step)})
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *API) handleRuns(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		respondJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "run history disabled"})
		return
	}

	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs, err := a.history.List(r.Context(), q.Get("community"), limit)
	if err != nil {
		a.logger.Error("list runs failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, errorBody{Code: orchestrator.ClassInternal, Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// StatusFor maps an error class to the HTTP status of a failed sync.
func StatusFor(class string) int {
	switch class {
	case orchestrator.ClassInProgress:
		return http.StatusConflict
	case orchestrator.ClassTimeout:
		return http.StatusGatewayTimeout
	case orchestrator.ClassBusiness, orchestrator.ClassProtocol:
		return http.StatusBadGateway
	case orchestrator.ClassValidation:
		return http.StatusUnprocessableEntity
	case orchestrator.ClassCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
