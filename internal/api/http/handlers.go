package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkilian/eventarchive/internal/compaction"
	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/index"
	"github.com/arkilian/eventarchive/internal/summary"
	"github.com/arkilian/eventarchive/pkg/types"
)

// Compactor is the part of the daemon the HTTP surface drives.
type Compactor interface {
	RunOnce(ctx context.Context) *compaction.Report
	LastReport() *compaction.Report
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Compactor Compactor
	Store     *eventstore.Store
	// IndexPath is opened per request
	IndexPath string
	// Gatherer backs /metrics (prometheus.DefaultGatherer when nil)
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	// Middleware wraps every route, outermost first
	Middleware []func(http.Handler) http.Handler
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string             `json:"status"`
	Time      time.Time          `json:"time"`
	LastRun   *compaction.Report `json:"lastRun,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
}

// SummariesResponse is returned by GET /v1/summaries.
type SummariesResponse struct {
	Summaries []*summary.PeriodSummary `json:"summaries"`
}

// EventsResponse is returned by GET /v1/events.
type EventsResponse struct {
	Events []types.EventRecord `json:"events"`
	Count  int                 `json:"count"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	SchemaVersion string                    `json:"schemaVersion"`
	Events        int64                     `json:"events"`
	Summaries     int64                     `json:"summaries"`
	ByType        map[types.EventType]int64 `json:"byType"`
}

// LookupResponse is returned by GET /v1/lookup/{id}.
type LookupResponse struct {
	ID string `json:"id"`
	// Periods whose archived-id filter may contain the id
	Periods []string `json:"periods"`
}

type handlers struct {
	deps Deps
}

// NewRouter builds the daemon's routes.
func NewRouter(deps Deps) *mux.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{deps: deps}

	router := mux.NewRouter()
	for _, mw := range deps.Middleware {
		router.Use(mux.MiddlewareFunc(mw))
	}
	router.Use(mux.MiddlewareFunc(DefaultMiddleware(deps.Logger)))

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/compact", h.compact).Methods(http.MethodPost)
	api.HandleFunc("/summaries", h.summaries).Methods(http.MethodGet)
	api.HandleFunc("/events", h.events).Methods(http.MethodGet)
	api.HandleFunc("/lookup/{id}", h.lookup).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	return router
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Time:      time.Now().UTC(),
		RequestID: GetRequestID(r.Context()),
	}
	if h.deps.Compactor != nil {
		resp.LastRun = h.deps.Compactor.LastReport()
	}
	writeJSON(w, http.StatusOK, resp)
}

// compact runs one compaction synchronously and returns its report.
func (h *handlers) compact(w http.ResponseWriter, r *http.Request) {
	if h.deps.Compactor == nil {
		writeError(w, http.StatusServiceUnavailable, "compaction is not configured", "", GetRequestID(r.Context()))
		return
	}

	report := h.deps.Compactor.RunOnce(r.Context())
	status := http.StatusOK
	if !report.OK {
		status = http.StatusInternalServerError
		if report.Err != nil {
			status = statusFor(report.Err)
		}
	}
	writeJSON(w, status, report)
}

func (h *handlers) summaries(w http.ResponseWriter, r *http.Request) {
	ix, err := index.Open(r.Context(), h.deps.IndexPath, index.WithLogger(h.deps.Logger))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer ix.Close()

	rows, err := ix.QuerySummaries(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if rows == nil {
		rows = []*summary.PeriodSummary{}
	}
	writeJSON(w, http.StatusOK, SummariesResponse{Summaries: rows})
}

// events answers from the index and falls back to scanning the hot store
// when the index is missing or unusable.
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	events, err := index.ReadEvents(r.Context(), h.deps.IndexPath, h.deps.Store, filter, h.deps.Logger)
	if err != nil {
		if arkerrors.GetCategory(err) == "" {
			err = arkerrors.NewStoreError(arkerrors.CodeReadFailed, "failed to read events", err)
		}
		writeErr(w, r, err)
		return
	}
	if events == nil {
		events = []types.EventRecord{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ix, err := index.Open(r.Context(), h.deps.IndexPath, index.WithLogger(h.deps.Logger))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer ix.Close()

	periods, err := ix.LookupArchived(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if periods == nil {
		periods = []string{}
	}
	writeJSON(w, http.StatusOK, LookupResponse{ID: id, Periods: periods})
}

// stats reports the size of the index: hot event rows by type and archived
// summaries.
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ix, err := index.Open(ctx, h.deps.IndexPath, index.WithLogger(h.deps.Logger))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer ix.Close()

	var resp StatsResponse
	if resp.SchemaVersion, err = ix.SchemaVersion(ctx); err != nil {
		writeErr(w, r, err)
		return
	}
	if resp.Events, resp.Summaries, err = ix.Counts(ctx); err != nil {
		writeErr(w, r, err)
		return
	}
	if resp.ByType, err = ix.CountByType(ctx); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseFilter reads type, session, since, until, limit and redacted.
func parseFilter(r *http.Request) (eventstore.Filter, error) {
	q := r.URL.Query()
	var f eventstore.Filter

	for _, raw := range q["type"] {
		for _, s := range strings.Split(raw, ",") {
			if s == "" {
				continue
			}
			t, err := types.ParseEventType(s)
			if err != nil {
				return f, arkerrors.NewValidationError(arkerrors.CodeInvalidEvent, err.Error())
			}
			f.Types = append(f.Types, t)
		}
	}
	f.SessionID = q.Get("session")

	if v := q.Get("since"); v != "" {
		t, err := types.ParseInstant(v)
		if err != nil {
			return f, arkerrors.NewValidationError(arkerrors.CodeInvalidEvent, err.Error())
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := types.ParseInstant(v)
		if err != nil {
			return f, arkerrors.NewValidationError(arkerrors.CodeInvalidEvent, err.Error())
		}
		f.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, arkerrors.NewValidationError(arkerrors.CodeInvalidEvent, "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	f.IncludeRedacted = q.Get("redacted") == "true"
	return f, nil
}
