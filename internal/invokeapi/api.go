// Package invokeapi exposes the triage workflows over HTTP.
package invokeapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/triage"
)

// TriageService defines the business operations invokeapi needs.
type TriageService interface {
	Invoke(ctx context.Context, req *triage.Request) *triage.Summary
	Analyze(ctx context.Context, ev *event.Event) *triage.Summary
	Monitor(ctx context.Context, hours int) *triage.Summary
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
	auth   func(http.Handler) http.Handler
}

// Option configures an API.
type Option func(*API)

// WithAuth guards every API route with mw.
func WithAuth(mw func(http.Handler) http.Handler) Option {
	return func(a *API) { a.auth = mw }
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.auth != nil {
			r.Use(a.auth)
		}
		r.Post("/invoke", a.handleInvoke)
		r.Post("/events/analyze", a.handleAnalyze)
		r.Post("/monitor", a.handleMonitor)
	})
}

// withDBContext labels database work done for r and attaches per-request
// query stats.
func withDBContext(r *http.Request) (context.Context, *postgres.QueryStats) {
	ctx := postgres.WithTrigger(r.Context(), r.Method)
	return postgres.WithQueryStats(ctx)
}

// writeSummary encodes sum with 200 on success and 422 otherwise.
func (a *API) writeSummary(w http.ResponseWriter, r *http.Request, sum *triage.Summary, stats *postgres.QueryStats) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.invocation.id", sum.InvocationID),
		attribute.String("warden.workflow", sum.Workflow),
		attribute.String("warden.status", sum.Status),
	)
	if stats != nil {
		q, e, d := stats.Snapshot()
		span.SetAttributes(
			attribute.Int("db.queries", q),
			attribute.Int("db.errors", e),
			attribute.Float64("db.duration_seconds", d.Seconds()),
		)
	}

	status := http.StatusOK
	if !sum.OK() {
		status = http.StatusUnprocessableEntity
		span.SetAttributes(attribute.String("warden.error_kind", sum.ErrorKind))
	}
	writeJSON(w, status, sum)
}

// badRequest answers an undecodable body with an error summary.
func (a *API) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Warn(r.Context(), "rejected request body", "path", r.URL.Path, "err", err)
	sum := &triage.Summary{
		Status:    triage.StatusError,
		ErrorKind: triage.KindOf(err),
		Message:   err.Error(),
	}
	if sum.ErrorKind == "" {
		sum.ErrorKind = string(triage.KindInvalidRequest)
	}
	writeJSON(w, http.StatusBadRequest, sum)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}
