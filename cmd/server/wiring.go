package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/backend/memstore"
	"github.com/linnemanlabs/warden/internal/backend/pgstore"
	"github.com/linnemanlabs/warden/internal/backend/rest"
	vc "github.com/linnemanlabs/warden/internal/cfg"
	"github.com/linnemanlabs/warden/internal/notify"
	"github.com/linnemanlabs/warden/internal/notify/shout"
	"github.com/linnemanlabs/warden/internal/notify/slack"
	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/sweep"
	"github.com/linnemanlabs/warden/internal/triage"
)

// openBackend builds the event backend selected by appCfg. The returned
// cleanup func is never nil.
func openBackend(ctx context.Context, appCfg *vc.Config, L log.Logger, reg prometheus.Registerer) (triage.Backend, func(), error) {
	noop := func() {}

	switch appCfg.BackendMode() {
	case vc.BackendREST:
		c, err := rest.New(appCfg.BackendURL, time.Duration(appCfg.BackendTimeoutSeconds)*time.Second)
		if err != nil {
			return nil, noop, fmt.Errorf("rest backend: %w", err)
		}
		L.Info(ctx, "using REST backend", "backend_url", appCfg.BackendURL, "timeout_s", appCfg.BackendTimeoutSeconds)
		return c, noop, nil

	case vc.BackendPostgres:
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres pool: %w", err)
		}
		store := pgstore.New(pool)
		if appCfg.DatabaseApplySchema {
			if err := store.ApplySchema(ctx); err != nil {
				pool.Close()
				return nil, noop, err
			}
			L.Warn(ctx, "applied event schema to database", "reason", "database-apply-schema set")
		}

		// Register per-query DB duration histogram and wire the observer.
		dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_db_query_duration_seconds",
			Help:    "Duration of individual database queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"trigger", "route", "outcome"})
		reg.MustRegister(dbQueryDuration)

		postgres.SetQueryObserver(postgres.QueryObserverFunc(
			func(_ context.Context, trigger, route, outcome string, dur time.Duration) {
				dbQueryDuration.WithLabelValues(trigger, route, outcome).Observe(dur.Seconds())
			},
		))
		L.Info(ctx, "using postgres backend")
		return store, pool.Close, nil

	default:
		L.Warn(ctx, "using in-memory backend (no backend-url or database-url configured)")
		return memstore.New(), noop, nil
	}
}

// buildNotifier returns the configured notifiers behind one fanout, or a nil
// interface when none are configured.
func buildNotifier(ctx context.Context, appCfg *vc.Config, L log.Logger) (triage.Notifier, error) {
	var notifiers []triage.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, slack.New(appCfg.SlackWebhookURL))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	if urls := appCfg.NotifyURLList(); len(urls) > 0 {
		s, err := shout.New(urls)
		if err != nil {
			return nil, fmt.Errorf("notify urls: %w", err)
		}
		notifiers = append(notifiers, s)
		L.Info(ctx, "notifier enabled", "type", "shoutrrr", "services", s.Len())
	}

	// notify.New returns a nil *Fanout; keep it out of the interface.
	if f := notify.New(notifiers...); f != nil {
		return f, nil
	}
	return nil, nil
}

// startSweep schedules the monitor sweep when one is configured and returns
// its shutdown func, which waits for a running sweep or ctx.
func startSweep(ctx context.Context, appCfg *vc.Config, L log.Logger, svc sweep.Monitor) (func(context.Context) error, error) {
	if appCfg.MonitorSchedule == "" {
		return func(context.Context) error { return nil }, nil
	}

	sched, err := sweep.New(ctx, L, svc, appCfg.MonitorSchedule, appCfg.MonitorHours)
	if err != nil {
		return nil, fmt.Errorf("monitor schedule: %w", err)
	}
	sched.Start()
	L.Info(ctx, "scheduled monitor sweep", "schedule", appCfg.MonitorSchedule, "hours", appCfg.MonitorHours, "next_run", sched.Next())

	return func(ctx context.Context) error {
		select {
		case <-sched.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil
}
