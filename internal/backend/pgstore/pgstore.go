// Package pgstore implements triage.Backend directly against the event
// backend's PostgreSQL tables.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/backend/pgstore")

//go:embed schema.sql
var schema string

// Store reads and annotates WAF events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store on pool. The tables are owned by the event backend;
// New never changes them.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ApplySchema creates the backend tables if they are missing. It is for
// local development databases and tests only.
func (s *Store) ApplySchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const eventColumns = `id, occurred_at, action, source_ip, country, uri, http_method,
	rule_name, user_agent, host, extra`

// OpenEvents returns open events from the last hours, oldest first.
func (s *Store) OpenEvents(ctx context.Context, hours, limit int) ([]event.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.OpenEvents", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM waf_events
		 WHERE status = 'open' AND occurred_at >= now() - make_interval(hours => $1)
		 ORDER BY occurred_at, id
		 LIMIT $2`,
		hours, limit,
	)
	if err != nil {
		return nil, fail(span, "query open events", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fail(span, "scan event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "iterate events", err)
	}

	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// UpdateEvent writes the analysis annotation to a single event.
func (s *Store) UpdateEvent(ctx context.Context, id event.ID, u *triage.EventUpdate) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateEvent", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE waf_events SET
			severity = $2, ai_analysis = $3, follow_up_suggestion = $4,
			status = $5, analyzed_at = $6, analyzed_by = $7
		 WHERE id = $1`,
		id.String(), u.Severity, u.Analysis, u.Recommendations, string(u.Status), u.AnalyzedAt, u.AnalyzedBy,
	)
	if err != nil {
		return fail(span, "update event", err)
	}
	if tag.RowsAffected() == 0 {
		return fail(span, "update event", fmt.Errorf("event %s not found", id))
	}
	return nil
}

// BulkUpdateEvents writes one annotation to every listed event in a single
// transaction. Unknown ids roll the whole update back.
func (s *Store) BulkUpdateEvents(ctx context.Context, ids []event.ID, u *triage.EventUpdate) error {
	ctx, span := startSpan(ctx, "pgstore.BulkUpdateEvents", "UPDATE")
	defer span.End()
	span.SetAttributes(attribute.Int("warden.events.count", len(ids)))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, "begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`UPDATE waf_events SET
			severity = $2, ai_analysis = $3, follow_up_suggestion = $4,
			status = $5, analyzed_at = $6, analyzed_by = $7
		 WHERE id = ANY($1)`,
		idStrings(ids), u.Severity, u.Analysis, u.Recommendations, string(u.Status), u.AnalyzedAt, u.AnalyzedBy,
	)
	if err != nil {
		return fail(span, "bulk update events", err)
	}
	if got := tag.RowsAffected(); got != int64(len(ids)) {
		return fail(span, "bulk update events", fmt.Errorf("updated %d of %d events", got, len(ids)))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, "commit", err)
	}
	return nil
}

// CreateEscalation inserts a single-event escalation and returns its id.
func (s *Store) CreateEscalation(ctx context.Context, esc *triage.Escalation) (string, error) {
	ctx, span := startSpan(ctx, "pgstore.CreateEscalation", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fail(span, "begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	id, err := insertEscalation(ctx, tx, esc.Title, esc.Message, esc.Detail, esc.Severity, "waf_event", esc.EventID, []event.ID{esc.EventID})
	if err != nil {
		return "", fail(span, "insert escalation", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fail(span, "commit", err)
	}
	return id, nil
}

// CreateCampaignEscalation inserts one escalation linked to every campaign
// event and returns its id.
func (s *Store) CreateCampaignEscalation(ctx context.Context, esc *triage.CampaignEscalation) (string, error) {
	ctx, span := startSpan(ctx, "pgstore.CreateCampaignEscalation", "INSERT")
	defer span.End()

	if len(esc.EventIDs) == 0 {
		return "", fail(span, "insert campaign escalation", fmt.Errorf("campaign %s has no events", esc.CampaignID))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fail(span, "begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	id, err := insertEscalation(ctx, tx, esc.Title, esc.Message, esc.Detail, esc.Severity, "attack_campaign", esc.EventIDs[0], esc.EventIDs)
	if err != nil {
		return "", fail(span, "insert campaign escalation", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fail(span, "commit", err)
	}
	return id, nil
}

// Ingest inserts or replaces events as open. Used by development seeding
// and integration tests; production events arrive through the backend.
func (s *Store) Ingest(ctx context.Context, events ...event.Event) error {
	ctx, span := startSpan(ctx, "pgstore.Ingest", "UPSERT")
	defer span.End()

	batch := &pgx.Batch{}
	for i := range events {
		ev := &events[i]
		extra, err := json.Marshal(ev.Extra)
		if err != nil {
			return fail(span, "marshal extra", err)
		}
		if ev.Extra == nil {
			extra = []byte("{}")
		}
		occurred := time.Now()
		if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
			occurred = ts
		}
		batch.Queue(`INSERT INTO waf_events (`+eventColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO UPDATE SET
				occurred_at = EXCLUDED.occurred_at, action = EXCLUDED.action,
				source_ip = EXCLUDED.source_ip, country = EXCLUDED.country,
				uri = EXCLUDED.uri, http_method = EXCLUDED.http_method,
				rule_name = EXCLUDED.rule_name, user_agent = EXCLUDED.user_agent,
				host = EXCLUDED.host, extra = EXCLUDED.extra,
				status = 'open', severity = NULL, ai_analysis = NULL,
				follow_up_suggestion = NULL, analyzed_at = NULL, analyzed_by = NULL`,
			ev.ID.String(), occurred, ev.Action, ev.SourceIP, ev.Country, ev.URI,
			ev.HTTPMethod, ev.RuleName, ev.UserAgent, ev.Host, extra,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fail(span, "ingest events", err)
	}
	return nil
}

func insertEscalation(ctx context.Context, tx pgx.Tx, title, message string, detail map[string]any, severity int, sourceType string, source event.ID, linked []event.ID) (string, error) {
	payload, err := json.Marshal(detail)
	if err != nil {
		return "", fmt.Errorf("marshal detail: %w", err)
	}
	if detail == nil {
		payload = []byte("{}")
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO escalations (title, message, detail_payload, severity, source_type, source_waf_event_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		title, message, payload, severity, sourceType, source.String(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert escalation: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO escalation_events (escalation_id, event_id)
		 SELECT $1, unnest($2::text[])
		 ON CONFLICT DO NOTHING`,
		id, idStrings(linked),
	)
	if err != nil {
		return "", fmt.Errorf("link escalation events: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func scanEvent(row pgx.Row) (event.Event, error) {
	var (
		ev       event.Event
		id       string
		occurred time.Time
		extra    []byte
	)
	err := row.Scan(&id, &occurred, &ev.Action, &ev.SourceIP, &ev.Country, &ev.URI,
		&ev.HTTPMethod, &ev.RuleName, &ev.UserAgent, &ev.Host, &extra)
	if err != nil {
		return ev, err
	}
	ev.ID = event.ID(id)
	ev.Timestamp = occurred.UTC().Format(time.RFC3339)

	if len(extra) > 0 {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(extra, &m); err != nil {
			return ev, fmt.Errorf("unmarshal extra for %s: %w", id, err)
		}
		if len(m) > 0 {
			ev.Extra = m
		}
	}
	return ev, nil
}

func idStrings(ids []event.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

// fail records err on the span and wraps it as a backend failure.
func fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return &triage.Error{Kind: triage.KindBackendCallFailed, Op: op, Err: err}
}
