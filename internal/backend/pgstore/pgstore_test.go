package pgstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/backend/pgstore"
	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/triage"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("WARDEN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WARDEN_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s := pgstore.New(pool)
	if err := s.ApplySchema(ctx); err != nil {
		t.Fatalf("ApplySchema: %v", err)
	}
	return s
}

func TestNew_LeavesSchemaAlone(t *testing.T) {
	t.Parallel()

	// a nil pool panics on first use, so New must not issue any statement
	if s := pgstore.New(nil); s == nil {
		t.Fatal("New returned nil")
	}
}

// uid returns an event id unique to this run so tests can share a database.
func uid(prefix string) event.ID {
	return event.ID(prefix + "-" + strings.ToLower(ulid.Make().String()))
}

func containsID(events []event.Event, id event.ID) (event.Event, bool) {
	for _, ev := range events {
		if ev.ID == id {
			return ev, true
		}
	}
	return event.Event{}, false
}

func TestIngestAndOpenEvents(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := uid("open")
	ev := event.Event{
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		SourceIP:  "192.168.1.100",
		URI:       "/login",
		RuleName:  "SQLi",
		Extra:     map[string]json.RawMessage{"waf_score": json.RawMessage("42")},
	}
	if err := s.Ingest(ctx, ev); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	open, err := s.OpenEvents(ctx, 24, triage.MaxOpenEvents)
	if err != nil {
		t.Fatalf("OpenEvents: %v", err)
	}
	got, ok := containsID(open, id)
	if !ok {
		t.Fatalf("ingested event %s not returned as open", id)
	}
	if got.SourceIP != ev.SourceIP || got.RuleName != ev.RuleName {
		t.Errorf("event = %+v, want fields of %+v", got, ev)
	}
	if string(got.Extra["waf_score"]) != "42" {
		t.Errorf("extra waf_score = %s, want 42", got.Extra["waf_score"])
	}
}

func TestOpenEvents_WindowExcludesOld(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := uid("old")
	old := event.Event{ID: id, Timestamp: time.Now().Add(-72 * time.Hour).UTC().Format(time.RFC3339)}
	if err := s.Ingest(ctx, old); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	open, err := s.OpenEvents(ctx, 24, triage.MaxOpenEvents)
	if err != nil {
		t.Fatalf("OpenEvents: %v", err)
	}
	if _, ok := containsID(open, id); ok {
		t.Errorf("event %s outside the window was returned", id)
	}
}

func TestUpdateEvent_ClosesEvent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := uid("upd")
	if err := s.Ingest(ctx, event.Event{ID: id}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	u := &triage.EventUpdate{
		Severity:   1,
		Analysis:   "benign scanner",
		Status:     triage.StatusClosed,
		AnalyzedAt: time.Now().UTC(),
		AnalyzedBy: triage.AnalyzedByAnalyze,
	}
	if err := s.UpdateEvent(ctx, id, u); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}

	open, _ := s.OpenEvents(ctx, 24, triage.MaxOpenEvents)
	if _, ok := containsID(open, id); ok {
		t.Error("closed event still returned as open")
	}
}

func TestUpdateEvent_Missing(t *testing.T) {
	s := openStore(t)

	err := s.UpdateEvent(context.Background(), uid("missing"), &triage.EventUpdate{Status: triage.StatusClosed})
	if !errors.Is(err, triage.ErrBackendCallFailed) {
		t.Errorf("err = %v, want BackendCallFailed", err)
	}
}

func TestBulkUpdate_RollsBackOnUnknownID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	known := uid("bulk")
	if err := s.Ingest(ctx, event.Event{ID: known}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	u := &triage.EventUpdate{Status: triage.StatusInvestigating, AnalyzedAt: time.Now().UTC()}
	err := s.BulkUpdateEvents(ctx, []event.ID{known, uid("ghost")}, u)
	if !errors.Is(err, triage.ErrBackendCallFailed) {
		t.Fatalf("err = %v, want BackendCallFailed", err)
	}

	open, _ := s.OpenEvents(ctx, 24, triage.MaxOpenEvents)
	if _, ok := containsID(open, known); !ok {
		t.Error("partial bulk update was committed")
	}
}

func TestCampaignEscalation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a, b := uid("camp"), uid("camp")
	if err := s.Ingest(ctx, event.Event{ID: a}, event.Event{ID: b}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	id1, err := s.CreateCampaignEscalation(ctx, &triage.CampaignEscalation{
		CampaignID: "sql_injection_10.0.0.7",
		AttackType: "SQL Injection",
		EventIDs:   []event.ID{a, b},
		Severity:   5,
		Title:      "SQL Injection Campaign - 2 Events",
		Message:    "Campaign sql_injection_10.0.0.7: coordinated probing",
		Detail:     map[string]any{"event_count": 2},
	})
	if err != nil {
		t.Fatalf("CreateCampaignEscalation: %v", err)
	}

	id2, err := s.CreateEscalation(ctx, &triage.Escalation{EventID: a, Severity: 4, Title: "t", Message: "m"})
	if err != nil {
		t.Fatalf("CreateEscalation: %v", err)
	}
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Errorf("escalation ids = %q, %q, want two distinct ids", id1, id2)
	}
}

func TestCampaignEscalation_NoEvents(t *testing.T) {
	s := openStore(t)

	_, err := s.CreateCampaignEscalation(context.Background(), &triage.CampaignEscalation{CampaignID: "empty"})
	if !errors.Is(err, triage.ErrBackendCallFailed) {
		t.Errorf("err = %v, want BackendCallFailed", err)
	}
}
