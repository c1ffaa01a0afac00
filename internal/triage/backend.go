package triage

import (
	"context"
	"time"

	"github.com/linnemanlabs/warden/internal/event"
)

// MaxOpenEvents caps one monitoring sweep regardless of the lookback window.
const MaxOpenEvents = 500

// Backend is the external system of record for WAF events and escalations.
// Implementations return *Error with KindBackendCallFailed for transport,
// timeout and non-2xx failures, and never retry.
type Backend interface {
	OpenEvents(ctx context.Context, hours, limit int) ([]event.Event, error)
	UpdateEvent(ctx context.Context, id event.ID, u *EventUpdate) error
	BulkUpdateEvents(ctx context.Context, ids []event.ID, u *EventUpdate) error
	CreateEscalation(ctx context.Context, esc *Escalation) (string, error)
	CreateCampaignEscalation(ctx context.Context, esc *CampaignEscalation) (string, error)
}

// EventUpdate is the analysis annotation written to one or more events.
type EventUpdate struct {
	Severity        int
	Analysis        string
	Recommendations string
	Status          EventStatus
	AnalyzedAt      time.Time
	AnalyzedBy      string
}

// Escalation asks an operator to review a single event.
type Escalation struct {
	EventID  event.ID
	Severity int
	Title    string
	Message  string
	Detail   map[string]any
}

// CampaignEscalation asks an operator to review a whole campaign.
type CampaignEscalation struct {
	CampaignID string
	AttackType string
	EventIDs   []event.ID
	Severity   int
	Title      string
	Message    string
	Detail     map[string]any
}
