package triage

import (
	"context"
	"time"

	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/extract"
)

// Workflow names, also used as the request action discriminator.
const (
	WorkflowAnalyze = "analyze"
	WorkflowMonitor = "monitor"
)

// Summary statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Values written to the backend's analyzed_by field.
const (
	AnalyzedByAnalyze = "warden"
	AnalyzedByMonitor = "warden-monitor"
)

// Flags reported in Summary.BackendActions for the analyze workflow.
const (
	ActionAnalysisUpdated   = "analysis_updated"
	ActionEscalationCreated = "escalation_created"
	ActionNotificationSent  = "notification_sent"
)

// Summary is the single structured result returned for every invocation.
// Workflow-specific fields are omitted when they do not apply.
type Summary struct {
	Status       string `json:"status"`
	Workflow     string `json:"workflow,omitempty"`
	InvocationID string `json:"invocation_id"`
	Message      string `json:"message,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	RawSnippet   string `json:"raw_snippet,omitempty"`
	Model        string `json:"model,omitempty"`

	// analyze
	EventID        *event.ID         `json:"event_id,omitempty"`
	Analysis       *extract.Analysis `json:"analysis,omitempty"`
	Triage         *Decision         `json:"triage,omitempty"`
	BackendActions map[string]bool   `json:"backend_actions_completed,omitempty"`
	EscalationID   string            `json:"escalation_id,omitempty"`

	// monitor
	EventsScanned     *int             `json:"events_scanned,omitempty"`
	CampaignsDetected *int             `json:"campaigns_detected,omitempty"`
	CampaignsRejected int              `json:"campaigns_rejected,omitempty"`
	Campaigns         []CampaignReport `json:"campaigns,omitempty"`
	Rejections        []Rejection      `json:"rejections,omitempty"`
	BulkActions       *BulkActions     `json:"bulk_actions_completed,omitempty"`

	ActionErrors []ActionError `json:"action_errors,omitempty"`
}

// OK reports whether the invocation succeeded. Partial backend failures are
// still a success; they show up in ActionErrors.
func (s *Summary) OK() bool { return s.Status == StatusSuccess }

// CampaignReport is one accepted campaign and what happened to it.
type CampaignReport struct {
	Campaign
	EventsUpdated     int    `json:"events_updated"`
	EscalationID      string `json:"escalation_id,omitempty"`
	EscalationCreated bool   `json:"escalation_created"`
	NotificationSent  bool   `json:"notification_sent"`
}

// BulkActions aggregates side effects of a monitoring sweep.
type BulkActions struct {
	TotalEventsUpdated int      `json:"total_events_updated"`
	EscalationsCreated int      `json:"escalations_created"`
	EscalationIDs      []string `json:"escalation_ids"`
	NotificationsSent  int      `json:"notifications_sent"`
}

// ActionError is a recorded, non-fatal backend or notifier failure.
type ActionError struct {
	Action     string `json:"action"`
	CampaignID string `json:"campaign_id,omitempty"`
	Kind       string `json:"error_kind,omitempty"`
	Message    string `json:"message"`
}

// Notification is sent when a decision requires operator attention.
type Notification struct {
	Title        string
	Message      string
	Urgency      string
	Severity     int
	AttackType   string
	Workflow     string
	InvocationID string
	EventID      event.ID
	CampaignID   string
	EventCount   int
	EscalationID string
	CreatedAt    time.Time
}

// Notifier delivers notifications. Implementations should honor ctx.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}
