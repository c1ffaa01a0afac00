package triage

import "github.com/linnemanlabs/warden/internal/extract"

// Action is the triage outcome applied to an event or campaign.
type Action string

const (
	ActionAutoClose Action = "auto_close"
	ActionMonitor   Action = "monitor"
	ActionEscalate  Action = "escalate"
)

// EventStatus is the backend status written for an event.
type EventStatus string

const (
	StatusClosed        EventStatus = "closed"
	StatusOpen          EventStatus = "open"
	StatusInvestigating EventStatus = "investigating"
)

// NotifyCritical is the only urgency the triage table emits.
const NotifyCritical = "critical"

// Decision is the deterministic routing for a severity score.
type Decision struct {
	ActionTaken          Action      `json:"action_taken"`
	StatusUpdate         EventStatus `json:"status_update"`
	Escalate             bool        `json:"escalate"`
	NotificationRequired bool        `json:"notification_required"`
	NotificationType     string      `json:"notification_type,omitempty"`
}

// Classify maps a severity to its triage decision.
//
//	0..2 -> auto_close / closed
//	3    -> monitor / open
//	4..5 -> escalate / investigating, critical notification
//
// Out-of-range input is clamped so the function stays total; validated
// severities never reach that path.
func Classify(severity int) Decision {
	severity = max(extract.MinSeverity, min(severity, extract.MaxSeverity))

	switch {
	case severity <= 2:
		return Decision{ActionTaken: ActionAutoClose, StatusUpdate: StatusClosed}
	case severity == 3:
		return Decision{ActionTaken: ActionMonitor, StatusUpdate: StatusOpen}
	default:
		return Decision{
			ActionTaken:          ActionEscalate,
			StatusUpdate:         StatusInvestigating,
			Escalate:             true,
			NotificationRequired: true,
			NotificationType:     NotifyCritical,
		}
	}
}
