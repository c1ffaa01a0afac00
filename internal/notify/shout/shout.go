// Package shout delivers triage notifications through shoutrrr service URLs
// (discord://, teams://, telegram://, smtp://, generic:// and the rest).
package shout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/containrrr/shoutrrr"

	"github.com/linnemanlabs/warden/internal/triage"
)

// Notifier sends each notification to every configured service URL.
type Notifier struct {
	urls []string
}

// New validates the service URLs and returns a Notifier. Empty entries are
// ignored.
func New(urls []string) (*Notifier, error) {
	n := &Notifier{}
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, err := shoutrrr.CreateSender(u); err != nil {
			return nil, fmt.Errorf("notify url %s: %w", redact(u), err)
		}
		n.urls = append(n.urls, u)
	}
	return n, nil
}

// Len returns the number of configured service URLs.
func (n *Notifier) Len() int { return len(n.urls) }

// Notify sends n to every service. All services are attempted; failures are
// joined.
func (n *Notifier) Notify(ctx context.Context, note *triage.Notification) error {
	msg := Format(note)

	var errs []error
	for _, u := range n.urls {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := shoutrrr.Send(u, msg); err != nil {
			errs = append(errs, fmt.Errorf("shoutrrr %s: %w", redact(u), err))
		}
	}
	return errors.Join(errs...)
}

// Format renders a notification as plain text for chat services.
func Format(n *triage.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n\n", strings.ToUpper(orDefault(n.Urgency, "info")), n.Title)
	fmt.Fprintf(&b, "Severity: %d/5\n", n.Severity)
	if n.AttackType != "" {
		fmt.Fprintf(&b, "Attack: %s\n", n.AttackType)
	}
	if n.CampaignID != "" {
		fmt.Fprintf(&b, "Campaign: %s (%d events)\n", n.CampaignID, n.EventCount)
	} else if n.EventID != "" {
		fmt.Fprintf(&b, "Event: %s\n", n.EventID)
	}
	if n.EscalationID != "" {
		fmt.Fprintf(&b, "Escalation: %s\n", n.EscalationID)
	}
	if n.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", n.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// redact keeps only the scheme and host so tokens never reach logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Scheme + "://" + u.Host
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
