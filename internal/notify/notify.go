// Package notify fans triage notifications out to every configured channel.
package notify

import (
	"context"
	"errors"

	"github.com/linnemanlabs/warden/internal/triage"
)

// Fanout delivers each notification to all of its notifiers.
type Fanout struct {
	notifiers []triage.Notifier
}

// New returns a Fanout over the non-nil notifiers, or nil when there are none
// so callers can skip notification entirely.
func New(notifiers ...triage.Notifier) *Fanout {
	f := &Fanout{}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	if len(f.notifiers) == 0 {
		return nil
	}
	return f
}

// Notify attempts every notifier and joins their errors.
func (f *Fanout) Notify(ctx context.Context, n *triage.Notification) error {
	var errs []error
	for _, nt := range f.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
