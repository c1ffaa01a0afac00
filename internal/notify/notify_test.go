package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/warden/internal/triage"
)

type recorder struct {
	calls int
	err   error
}

func (r *recorder) Notify(context.Context, *triage.Notification) error {
	r.calls++
	return r.err
}

func TestNew_NilWhenEmpty(t *testing.T) {
	t.Parallel()

	if f := New(); f != nil {
		t.Error("expected nil fanout with no notifiers")
	}
	if f := New(nil, nil); f != nil {
		t.Error("expected nil fanout with only nil notifiers")
	}
}

func TestFanout_AttemptsAll(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a, b, c := &recorder{}, &recorder{err: boom}, &recorder{}

	err := New(a, nil, b, c).Notify(context.Background(), &triage.Notification{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Errorf("calls = %d/%d/%d, want 1/1/1", a.calls, b.calls, c.calls)
	}
}

func TestFanout_Success(t *testing.T) {
	t.Parallel()

	a := &recorder{}
	if err := New(a).Notify(context.Background(), &triage.Notification{}); err != nil {
		t.Errorf("Notify: %v", err)
	}
}
