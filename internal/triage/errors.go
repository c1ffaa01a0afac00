package triage

import (
	"errors"

	"github.com/linnemanlabs/warden/internal/extract"
)

// Kind classifies orchestration failures. Extraction failures keep their
// extract.Kind.
type Kind string

const (
	KindUnsupportedAction Kind = "UnsupportedAction"
	KindBackendCallFailed Kind = "BackendCallFailed"
	KindInvalidRequest    Kind = "InvalidRequest"
	KindModelCallFailed   Kind = "ModelCallFailed"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrUnsupportedAction = &Error{Kind: KindUnsupportedAction}
	ErrBackendCallFailed = &Error{Kind: KindBackendCallFailed}
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrModelCallFailed   = &Error{Kind: KindModelCallFailed}
)

// Error is a typed orchestration failure.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind name for any error produced by extract or triage.
func KindOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	var xe *extract.Error
	if errors.As(err, &xe) {
		return string(xe.Kind)
	}
	return ""
}

// errorText bounds error text echoed into summaries.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	return extract.Truncate(err.Error(), extract.SnippetLen)
}
