package extract

import (
	"fmt"
	"unicode/utf8"
)

// SnippetLen bounds how much upstream text an error may echo.
const SnippetLen = 200

// Kind classifies an extraction failure.
type Kind string

const (
	// KindMalformedJSON means no JSON object could be parsed out of the text.
	KindMalformedJSON Kind = "MalformedJSON"

	// KindMissingField means a required key is absent or null.
	KindMissingField Kind = "MissingField"

	// KindInvalidSeverity means the severity is not an integer in [0,5].
	KindInvalidSeverity Kind = "InvalidSeverity"

	// KindUpstreamInvalid means the object parsed but is structurally
	// unusable, e.g. the campaign list is missing.
	KindUpstreamInvalid Kind = "UpstreamInvalid"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrMalformedJSON   = &Error{Kind: KindMalformedJSON}
	ErrMissingField    = &Error{Kind: KindMissingField}
	ErrInvalidSeverity = &Error{Kind: KindInvalidSeverity}
	ErrUpstreamInvalid = &Error{Kind: KindUpstreamInvalid}
)

// Error is a typed extraction failure.
type Error struct {
	Kind    Kind
	Field   string // offending key, if any
	Value   string // offending raw value, truncated
	Reason  string
	Snippet string // leading input text, at most SnippetLen runes
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (value %s)", e.Value)
	}
	return msg
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func malformed(raw, reason string) *Error {
	return &Error{Kind: KindMalformedJSON, Reason: reason, Snippet: Truncate(raw, SnippetLen)}
}

func missing(field string) *Error {
	return &Error{Kind: KindMissingField, Field: field, Reason: "required field absent"}
}

func invalidSeverity(raw, reason string) *Error {
	return &Error{Kind: KindInvalidSeverity, Field: "severity_rating", Value: Truncate(raw, 40), Reason: reason}
}
