// Package event defines the WAF event model shared by the triage workflows
// and the backend adapters.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is an opaque backend event key. On the wire it may be a JSON number or
// a JSON string; canonical integers are written back as numbers.
type ID string

// UnmarshalJSON accepts a JSON number, string, or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("event id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes canonical integers as numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsNumeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// IsNumeric reports whether the id is a canonical base-10 integer.
func (id ID) IsNumeric() bool {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return false
	}
	return strconv.FormatInt(n, 10) == string(id)
}

func (id ID) String() string { return string(id) }

// Event is a single recorded firewall decision. It is owned by the backend;
// warden only reads and annotates it.
type Event struct {
	ID         ID     `json:"id"`
	Timestamp  string `json:"timestamp,omitempty"`
	Action     string `json:"action,omitempty"`
	SourceIP   string `json:"source_ip,omitempty"`
	Country    string `json:"country,omitempty"`
	URI        string `json:"uri,omitempty"`
	HTTPMethod string `json:"http_method,omitempty"`
	RuleName   string `json:"rule_name,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Host       string `json:"host,omitempty"`

	// Extra holds backend fields warden does not model, so they survive a
	// round trip into escalation detail payloads.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownFields = []string{
	"id", "timestamp", "action", "source_ip", "country", "uri",
	"http_method", "rule_name", "user_agent", "host",
}

// UnmarshalJSON decodes the modelled fields and keeps the rest in Extra.
func (e *Event) UnmarshalJSON(b []byte) error {
	type plain Event
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}

	*e = Event(p)
	return nil
}

// MarshalJSON encodes the modelled fields merged with Extra. Modelled fields
// win on key collisions.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	base, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(e.Extra)+len(knownFields))
	for k, v := range e.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Index maps event ids to their position in a batch.
func Index(events []Event) map[ID]int {
	idx := make(map[ID]int, len(events))
	for i := range events {
		if _, ok := idx[events[i].ID]; !ok {
			idx[events[i].ID] = i
		}
	}
	return idx
}
