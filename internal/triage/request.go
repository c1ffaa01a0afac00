package triage

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/linnemanlabs/warden/internal/event"
)

// Request is the invocation payload. An empty Action means analyze.
type Request struct {
	Action string       `json:"action,omitempty"`
	Event  *event.Event `json:"event,omitempty"`
	Hours  *int         `json:"hours,omitempty"`
}

// DecodeRequest parses an invocation body. A body of the form
// {"prompt": "<json object>"} is unwrapped first; a prompt string that is not
// a JSON object leaves the body as-is.
func DecodeRequest(body []byte) (*Request, error) {
	if !gjson.ValidBytes(body) {
		return nil, &Error{Kind: KindInvalidRequest, Msg: "body is not valid JSON"}
	}

	if p := gjson.GetBytes(body, "prompt"); p.Type == gjson.String {
		inner := gjson.Parse(p.Str)
		if gjson.Valid(p.Str) && inner.IsObject() {
			body = []byte(p.Str)
		}
	}

	if !gjson.ParseBytes(body).IsObject() {
		return nil, &Error{Kind: KindInvalidRequest, Msg: "body is not a JSON object"}
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Msg: "decode request", Err: err}
	}
	return &req, nil
}
