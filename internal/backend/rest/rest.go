// Package rest implements triage.Backend over the event backend's HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/extract"
	"github.com/linnemanlabs/warden/internal/triage"
)

// DefaultTimeout bounds every backend call.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 10 << 20

// Client talks to the event backend. It never retries.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// New creates a Client for the backend rooted at baseURL. A zero timeout
// uses DefaultTimeout.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type updateBody struct {
	EventIDs           []event.ID `json:"event_ids,omitempty"`
	Severity           int        `json:"severity"`
	AIAnalysis         string     `json:"ai_analysis"`
	FollowUpSuggestion string     `json:"follow_up_suggestion"`
	Status             string     `json:"status"`
	AnalyzedAt         string     `json:"analyzed_at"`
	AnalyzedBy         string     `json:"analyzed_by"`
}

type escalationBody struct {
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	DetailPayload    map[string]any `json:"detail_payload"`
	Severity         int            `json:"severity"`
	SourceType       string         `json:"source_type"`
	SourceWAFEventID *event.ID      `json:"source_waf_event_id"`
}

func newUpdateBody(ids []event.ID, u *triage.EventUpdate) updateBody {
	return updateBody{
		EventIDs:           ids,
		Severity:           u.Severity,
		AIAnalysis:         u.Analysis,
		FollowUpSuggestion: u.Recommendations,
		Status:             string(u.Status),
		AnalyzedAt:         u.AnalyzedAt.UTC().Format(time.RFC3339),
		AnalyzedBy:         u.AnalyzedBy,
	}
}

// OpenEvents fetches open events from the last hours. The backend may answer
// with {"events": [...]} or a bare array.
func (c *Client) OpenEvents(ctx context.Context, hours, limit int) ([]event.Event, error) {
	q := url.Values{}
	q.Set("status", "open")
	q.Set("hours", strconv.Itoa(hours))
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, triage.OpOpenEvents, http.MethodGet, "events", q, nil)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, backendErr(triage.OpOpenEvents, "invalid JSON body", body)
	}
	raw := gjson.ParseBytes(body)
	switch {
	case raw.IsArray():
	case raw.IsObject():
		raw = raw.Get("events")
	default:
		return nil, backendErr(triage.OpOpenEvents, "body is neither an array nor an object", body)
	}
	if !raw.Exists() {
		return nil, nil
	}
	if !raw.IsArray() {
		return nil, backendErr(triage.OpOpenEvents, "events is not an array", body)
	}

	var events []event.Event
	if err := json.Unmarshal([]byte(raw.Raw), &events); err != nil {
		return nil, &triage.Error{Kind: triage.KindBackendCallFailed, Op: triage.OpOpenEvents, Msg: "decode events", Err: err}
	}
	return events, nil
}

// UpdateEvent sends PUT /events/{id}.
func (c *Client) UpdateEvent(ctx context.Context, id event.ID, u *triage.EventUpdate) error {
	_, err := c.do(ctx, triage.OpUpdateEvent, http.MethodPut, "events/"+url.PathEscape(id.String()), nil, newUpdateBody(nil, u))
	return err
}

// BulkUpdateEvents sends POST /events/bulk-update.
func (c *Client) BulkUpdateEvents(ctx context.Context, ids []event.ID, u *triage.EventUpdate) error {
	_, err := c.do(ctx, triage.OpBulkUpdateEvents, http.MethodPost, "events/bulk-update", nil, newUpdateBody(ids, u))
	return err
}

// CreateEscalation sends POST /escalations and returns escalation.id.
func (c *Client) CreateEscalation(ctx context.Context, esc *triage.Escalation) (string, error) {
	id := esc.EventID
	body, err := c.do(ctx, triage.OpCreateEscalation, http.MethodPost, "escalations", nil, escalationBody{
		Title:            esc.Title,
		Message:          esc.Message,
		DetailPayload:    esc.Detail,
		Severity:         esc.Severity,
		SourceType:       "waf_event",
		SourceWAFEventID: &id,
	})
	if err != nil {
		return "", err
	}
	return escalationID(body), nil
}

// CreateCampaignEscalation sends POST /escalations/campaign linked to the
// campaign's first event.
func (c *Client) CreateCampaignEscalation(ctx context.Context, esc *triage.CampaignEscalation) (string, error) {
	detail := make(map[string]any, len(esc.Detail)+2)
	for k, v := range esc.Detail {
		detail[k] = v
	}
	detail["affected_event_ids"] = esc.EventIDs
	detail["event_count"] = len(esc.EventIDs)

	var first *event.ID
	if len(esc.EventIDs) > 0 {
		first = &esc.EventIDs[0]
	}

	body, err := c.do(ctx, triage.OpCampaignEscalation, http.MethodPost, "escalations/campaign", nil, escalationBody{
		Title:            esc.Title,
		Message:          esc.Message,
		DetailPayload:    detail,
		Severity:         esc.Severity,
		SourceType:       "attack_campaign",
		SourceWAFEventID: first,
	})
	if err != nil {
		return "", err
	}
	return escalationID(body), nil
}

// escalationID reads escalation.id, falling back to a top-level id.
func escalationID(body []byte) string {
	if r := gjson.GetBytes(body, "escalation.id"); r.Exists() {
		return r.String()
	}
	return gjson.GetBytes(body, "id").String()
}

func (c *Client) do(ctx context.Context, op, method, rel string, query url.Values, payload any) ([]byte, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, rel)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, &triage.Error{Kind: triage.KindBackendCallFailed, Op: op, Msg: "encode request", Err: err}
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, &triage.Error{Kind: triage.KindBackendCallFailed, Op: op, Msg: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // base url comes from config
	if err != nil {
		return nil, &triage.Error{Kind: triage.KindBackendCallFailed, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &triage.Error{Kind: triage.KindBackendCallFailed, Op: op, Msg: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backendErr(op, fmt.Sprintf("backend returned %d", resp.StatusCode), body)
	}
	return body, nil
}

func backendErr(op, msg string, body []byte) error {
	if len(body) > 0 {
		msg += ": " + extract.Truncate(string(body), extract.SnippetLen)
	}
	return &triage.Error{Kind: triage.KindBackendCallFailed, Op: op, Msg: msg}
}
