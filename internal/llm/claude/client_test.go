package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/linnemanlabs/warden/internal/triage"
)

const messageReply = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-test",
	"content": [{"type": "text", "text": "{\"severity_rating\": 4}"}],
	"stop_reason": "end_turn",
	"stop_sequence": null,
	"usage": {"input_tokens": 321, "output_tokens": 45}
}`

func TestToSDKMessages_TextBlock(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role:    "user",
		Content: []triage.ContentBlock{{Type: "text", Text: "hello"}},
	}}

	result := toSDKMessages(msgs)

	if len(result) != 1 {
		t.Fatalf("len = %d, want 1", len(result))
	}
	if result[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %q, want user", result[0].Role)
	}
	if len(result[0].Content) != 1 || result[0].Content[0].OfText == nil {
		t.Fatal("expected a single text block")
	}
	if result[0].Content[0].OfText.Text != "hello" {
		t.Errorf("text = %q, want %q", result[0].Content[0].OfText.Text, "hello")
	}
}

func TestToSDKMessages_AssistantAndUnknownBlocks(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role: "assistant",
		Content: []triage.ContentBlock{
			{Type: "text", Text: "prefill"},
			{Type: "image"},
		},
	}}

	result := toSDKMessages(msgs)

	if result[0].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("role = %q, want assistant", result[0].Role)
	}
	if len(result[0].Content) != 1 {
		t.Errorf("content len = %d, want non-text blocks skipped", len(result[0].Content))
	}
}

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "first"},
			{Type: "thinking"},
			{Type: "text", Text: "second"},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Model:      anthropic.Model("claude-test"),
	}

	result := fromSDKResponse(msg)

	if len(result.Content) != 2 {
		t.Fatalf("content len = %d, want 2", len(result.Content))
	}
	if result.Text() != "first\nsecond" {
		t.Errorf("text = %q", result.Text())
	}
	if result.Model != "claude-test" {
		t.Errorf("model = %q", result.Model)
	}
}

func TestFromSDKResponse_StopReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sdk      anthropic.StopReason
		expected triage.StopReason
	}{
		{"end_turn", anthropic.StopReasonEndTurn, triage.StopEnd},
		{"max_tokens", anthropic.StopReasonMaxTokens, triage.StopMaxTokens},
		{"unknown", anthropic.StopReason("refusal"), triage.StopReason("refusal")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := fromSDKResponse(&anthropic.Message{StopReason: tt.sdk})
			if result.StopReason != tt.expected {
				t.Errorf("stop reason = %q, want %q", result.StopReason, tt.expected)
			}
		})
	}
}

func TestFromSDKResponse_Usage(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if result.Usage.InputTokens != 1234 || result.Usage.OutputTokens != 567 {
		t.Errorf("usage = %+v, want 1234/567", result.Usage)
	}
}

func TestSend_RoundTrip(t *testing.T) {
	t.Parallel()

	var (
		body   map[string]any
		apiKey string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		apiKey = r.Header.Get("X-Api-Key")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, messageReply)
	}))
	defer srv.Close()

	c := New("test-key", "claude-test", WithBaseURL(srv.URL), WithTimeout(5*time.Second))

	resp, err := c.Send(context.Background(), &triage.LLMRequest{
		MaxTokens: 4096,
		System:    "You are Warden",
		Messages: []triage.Message{{
			Role:    "user",
			Content: []triage.ContentBlock{{Type: "text", Text: "analyze"}},
		}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if apiKey != "test-key" {
		t.Errorf("api key = %q", apiKey)
	}
	if body["model"] != "claude-test" || body["max_tokens"] != float64(4096) {
		t.Errorf("request body = %v", body)
	}
	system, _ := body["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("system = %v, want one block", body["system"])
	}
	if blk, _ := system[0].(map[string]any); blk["text"] != "You are Warden" {
		t.Errorf("system block = %v", system[0])
	}

	if resp.Text() != `{"severity_rating": 4}` {
		t.Errorf("text = %q", resp.Text())
	}
	if resp.StopReason != triage.StopEnd || resp.Usage.InputTokens != 321 || resp.Usage.OutputTokens != 45 {
		t.Errorf("response = %+v", resp)
	}
}

func TestSend_ErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)
	}))
	defer srv.Close()

	c := New("k", "", WithBaseURL(srv.URL))

	_, err := c.Send(context.Background(), &triage.LLMRequest{
		MaxTokens: 16,
		Messages:  []triage.Message{{Role: "user", Content: []triage.ContentBlock{{Type: "text", Text: "x"}}}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (no retries)", n)
	}
	if c.Model() != DefaultModel {
		t.Errorf("model = %q, want default", c.Model())
	}
}
