package triage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/extract"
)

const (
	ResponseTokens  = 4096
	DefaultLLMLimit = 60 * time.Second
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/triage")

// EngineHooks lets callers observe model calls without coupling the engine
// to a metrics backend. Nil fields are skipped.
type EngineHooks struct {
	OnLLMCall func(c *CallInfo, err error)
}

// CallInfo describes one completed model call.
type CallInfo struct {
	Workflow     string  `json:"workflow"`
	Model        string  `json:"model,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Duration     float64 `json:"duration_seconds"`
}

// Engine performs exactly one model call per workflow step and turns the
// raw answer into validated structures.
type Engine struct {
	provider Provider
	logger   log.Logger
	timeout  time.Duration
	hooks    EngineHooks
}

// NewEngine creates a triage engine. A non-positive timeout uses DefaultLLMLimit.
func NewEngine(provider Provider, logger log.Logger, timeout time.Duration, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultLLMLimit
	}
	return &Engine{
		provider: provider,
		logger:   logger,
		timeout:  timeout,
		hooks:    hooks,
	}
}

// Analyze asks the model to score a single event and extracts the result.
func (e *Engine) Analyze(ctx context.Context, ev *event.Event) (*extract.Analysis, *CallInfo, error) {
	raw, info, err := e.call(ctx, WorkflowAnalyze, analystSystemPrompt, buildAnalyzePrompt(ev),
		attribute.String("warden.event.id", ev.ID.String()),
	)
	if err != nil {
		return nil, info, err
	}

	a, err := extract.ParseAnalysis(raw)
	if err != nil {
		e.logger.Warn(ctx, "model answer rejected",
			"workflow", WorkflowAnalyze,
			"event_id", ev.ID,
			"error_kind", KindOf(err),
			"err", err,
		)
		return nil, info, err
	}
	return a, info, nil
}

// Campaigns asks the model to group a batch of events and extracts the
// candidate campaigns. Candidates are unvalidated against the batch; see
// Aggregate.
func (e *Engine) Campaigns(ctx context.Context, events []event.Event) ([]extract.Candidate, *CallInfo, error) {
	raw, info, err := e.call(ctx, WorkflowMonitor, monitorSystemPrompt, buildMonitorPrompt(events),
		attribute.Int("warden.events.count", len(events)),
	)
	if err != nil {
		return nil, info, err
	}

	cands, err := extract.ParseCampaigns(raw)
	if err != nil {
		e.logger.Warn(ctx, "model campaign answer rejected",
			"workflow", WorkflowMonitor,
			"error_kind", KindOf(err),
			"err", err,
		)
		return nil, info, err
	}
	return cands, info, nil
}

func (e *Engine) call(ctx context.Context, workflow, system, prompt string, attrs ...attribute.KeyValue) (string, *CallInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		append(attrs,
			attribute.String("gen_ai.operation.name", "llm.call"),
			attribute.String("warden.workflow", workflow),
			attribute.Int("gen_ai.request.max_tokens", ResponseTokens),
		)...,
	))
	defer span.End()

	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.Int("llm.request.prompt_bytes", len(prompt)),
	))

	start := time.Now()
	resp, err := e.provider.Send(ctx, &LLMRequest{
		MaxTokens: ResponseTokens,
		System:    system,
		Messages: []Message{
			{Role: "user", Content: []ContentBlock{{Type: "text", Text: prompt}}},
		},
	})
	info := &CallInfo{Workflow: workflow, Duration: time.Since(start).Seconds()}

	if err != nil {
		err = &Error{Kind: KindModelCallFailed, Op: workflow, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error(ctx, err, "llm call failed", "workflow", workflow)
		if e.hooks.OnLLMCall != nil {
			e.hooks.OnLLMCall(info, err)
		}
		return "", info, err
	}

	info.Model = resp.Model
	info.StopReason = string(resp.StopReason)
	info.InputTokens = resp.Usage.InputTokens
	info.OutputTokens = resp.Usage.OutputTokens

	text := resp.Text()
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.String("llm.response.stop_reason", string(resp.StopReason)),
		attribute.Int("llm.response.text_bytes", len(text)),
	))

	e.logger.Info(ctx, "llm response",
		"workflow", workflow,
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", info.Duration,
	)
	if e.hooks.OnLLMCall != nil {
		e.hooks.OnLLMCall(info, nil)
	}

	return text, info, nil
}
