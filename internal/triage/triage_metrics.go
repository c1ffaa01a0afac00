package triage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the triage subsystem. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	DecisionsTotal     *prometheus.CounterVec
	ExtractionFailures *prometheus.CounterVec
	LLMCallsTotal      *prometheus.CounterVec
	LLMTokensIn        prometheus.Counter
	LLMTokensOut       prometheus.Counter
	LLMDuration        *prometheus.HistogramVec
	BackendCallsTotal  *prometheus.CounterVec
	BackendDuration    *prometheus.HistogramVec
	CampaignsTotal     *prometheus.CounterVec
	CampaignEvents     prometheus.Histogram
	EscalationsTotal   *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_invocations_total",
			Help: "Total invocations by workflow and final status.",
		}, []string{"workflow", "status"}),
		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_invocation_duration_seconds",
			Help:    "Duration of invocations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"workflow"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_triage_decisions_total",
			Help: "Triage decisions by workflow and action taken.",
		}, []string{"workflow", "action"}),
		ExtractionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_extraction_failures_total",
			Help: "Model answers rejected by the extractor, by error kind.",
		}, []string{"workflow", "kind"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_llm_calls_total",
			Help: "Total LLM provider calls by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"workflow"}),
		BackendCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_backend_calls_total",
			Help: "Backend calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_backend_call_duration_seconds",
			Help:    "Duration of backend calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"op"}),
		CampaignsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_campaigns_total",
			Help: "Model-proposed campaigns by outcome (accepted, rejected).",
		}, []string{"outcome"}),
		CampaignEvents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_campaign_events",
			Help:    "Events per accepted campaign.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_escalations_total",
			Help: "Escalations requested by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_notifications_total",
			Help: "Critical notifications by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.InvocationsTotal,
		m.InvocationDuration,
		m.DecisionsTotal,
		m.ExtractionFailures,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.BackendCallsTotal,
		m.BackendDuration,
		m.CampaignsTotal,
		m.CampaignEvents,
		m.EscalationsTotal,
		m.NotificationsTotal,
	)

	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Hooks returns EngineHooks that record LLM call metrics.
func (m *Metrics) Hooks() EngineHooks {
	if m == nil {
		return EngineHooks{}
	}
	return EngineHooks{
		OnLLMCall: func(c *CallInfo, err error) {
			m.LLMCallsTotal.WithLabelValues(c.Workflow, outcome(err)).Inc()
			m.LLMDuration.WithLabelValues(c.Workflow).Observe(c.Duration)
			m.LLMTokensIn.Add(float64(c.InputTokens))
			m.LLMTokensOut.Add(float64(c.OutputTokens))
		},
	}
}

func (m *Metrics) observeInvocation(workflow, status string, d time.Duration) {
	if m == nil {
		return
	}
	if workflow == "" {
		workflow = "unknown"
	}
	m.InvocationsTotal.WithLabelValues(workflow, status).Inc()
	m.InvocationDuration.WithLabelValues(workflow).Observe(d.Seconds())
}

func (m *Metrics) observeDecision(workflow string, d Decision) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(workflow, string(d.ActionTaken)).Inc()
}

func (m *Metrics) observeExtraction(workflow string, err error) {
	if m == nil || err == nil {
		return
	}
	kind := KindOf(err)
	if kind == "" {
		kind = "unknown"
	}
	m.ExtractionFailures.WithLabelValues(workflow, kind).Inc()
}

func (m *Metrics) observeBackend(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendCallsTotal.WithLabelValues(op, outcome(err)).Inc()
	m.BackendDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) observeCampaigns(accepted []Campaign, rejected int) {
	if m == nil {
		return
	}
	m.CampaignsTotal.WithLabelValues("accepted").Add(float64(len(accepted)))
	m.CampaignsTotal.WithLabelValues("rejected").Add(float64(rejected))
	for i := range accepted {
		m.CampaignEvents.Observe(float64(len(accepted[i].EventIDs)))
	}
}

func (m *Metrics) observeEscalation(workflow string, err error) {
	if m == nil {
		return
	}
	m.EscalationsTotal.WithLabelValues(workflow, outcome(err)).Inc()
}

func (m *Metrics) observeNotification(err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(outcome(err)).Inc()
}
