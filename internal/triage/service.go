package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/extract"
)

// Lookback window bounds for the monitor workflow, in hours.
const (
	DefaultHours = 24
	MaxHours     = 720
)

// Backend operation names, used for spans, metrics and ActionError.Action.
const (
	OpOpenEvents         = "open_events"
	OpUpdateEvent        = "update_event"
	OpBulkUpdateEvents   = "bulk_update_events"
	OpCreateEscalation   = "create_escalation"
	OpCampaignEscalation = "create_campaign_escalation"
	OpNotify             = "notify"
)

// Service is the business boundary for triage operations.
type Service struct {
	backend  Backend
	engine   *Engine
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	now      func() time.Time
}

// NewService creates a triage service. metrics and notifier may be nil.
func NewService(backend Backend, engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		backend:  backend,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		now:      time.Now,
	}
}

// NormalizeHours applies the monitor lookback default and ceiling.
func NormalizeHours(h int) int {
	if h <= 0 {
		return DefaultHours
	}
	return min(h, MaxHours)
}

// Invoke dispatches a request on its action. It never returns a nil summary.
func (s *Service) Invoke(ctx context.Context, req *Request) *Summary {
	id := ulid.Make().String()

	if req == nil {
		return s.reject(ctx, id, "", &Error{Kind: KindInvalidRequest, Msg: "empty request"})
	}

	switch req.Action {
	case "", WorkflowAnalyze:
		if req.Event == nil || req.Event.ID == "" {
			return s.reject(ctx, id, WorkflowAnalyze, &Error{Kind: KindInvalidRequest, Op: WorkflowAnalyze, Msg: "event with an id is required"})
		}
		return s.analyze(ctx, id, req.Event)
	case WorkflowMonitor:
		var hours int
		if req.Hours != nil {
			hours = *req.Hours
		}
		return s.monitor(ctx, id, hours)
	default:
		return s.reject(ctx, id, "", &Error{
			Kind: KindUnsupportedAction,
			Msg:  fmt.Sprintf("unsupported action %q", extract.Truncate(req.Action, 64)),
		})
	}
}

// Analyze runs the single-event workflow.
func (s *Service) Analyze(ctx context.Context, ev *event.Event) *Summary {
	return s.Invoke(ctx, &Request{Action: WorkflowAnalyze, Event: ev})
}

// Monitor runs the campaign sweep over open events from the last hours.
func (s *Service) Monitor(ctx context.Context, hours int) *Summary {
	return s.Invoke(ctx, &Request{Action: WorkflowMonitor, Hours: &hours})
}

func (s *Service) reject(ctx context.Context, id, workflow string, err error) *Summary {
	sum := &Summary{Workflow: workflow, InvocationID: id}
	fail(sum, err)
	s.logger.Warn(ctx, "invocation rejected",
		"invocation_id", id,
		"error_kind", sum.ErrorKind,
		"err", err,
	)
	s.metrics.observeInvocation(workflow, sum.Status, 0)
	return sum
}

func (s *Service) analyze(ctx context.Context, id string, ev *event.Event) *Summary {
	start := time.Now()
	evID := ev.ID
	sum := &Summary{Workflow: WorkflowAnalyze, InvocationID: id, EventID: &evID}

	L := s.logger.With("invocation_id", id, "workflow", WorkflowAnalyze, "event_id", ev.ID)
	ctx = log.WithContext(ctx, L)
	ctx, span := tracer.Start(ctx, "triage.analyze", trace.WithAttributes(
		attribute.String("warden.invocation.id", id),
		attribute.String("warden.event.id", ev.ID.String()),
	))
	defer func() {
		span.SetAttributes(attribute.String("warden.status", sum.Status))
		span.End()
		s.metrics.observeInvocation(WorkflowAnalyze, sum.Status, time.Since(start))
	}()

	a, info, err := s.engine.Analyze(ctx, ev)
	if info != nil {
		sum.Model = info.Model
	}
	if err != nil {
		s.metrics.observeExtraction(WorkflowAnalyze, err)
		span.SetStatus(codes.Error, err.Error())
		fail(sum, err)
		return sum
	}

	dec := Classify(a.Severity)
	s.metrics.observeDecision(WorkflowAnalyze, dec)
	sum.Analysis = a
	sum.Triage = &dec
	sum.BackendActions = make(map[string]bool, 3)

	L.Info(ctx, "event classified",
		"severity", a.Severity,
		"attack_type", a.AttackType,
		"action", dec.ActionTaken,
	)

	upd := &EventUpdate{
		Severity:        a.Severity,
		Analysis:        a.SecurityAnalysis,
		Recommendations: a.RecommendedActions,
		Status:          dec.StatusUpdate,
		AnalyzedAt:      s.now().UTC(),
		AnalyzedBy:      AnalyzedByAnalyze,
	}
	err = s.backendCall(ctx, L, OpUpdateEvent, func(ctx context.Context) error {
		return s.backend.UpdateEvent(ctx, ev.ID, upd)
	})
	sum.BackendActions[ActionAnalysisUpdated] = err == nil
	recordAction(sum, OpUpdateEvent, "", err)

	if dec.Escalate {
		var escID string
		esc := &Escalation{
			EventID:  ev.ID,
			Severity: a.Severity,
			Title:    fmt.Sprintf("%s - Event %s", orDefault(a.AttackType, "Security Incident"), ev.ID),
			Message:  fmt.Sprintf("Event %s: %s", ev.ID, a.SecurityAnalysis),
			Detail:   eventDetail(ev),
		}
		err = s.backendCall(ctx, L, OpCreateEscalation, func(ctx context.Context) error {
			var cerr error
			escID, cerr = s.backend.CreateEscalation(ctx, esc)
			return cerr
		})
		s.metrics.observeEscalation(WorkflowAnalyze, err)
		sum.BackendActions[ActionEscalationCreated] = err == nil
		sum.EscalationID = escID
		recordAction(sum, OpCreateEscalation, "", err)
	}

	if dec.NotificationRequired && s.notifier != nil {
		err = s.notify(ctx, L, &Notification{
			Title:        fmt.Sprintf("%s - Event %s", orDefault(a.AttackType, "Security Incident"), ev.ID),
			Message:      a.SecurityAnalysis,
			Urgency:      dec.NotificationType,
			Severity:     a.Severity,
			AttackType:   a.AttackType,
			Workflow:     WorkflowAnalyze,
			InvocationID: id,
			EventID:      ev.ID,
			EventCount:   1,
			EscalationID: sum.EscalationID,
			CreatedAt:    s.now().UTC(),
		})
		sum.BackendActions[ActionNotificationSent] = err == nil
		recordAction(sum, OpNotify, "", err)
	}

	sum.Status = StatusSuccess
	L.Info(ctx, "analyze complete",
		"action", dec.ActionTaken,
		"escalation_id", sum.EscalationID,
		"action_errors", len(sum.ActionErrors),
		"duration", time.Since(start).Seconds(),
	)
	return sum
}

func (s *Service) monitor(ctx context.Context, id string, hours int) *Summary {
	start := time.Now()
	hours = NormalizeHours(hours)
	sum := &Summary{Workflow: WorkflowMonitor, InvocationID: id}

	L := s.logger.With("invocation_id", id, "workflow", WorkflowMonitor, "hours", hours)
	ctx = log.WithContext(ctx, L)
	ctx, span := tracer.Start(ctx, "triage.monitor", trace.WithAttributes(
		attribute.String("warden.invocation.id", id),
		attribute.Int("warden.monitor.hours", hours),
	))
	defer func() {
		span.SetAttributes(attribute.String("warden.status", sum.Status))
		span.End()
		s.metrics.observeInvocation(WorkflowMonitor, sum.Status, time.Since(start))
	}()

	var events []event.Event
	err := s.backendCall(ctx, L, OpOpenEvents, func(ctx context.Context) error {
		var ferr error
		events, ferr = s.backend.OpenEvents(ctx, hours, MaxOpenEvents)
		return ferr
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		fail(sum, asBackendError(OpOpenEvents, err))
		return sum
	}
	if len(events) > MaxOpenEvents {
		events = events[:MaxOpenEvents]
	}

	scanned := len(events)
	sum.EventsScanned = &scanned
	if scanned == 0 {
		zero := 0
		sum.CampaignsDetected = &zero
		sum.Status = StatusSuccess
		sum.Message = "no open events to analyze"
		L.Info(ctx, "no open events")
		return sum
	}

	cands, info, err := s.engine.Campaigns(ctx, events)
	if info != nil {
		sum.Model = info.Model
	}
	if err != nil {
		s.metrics.observeExtraction(WorkflowMonitor, err)
		span.SetStatus(codes.Error, err.Error())
		fail(sum, err)
		return sum
	}

	campaigns, rejections := Aggregate(events, cands)
	s.metrics.observeCampaigns(campaigns, len(rejections))
	for _, r := range rejections {
		L.Warn(ctx, "campaign rejected",
			"index", r.Index,
			"campaign_id", r.CampaignID,
			"error_kind", r.Kind,
			"reason", r.Reason,
		)
	}

	bulk := &BulkActions{EscalationIDs: []string{}}
	reports := make([]CampaignReport, 0, len(campaigns))
	for i := range campaigns {
		reports = append(reports, s.executeCampaign(ctx, L, id, &campaigns[i], bulk, sum))
	}

	detected := len(campaigns)
	sum.CampaignsDetected = &detected
	sum.CampaignsRejected = len(rejections)
	sum.Campaigns = reports
	sum.Rejections = rejections
	sum.BulkActions = bulk
	sum.Status = StatusSuccess

	L.Info(ctx, "monitor complete",
		"events_scanned", scanned,
		"campaigns_detected", detected,
		"campaigns_rejected", len(rejections),
		"events_updated", bulk.TotalEventsUpdated,
		"escalations_created", bulk.EscalationsCreated,
		"duration", time.Since(start).Seconds(),
	)
	return sum
}

// executeCampaign applies one bulk update and at most one escalation for a
// campaign. Failures are recorded on sum and never abort the sweep.
func (s *Service) executeCampaign(ctx context.Context, L log.Logger, id string, c *Campaign, bulk *BulkActions, sum *Summary) CampaignReport {
	rep := CampaignReport{Campaign: *c}
	L = L.With("campaign_id", c.CampaignID)
	s.metrics.observeDecision(WorkflowMonitor, c.Decision)

	if len(c.DroppedEventIDs) > 0 {
		L.Warn(ctx, "campaign ids dropped", "dropped", c.DroppedEventIDs)
	}

	upd := &EventUpdate{
		Severity:        c.Severity,
		Analysis:        c.SecurityAnalysis,
		Recommendations: c.RecommendedActions,
		Status:          c.Decision.StatusUpdate,
		AnalyzedAt:      s.now().UTC(),
		AnalyzedBy:      AnalyzedByMonitor,
	}
	err := s.backendCall(ctx, L, OpBulkUpdateEvents, func(ctx context.Context) error {
		return s.backend.BulkUpdateEvents(ctx, c.EventIDs, upd)
	})
	if err == nil {
		rep.EventsUpdated = len(c.EventIDs)
		bulk.TotalEventsUpdated += len(c.EventIDs)
	}
	recordAction(sum, OpBulkUpdateEvents, c.CampaignID, err)

	if c.Decision.Escalate {
		var escID string
		esc := &CampaignEscalation{
			CampaignID: c.CampaignID,
			AttackType: c.AttackType,
			EventIDs:   c.EventIDs,
			Severity:   c.Severity,
			Title:      fmt.Sprintf("%s Campaign - %d Events", orDefault(c.AttackType, "Attack"), len(c.EventIDs)),
			Message:    fmt.Sprintf("Campaign %s: %s", c.CampaignID, c.SecurityAnalysis),
			Detail: map[string]any{
				"campaign_id":        c.CampaignID,
				"attack_type":        c.AttackType,
				"event_count":        len(c.EventIDs),
				"affected_event_ids": c.EventIDs,
			},
		}
		err = s.backendCall(ctx, L, OpCampaignEscalation, func(ctx context.Context) error {
			var cerr error
			escID, cerr = s.backend.CreateCampaignEscalation(ctx, esc)
			return cerr
		})
		s.metrics.observeEscalation(WorkflowMonitor, err)
		if err == nil {
			rep.EscalationCreated = true
			rep.EscalationID = escID
			bulk.EscalationsCreated++
			if escID != "" {
				bulk.EscalationIDs = append(bulk.EscalationIDs, escID)
			}
		}
		recordAction(sum, OpCampaignEscalation, c.CampaignID, err)
	}

	if c.Decision.NotificationRequired && s.notifier != nil {
		err = s.notify(ctx, L, &Notification{
			Title:        fmt.Sprintf("%s Campaign - %d Events", orDefault(c.AttackType, "Attack"), len(c.EventIDs)),
			Message:      c.SecurityAnalysis,
			Urgency:      c.Decision.NotificationType,
			Severity:     c.Severity,
			AttackType:   c.AttackType,
			Workflow:     WorkflowMonitor,
			InvocationID: id,
			CampaignID:   c.CampaignID,
			EventCount:   len(c.EventIDs),
			EscalationID: rep.EscalationID,
			CreatedAt:    s.now().UTC(),
		})
		if err == nil {
			rep.NotificationSent = true
			bulk.NotificationsSent++
		}
		recordAction(sum, OpNotify, c.CampaignID, err)
	}

	L.Info(ctx, "campaign processed",
		"events", len(c.EventIDs),
		"severity", c.Severity,
		"action", c.Decision.ActionTaken,
		"escalation_id", rep.EscalationID,
	)
	return rep
}

// backendCall runs one backend operation under its own span and records its
// outcome. Errors are normalized to KindBackendCallFailed.
func (s *Service) backendCall(ctx context.Context, L log.Logger, op string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "backend."+op, trace.WithAttributes(
		attribute.String("warden.backend.op", op),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.observeBackend(op, err, time.Since(start))
	if err == nil {
		return nil
	}

	err = asBackendError(op, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	L.Error(ctx, err, "backend call failed", "op", op)
	return err
}

func (s *Service) notify(ctx context.Context, L log.Logger, n *Notification) error {
	ctx, span := tracer.Start(ctx, "notify", trace.WithAttributes(
		attribute.String("warden.notify.urgency", n.Urgency),
	))
	defer span.End()

	err := s.notifier.Notify(ctx, n)
	s.metrics.observeNotification(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "notification failed")
	}
	return err
}

func asBackendError(op string, err error) error {
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: KindBackendCallFailed, Op: op, Err: err}
}

func fail(sum *Summary, err error) {
	sum.Status = StatusError
	sum.ErrorKind = KindOf(err)
	sum.Message = errorText(err)

	var xe *extract.Error
	if errors.As(err, &xe) {
		sum.RawSnippet = xe.Snippet
	}
}

func recordAction(sum *Summary, action, campaignID string, err error) {
	if err == nil {
		return
	}
	sum.ActionErrors = append(sum.ActionErrors, ActionError{
		Action:     action,
		CampaignID: campaignID,
		Kind:       KindOf(err),
		Message:    errorText(err),
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// eventDetail renders the full event, unmodelled fields included, as an
// escalation detail payload.
func eventDetail(ev *event.Event) map[string]any {
	b, err := json.Marshal(ev)
	if err != nil {
		return map[string]any{"id": ev.ID}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"id": ev.ID}
	}
	return m
}
