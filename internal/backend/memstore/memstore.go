// Package memstore provides an in-memory implementation of triage.Backend.
// It stands in for the real event backend in development and tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/triage"
)

// Record is an event together with the annotations written to it.
type Record struct {
	Event      event.Event
	ReceivedAt time.Time
	Status     triage.EventStatus
	Update     *triage.EventUpdate
}

// Escalation is a stored escalation of either kind.
type Escalation struct {
	ID         string
	SourceType string
	Single     *triage.Escalation
	Campaign   *triage.CampaignEscalation
	CreatedAt  time.Time
}

// Store holds events and escalations in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	order       []event.ID
	records     map[event.ID]*Record
	escalations []Escalation
	nextEscID   int
	now         func() time.Time
}

// New initializes an empty Store.
func New() *Store {
	return &Store{
		records: make(map[event.ID]*Record),
		now:     time.Now,
	}
}

// Ingest adds open events, received now. Re-ingesting an id replaces the
// event and reopens it.
func (s *Store) Ingest(events ...event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, ev := range events {
		if _, ok := s.records[ev.ID]; !ok {
			s.order = append(s.order, ev.ID)
		}
		s.records[ev.ID] = &Record{Event: ev, ReceivedAt: now, Status: triage.StatusOpen}
	}
}

// Get returns a copy of the record for id.
func (s *Store) Get(id event.ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	cp := *r
	if r.Update != nil {
		u := *r.Update
		cp.Update = &u
	}
	return cp, true
}

// Escalations returns a copy of all escalations in creation order.
func (s *Store) Escalations() []Escalation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.escalations)
}

// OpenEvents returns open events received within the last hours, oldest
// first, at most limit.
func (s *Store) OpenEvents(_ context.Context, hours, limit int) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)
	var out []event.Event
	for _, id := range s.order {
		r := s.records[id]
		if r.Status != triage.StatusOpen || r.ReceivedAt.Before(cutoff) {
			continue
		}
		out = append(out, r.Event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// UpdateEvent annotates a single event.
func (s *Store) UpdateEvent(_ context.Context, id event.ID, u *triage.EventUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(id, u)
}

// BulkUpdateEvents annotates every listed event. It is all-or-nothing: an
// unknown id fails the call before anything is written.
func (s *Store) BulkUpdateEvents(_ context.Context, ids []event.ID, u *triage.EventUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.records[id]; !ok {
			return notFound(id)
		}
	}
	for _, id := range ids {
		_ = s.apply(id, u)
	}
	return nil
}

// CreateEscalation records a single-event escalation.
func (s *Store) CreateEscalation(_ context.Context, esc *triage.Escalation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *esc
	return s.addEscalation(Escalation{SourceType: "waf_event", Single: &cp}), nil
}

// CreateCampaignEscalation records one escalation covering a campaign.
func (s *Store) CreateCampaignEscalation(_ context.Context, esc *triage.CampaignEscalation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *esc
	cp.EventIDs = slices.Clone(esc.EventIDs)
	return s.addEscalation(Escalation{SourceType: "attack_campaign", Campaign: &cp}), nil
}

func (s *Store) apply(id event.ID, u *triage.EventUpdate) error {
	r, ok := s.records[id]
	if !ok {
		return notFound(id)
	}
	cp := *u
	r.Update = &cp
	r.Status = u.Status
	return nil
}

func (s *Store) addEscalation(e Escalation) string {
	s.nextEscID++
	e.ID = fmt.Sprint(s.nextEscID)
	e.CreatedAt = s.now()
	s.escalations = append(s.escalations, e)
	return e.ID
}

func notFound(id event.ID) error {
	return &triage.Error{
		Kind: triage.KindBackendCallFailed,
		Op:   "memstore",
		Msg:  fmt.Sprintf("event %s not found", id),
	}
}
