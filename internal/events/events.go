// Package events provides the in-process broker that fans session events
// out to SSE subscribers, the assist engine, and internal logs.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/pkg/logger"
)

// Kind identifies the type of a broadcast event.
type Kind string

const (
	KindPhaseChange        Kind = "phase_change"
	KindReviewSubmitted    Kind = "review_submitted"
	KindOpinionSubmitted   Kind = "opinion_submitted"
	KindIssueCreated       Kind = "issue_created"
	KindIssueStatusChanged Kind = "issue_status_changed"
	KindAgentStatus        Kind = "agent_status"
	KindAgentActivity      Kind = "agent_activity"
	KindAgentConfigChanged Kind = "agent_config_changed"
)

// Event is a single broadcast message. Data carries the kind-specific
// payload and is serialized as-is by the SSE adapter.
type Event struct {
	Kind      Kind           `json:"kind"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// DefaultQueueSize is the per-subscriber pending queue limit.
const DefaultQueueSize = 256

// MaxSessionSubscribers bounds how many subscribers one session can hold.
// Above the limit the oldest subscriber of that session is closed, so a
// client leaking reconnects cannot accumulate pump goroutines.
const MaxSessionSubscribers = 32

// Bus is a per-process broker. Each subscriber owns a bounded queue and a
// pump goroutine, so a slow SSE client never stalls the publisher. Within a
// subscriber, events of a session are delivered in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates an empty broker.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription is a single subscriber's handle. Read events from C and call
// Close when done.
type Subscription struct {
	bus       *Bus
	id        uint64
	sessionID string // "" subscribes to every session

	mu     sync.Mutex
	queue  []Event
	limit  int
	closed bool

	notify chan struct{}
	done   chan struct{}

	// C delivers events in order. It is closed by Close.
	C chan Event
}

// Subscribe registers a subscriber for one session, or for all sessions when
// sessionID is empty. queueSize <= 0 uses DefaultQueueSize. When a session
// already holds MaxSessionSubscribers, its oldest subscriber is closed to
// make room.
func (b *Bus) Subscribe(sessionID string, queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	sub := &Subscription{
		bus:       b,
		sessionID: sessionID,
		limit:     queueSize,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		C:         make(chan Event),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.C)
		sub.closed = true
		return sub
	}
	evicted := b.evictOldestLocked(sessionID)
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()

	if evicted != nil {
		logger.Warn("Session subscriber limit reached, closing oldest",
			zap.String("session_id", sessionID))
		evicted.shutdown()
	}

	go sub.pump()
	return sub
}

// evictOldestLocked removes the oldest subscriber of a session once the
// session is at its subscriber limit. Subscription IDs are monotonic, so the
// lowest ID is the oldest. Caller must hold b.mu and shut the returned
// subscription down after releasing it.
func (b *Bus) evictOldestLocked(sessionID string) *Subscription {
	if sessionID == "" {
		return nil
	}
	count := 0
	var oldest *Subscription
	for _, sub := range b.subs {
		if sub.sessionID != sessionID {
			continue
		}
		count++
		if oldest == nil || sub.id < oldest.id {
			oldest = sub
		}
	}
	if count < MaxSessionSubscribers {
		return nil
	}
	delete(b.subs, oldest.id)
	return oldest
}

// Publish broadcasts an event to every matching subscriber. Delivery is
// best-effort: activity events may be dropped under backpressure, other
// kinds are coalesced instead of dropped.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != evt.SessionID {
			continue
		}
		sub.enqueue(evt)
	}
}

// SubscriberCount returns the number of subscribers matching a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, sub := range b.subs {
		if sub.sessionID == "" || sub.sessionID == sessionID {
			count++
		}
	}
	return count
}

// Close shuts down the broker and all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// enqueue appends an event, applying the overflow policy when the queue is
// full: activity events evict the oldest queued activity event or are
// dropped outright; all other kinds coalesce with the newest queued event of
// the same kind, falling back to evicting a queued activity event, and only
// then growing the queue (phase and opinion events are never lost).
func (s *Subscription) enqueue(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if len(s.queue) < s.limit {
		s.queue = append(s.queue, evt)
		s.signal()
		return
	}

	if evt.Kind == KindAgentActivity {
		if s.evictOldestActivity() {
			s.queue = append(s.queue, evt)
			s.signal()
			return
		}
		logger.Debug("Dropping activity event for slow subscriber",
			zap.String("session_id", evt.SessionID))
		return
	}

	if last := len(s.queue) - 1; last >= 0 &&
		s.queue[last].Kind == evt.Kind && s.queue[last].SessionID == evt.SessionID {
		s.queue[last] = evt
		s.signal()
		return
	}

	if !s.evictOldestActivity() {
		logger.Debug("Subscriber queue over limit, growing",
			zap.String("kind", string(evt.Kind)),
			zap.String("session_id", evt.SessionID))
	}
	s.queue = append(s.queue, evt)
	s.signal()
}

// evictOldestActivity removes the oldest queued activity event.
// Caller must hold s.mu.
func (s *Subscription) evictOldestActivity() bool {
	for i, queued := range s.queue {
		if queued.Kind == KindAgentActivity {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump moves events from the pending queue to the delivery channel.
func (s *Subscription) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			evt := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.C <- evt:
			case <-s.done:
				return
			}
		}
	}
}

// Close unsubscribes and releases the subscription.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	close(s.done)
	close(s.C)
}

// PhaseChange builds a phase transition event.
func PhaseChange(sessionID string, from, to model.Phase) Event {
	return Event{
		Kind:      KindPhaseChange,
		SessionID: sessionID,
		Data: map[string]any{
			"from": string(from),
			"to":   string(to),
		},
	}
}

// ReviewSubmitted builds an event for a reviewer finishing its pass.
func ReviewSubmitted(sessionID, modelID string, turn, issuesRaised int) Event {
	return Event{
		Kind:      KindReviewSubmitted,
		SessionID: sessionID,
		Data: map[string]any{
			"model_id":      modelID,
			"turn":          turn,
			"issues_raised": issuesRaised,
		},
	}
}

// OpinionSubmitted builds an event for a new opinion on an issue.
func OpinionSubmitted(sessionID, issueID, modelID string, action model.OpinionAction) Event {
	return Event{
		Kind:      KindOpinionSubmitted,
		SessionID: sessionID,
		Data: map[string]any{
			"issue_id": issueID,
			"model_id": modelID,
			"action":   string(action),
		},
	}
}

// IssueCreated builds an event for a canonical issue entering the session.
func IssueCreated(sessionID, issueID string, displayNumber int, severity model.Severity) Event {
	return Event{
		Kind:      KindIssueCreated,
		SessionID: sessionID,
		Data: map[string]any{
			"issue_id":       issueID,
			"display_number": displayNumber,
			"severity":       string(severity),
		},
	}
}

// IssueStatusChanged builds an event for a consensus or progress change.
func IssueStatusChanged(sessionID, issueID, status string) Event {
	return Event{
		Kind:      KindIssueStatusChanged,
		SessionID: sessionID,
		Data: map[string]any{
			"issue_id": issueID,
			"status":   status,
		},
	}
}

// AgentStatus builds an event for a reviewer status transition.
func AgentStatus(sessionID, modelID string, status model.AgentStatus, reason string) Event {
	data := map[string]any{
		"model_id": modelID,
		"status":   string(status),
	}
	if reason != "" {
		data["reason"] = reason
	}
	return Event{Kind: KindAgentStatus, SessionID: sessionID, Data: data}
}

// AgentActivity builds an event for a tool invocation or file access
// observed in a reviewer's output stream.
func AgentActivity(sessionID, modelID, activity string) Event {
	return Event{
		Kind:      KindAgentActivity,
		SessionID: sessionID,
		Data: map[string]any{
			"model_id": modelID,
			"activity": activity,
		},
	}
}

// AgentConfigChanged builds an event for a roster edit.
func AgentConfigChanged(sessionID, modelID string) Event {
	return Event{
		Kind:      KindAgentConfigChanged,
		SessionID: sessionID,
		Data: map[string]any{
			"model_id": modelID,
		},
	}
}
