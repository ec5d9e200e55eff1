package authcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/authcore/logger"
)

// AuditEventType names what an audit event records.
type AuditEventType string

const (
	AuditPermissionCreated    AuditEventType = "permission_created"
	AuditPermissionUpdated    AuditEventType = "permission_updated"
	AuditPermissionDeleted    AuditEventType = "permission_deleted"
	AuditRoleCreated          AuditEventType = "role_created"
	AuditRoleUpdated          AuditEventType = "role_updated"
	AuditRoleDeleted          AuditEventType = "role_deleted"
	AuditRoleAssigned         AuditEventType = "role_assigned"
	AuditRoleUnassigned       AuditEventType = "role_unassigned"
	AuditPolicyCreated        AuditEventType = "policy_created"
	AuditPolicyUpdated        AuditEventType = "policy_updated"
	AuditPolicyDeleted        AuditEventType = "policy_deleted"
	AuditAuthorizationAllowed AuditEventType = "authorization_allowed"
	AuditAuthorizationDenied  AuditEventType = "authorization_denied"
)

// AuditEvent is a structured compliance record.
type AuditEvent struct {
	ID            string         `json:"id"`
	Type          AuditEventType `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	ActorID       string         `json:"actor_id,omitempty"`
	TenantID      string         `json:"tenant_id,omitempty"`
	EntityType    string         `json:"entity_type,omitempty"`
	EntityID      string         `json:"entity_id,omitempty"`
	PreviousState any            `json:"previous_state,omitempty"`
	NewState      any            `json:"new_state,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AuditSink receives audit events. It is called from a background worker,
// never from the request path.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, ev AuditEvent) error

func (f AuditSinkFunc) Record(ctx context.Context, ev AuditEvent) error { return f(ctx, ev) }

// NoopAuditSink discards every event.
type NoopAuditSink struct{}

func (NoopAuditSink) Record(context.Context, AuditEvent) error { return nil }

// MemoryAuditSink keeps events in memory (useful for tests)
type MemoryAuditSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewMemoryAuditSink() *MemoryAuditSink { return &MemoryAuditSink{} }

func (m *MemoryAuditSink) Record(_ context.Context, ev AuditEvent) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events in arrival order.
func (m *MemoryAuditSink) Events() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

// ============================================================================
// ASYNC DISPATCH
// ============================================================================

// DefaultAuditBuffer is the capacity of the audit queue.
const DefaultAuditBuffer = 1024

// auditDispatcher hands events to a sink on a single worker goroutine.
// Emit never blocks: when the queue is full the event is dropped and logged.
type auditDispatcher struct {
	sink AuditSink
	log  logger.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan AuditEvent
	done   chan struct{}
}

func newAuditDispatcher(sink AuditSink, buffer int, log logger.Logger) *auditDispatcher {
	d := &auditDispatcher{sink: sink, log: log}
	if _, noop := sink.(NoopAuditSink); noop {
		return d
	}
	if buffer <= 0 {
		buffer = DefaultAuditBuffer
	}
	d.ch = make(chan AuditEvent, buffer)
	d.done = make(chan struct{})
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.done)
	bg := context.Background()
	for ev := range d.ch {
		d.deliver(bg, ev)
	}
}

func (d *auditDispatcher) deliver(ctx context.Context, ev AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("audit sink panicked", "event", string(ev.Type), "panic", fmt.Sprint(r))
		}
	}()
	if err := d.sink.Record(ctx, ev); err != nil {
		d.log.Error("audit sink failed", "event", string(ev.Type), "entity_id", ev.EntityID, "err", err)
	}
}

func (d *auditDispatcher) emit(ev AuditEvent) {
	if d.ch == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.log.Warn("audit queue full, event dropped", "event", string(ev.Type), "entity_id", ev.EntityID)
	}
}

// close stops accepting events and waits for queued ones to be delivered.
func (d *auditDispatcher) close() {
	if d.ch == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	<-d.done
}
