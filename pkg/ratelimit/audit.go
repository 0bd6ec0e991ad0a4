package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEventType enumerates the kinds of security events the engine
// appends (spec.md §3, §4.8).
type AuditEventType string

const (
	AuditNewUser            AuditEventType = "new_user"
	AuditRateLimitExceeded  AuditEventType = "rate_limit_exceeded"
	AuditConfigurationChange AuditEventType = "configuration_change"
)

// AuditEvent is one entry in the bounded ring (spec.md §3).
type AuditEvent struct {
	ID        string
	Timestamp time.Time
	Type      AuditEventType
	Identity  string
	Endpoint  string
	Tier      string
	Region    string
	// Detail carries type-specific context: for configuration_change, a
	// human-readable description of the policy that changed.
	Detail string
}

// AuditFilter narrows Query results by any subset of identity, type, and a
// minimum start time (spec.md §4.8).
type AuditFilter struct {
	Identity  string
	Type      AuditEventType
	StartTime time.Time
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if f.Identity != "" && f.Identity != e.Identity {
		return false
	}
	if f.Type != "" && f.Type != e.Type {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	return true
}

// AuditLog is the bounded in-memory ring of security events (C8). FIFO
// eviction applies once the ring reaches capacity.
type AuditLog struct {
	mu       sync.Mutex
	events   []AuditEvent
	capacity int
	enabled  bool
}

// DefaultAuditCapacity matches spec.md §3's "default capacity 1000".
const DefaultAuditCapacity = 1000

// NewAuditLog creates an audit log with the given ring capacity. A capacity
// <= 0 falls back to DefaultAuditCapacity.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{
		events:   make([]AuditEvent, 0, capacity),
		capacity: capacity,
		enabled:  true,
	}
}

// SetEnabled toggles logging. When disabled, Append is a no-op but Query
// still works, returning whatever history was recorded before disabling
// (spec.md §4.8).
func (l *AuditLog) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Append pushes event into the ring, assigning it an ID and timestamp if
// unset. FIFO eviction applies once the ring reaches capacity.
func (l *AuditLog) Append(event AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if len(l.events) >= l.capacity {
		// Drop the oldest entry (FIFO) before appending.
		l.events = append(l.events[1:], event)
		return
	}
	l.events = append(l.events, event)
}

// Query returns a copy of the events matching filter, oldest first.
func (l *AuditLog) Query(filter AuditFilter) []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]AuditEvent, 0, len(l.events))
	for _, e := range l.events {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}
