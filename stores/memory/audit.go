package memory

import (
	"context"
	"sync"

	"github.com/ged-ministere/gedauth"
)

// AuditRecorder implements gedauth.AuditSink by keeping events in memory.
type AuditRecorder struct {
	mu     sync.Mutex
	events []gedauth.AuditEvent
}

// NewAuditRecorder creates an empty recorder.
func NewAuditRecorder() *AuditRecorder {
	return &AuditRecorder{}
}

func (r *AuditRecorder) Record(ctx context.Context, event gedauth.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events in arrival order.
func (r *AuditRecorder) Events() []gedauth.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]gedauth.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given type were recorded.
func (r *AuditRecorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
