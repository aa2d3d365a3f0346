package dlq

import (
	"context"
	"sync"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/metrics"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// MemoryQueue keeps failed events in process. Used when no NATS stream is
// configured and in tests.
type MemoryQueue struct {
	mu     sync.Mutex
	events []FailedEvent
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Write(_ context.Context, event *model.RawEvent, err error, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, newFailedEvent(event, err, reason))
	metrics.DLQWrites.WithLabelValues(reason).Inc()
	return nil
}

// Events returns a copy of the recorded events.
func (q *MemoryQueue) Events() []FailedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]FailedEvent, len(q.events))
	copy(out, q.events)
	return out
}

func (q *MemoryQueue) Stats(context.Context) map[string]interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return map[string]interface{}{
		"enabled": true,
		"backend": "memory",
		"written": uint64(len(q.events)),
	}
}
