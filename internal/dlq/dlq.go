// Package dlq records events that could not be normalized so they can be
// inspected and replayed.
package dlq

import (
	"context"
	"time"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// Reasons used as the last DLQ subject token.
const (
	ReasonFormat       = "format"
	ReasonNoNormalizer = "no_normalizer"
	ReasonEnvelope     = "envelope"
)

// FailedEvent captures failure details for replay.
type FailedEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Event     *model.RawEvent `json:"event"`
	Error     string          `json:"error"`
	Reason    string          `json:"reason"`
	Attempts  int             `json:"attempts"`
}

// Queue accepts failed events.
type Queue interface {
	Write(ctx context.Context, event *model.RawEvent, err error, reason string) error
	Stats(ctx context.Context) map[string]interface{}
}

func newFailedEvent(event *model.RawEvent, err error, reason string) FailedEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FailedEvent{
		Timestamp: time.Now().UTC(),
		Event:     event,
		Error:     msg,
		Reason:    reason,
		Attempts:  1,
	}
}
