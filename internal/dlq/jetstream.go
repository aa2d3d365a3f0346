package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/messaging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/metrics"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// StreamPublisher is the part of a JetStream client the queue needs.
type StreamPublisher interface {
	PublishSync(ctx context.Context, msg *messaging.Message) (*jetstream.PubAck, error)
	StreamState(ctx context.Context, name string) (jetstream.StreamState, error)
}

// JetStreamQueue writes failed events to a JetStream stream. It is safe for
// use across multiple bridge instances.
type JetStreamQueue struct {
	js      StreamPublisher
	stream  string
	logger  *logging.Logger
	written atomic.Uint64
}

// NewJetStreamQueue creates a DLQ on stream. The stream must already exist.
func NewJetStreamQueue(js StreamPublisher, stream string, logger *logging.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JetStreamQueue{js: js, stream: stream, logger: logger}, nil
}

// Write publishes a failed event on devicebridge.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, event *model.RawEvent, err error, reason string) error {
	if q == nil {
		return nil
	}

	data, marshalErr := json.Marshal(newFailedEvent(event, err, reason))
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	msg := &messaging.Message{
		Subject: messaging.DLQSubject(reason),
		Data:    data,
		Header:  map[string]string{messaging.HeaderReason: reason},
	}
	if event != nil {
		msg.Header[messaging.HeaderOrigin] = event.OriginID
	}

	if _, pubErr := q.js.PublishSync(ctx, msg); pubErr != nil {
		q.logger.ErrorContext(ctx, "failed to publish DLQ entry", logging.Error(pubErr))
		return fmt.Errorf("publish dlq entry: %w", pubErr)
	}

	q.written.Add(1)
	metrics.DLQWrites.WithLabelValues(reason).Inc()
	q.logger.WarnContext(ctx, "event dead-lettered", logging.Topic(msg.Subject), logging.Error(err))
	return nil
}

// Stats returns DLQ metrics from JetStream.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{
			"enabled": false,
			"backend": "jetstream",
		}
	}

	state, err := q.js.StreamState(ctx, q.stream)
	if err != nil {
		return map[string]interface{}{
			"enabled":       true,
			"backend":       "jetstream",
			"stream":        q.stream,
			"written_local": q.written.Load(),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":        true,
		"backend":        "jetstream",
		"stream":         q.stream,
		"written_local":  q.written.Load(),
		"total_messages": state.Msgs,
		"total_bytes":    state.Bytes,
		"first_seq":      state.FirstSeq,
		"last_seq":       state.LastSeq,
		"consumer_count": state.Consumers,
	}
}
