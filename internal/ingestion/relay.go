package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/messaging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/sink"
)

// RelayConfig names the subjects and queue groups the relay listens on.
// An empty subject disables that route.
type RelayConfig struct {
	SinkSubject string
	SinkQueue   string
	KeysSubject string
	KeysQueue   string
}

// Relay subscribes to device-relayed messages and routes them into the
// document sink and the key mixer.
type Relay struct {
	cfg    RelayConfig
	client messaging.Client
	sink   *sink.Sink
	keys   messaging.MessageHandler
	logger *logging.Logger

	mu   sync.Mutex
	subs []messaging.Subscription
}

// NewRelay creates a relay. keys may be nil when key mixing is disabled.
func NewRelay(cfg RelayConfig, client messaging.Client, s *sink.Sink, keys messaging.MessageHandler, logger *logging.Logger) *Relay {
	if logger == nil {
		logger = logging.Default()
	}
	return &Relay{cfg: cfg, client: client, sink: s, keys: keys, logger: logger}
}

// Start registers the queue subscriptions.
func (r *Relay) Start() error {
	if r.sink != nil && r.cfg.SinkSubject != "" {
		if err := r.subscribe(r.cfg.SinkSubject, r.cfg.SinkQueue, r.handleSink); err != nil {
			return err
		}
	}
	if r.keys != nil && r.cfg.KeysSubject != "" {
		if err := r.subscribe(r.cfg.KeysSubject, r.cfg.KeysQueue, r.keys); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) subscribe(subject, queue string, handler messaging.MessageHandler) error {
	sub, err := r.client.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	r.logger.Info("relay subscribed", logging.Topic(subject), "queue", queue)
	return nil
}

// Stop removes all subscriptions.
func (r *Relay) Stop() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// relayReply is sent back when the relayed message carries a reply subject.
type relayReply struct {
	sink.Ack
	Error string `json:"error,omitempty"`
}

func (r *Relay) handleSink(ctx context.Context, msg *messaging.Message) error {
	event := model.NewRawEvent(model.SourceRelay, msg.Subject, msg.Data)
	ack, err := r.sink.Upsert(ctx, event)

	if msg.Reply != "" {
		reply := relayReply{Ack: ack}
		if err != nil {
			reply.Error = err.Error()
		}
		data, merr := json.Marshal(reply)
		if merr == nil {
			merr = r.client.Publish(ctx, msg.Reply, data)
		}
		if merr != nil {
			r.logger.WarnContext(ctx, "failed to answer relayed message", logging.Error(merr))
		}
	}

	// Malformed messages are not retried; the sink has logged them.
	if model.IsFormatError(err) {
		return nil
	}
	return err
}
