// Package sink persists inbound device telemetry into a document store,
// creating the target database and collection on first use.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/metrics"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// State is a step of the per-message lifecycle.
type State string

const (
	StateReceived          State = "received"
	StateParsed            State = "parsed"
	StateDatabaseEnsured   State = "database_ensured"
	StateCollectionEnsured State = "collection_ensured"
	StatePersisted         State = "persisted"
	StateRejected          State = "rejected"
	StateFailed            State = "failed"
)

// Ack reports where a message ended up.
type Ack struct {
	State      State            `json:"state"`
	Target     model.SinkTarget `json:"target"`
	DocumentID string           `json:"document_id,omitempty"`
}

// Config selects the database and where the topic is read from.
type Config struct {
	DatabaseID string
	// TopicField is a dotted path into the message, "topic" by default.
	TopicField string
}

// Sink routes messages into a DocumentStore.
type Sink struct {
	cfg    Config
	store  DocumentStore
	logger *logging.Logger

	// ensured caches targets already provisioned by this process.
	ensured sync.Map
}

func New(cfg Config, store DocumentStore, logger *logging.Logger) *Sink {
	if cfg.TopicField == "" {
		cfg.TopicField = "topic"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sink{cfg: cfg, store: store, logger: logger}
}

// Upsert persists one inbound message. The empty-object heartbeat is
// acknowledged as Rejected without touching the store. Malformed messages fail
// with *model.FormatError and provisioning failures with *model.ProvisionError.
func (s *Sink) Upsert(ctx context.Context, event *model.RawEvent) (Ack, error) {
	ack := Ack{State: StateReceived}
	ctx = logging.WithInvocationID(ctx, event.ID)

	body := bytes.TrimSpace(event.Payload)
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return s.finish(ctx, ack, &model.FormatError{Index: -1, Reason: "message is not a JSON object", Err: err})
	}
	if len(doc) == 0 {
		ack.State = StateRejected
		metrics.SinkMessagesTotal.WithLabelValues(string(StateRejected)).Inc()
		s.logger.DebugContext(ctx, "heartbeat message ignored", logging.Origin(event.OriginID))
		return ack, nil
	}

	topic, err := LookupString(doc, s.cfg.TopicField)
	if err != nil {
		return s.finish(ctx, ack, err)
	}
	target, err := ResolveTarget(s.cfg.DatabaseID, topic)
	if err != nil {
		return s.finish(ctx, ack, err)
	}
	ack.Target = target
	ack.State = StateParsed

	if _, ok := s.ensured.Load(target); !ok {
		if err := s.ensureDatabase(ctx, target.DatabaseID); err != nil {
			return s.finish(ctx, ack, err)
		}
		ack.State = StateDatabaseEnsured

		if err := s.ensureCollection(ctx, target); err != nil {
			return s.finish(ctx, ack, err)
		}
		s.ensured.Store(target, struct{}{})
	}
	ack.State = StateCollectionEnsured

	start := time.Now()
	id, err := s.store.Insert(ctx, target, json.RawMessage(body))
	metrics.SinkInsertDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return s.finish(ctx, ack, err)
	}

	ack.State = StatePersisted
	ack.DocumentID = id
	metrics.SinkMessagesTotal.WithLabelValues(string(StatePersisted)).Inc()
	s.logger.InfoContext(ctx, "telemetry persisted",
		logging.Database(target.DatabaseID),
		logging.Collection(target.CollectionID),
		logging.Topic(topic))
	return ack, nil
}

func (s *Sink) ensureDatabase(ctx context.Context, id string) error {
	exists, err := s.store.DatabaseExists(ctx, id)
	if err != nil {
		return &model.ProvisionError{Resource: "database", ID: id, Err: err}
	}
	if exists {
		return nil
	}
	if err := s.store.CreateDatabase(ctx, id); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil
		}
		return &model.ProvisionError{Resource: "database", ID: id, Err: err}
	}
	metrics.SinkProvisionedTotal.WithLabelValues("database").Inc()
	s.logger.InfoContext(ctx, "database created", logging.Database(id))
	return nil
}

func (s *Sink) ensureCollection(ctx context.Context, target model.SinkTarget) error {
	exists, err := s.store.CollectionExists(ctx, target)
	if err != nil {
		return &model.ProvisionError{Resource: "collection", ID: target.CollectionID, Err: err}
	}
	if exists {
		return nil
	}
	if err := s.store.CreateCollection(ctx, target); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil
		}
		return &model.ProvisionError{Resource: "collection", ID: target.CollectionID, Err: err}
	}
	metrics.SinkProvisionedTotal.WithLabelValues("collection").Inc()
	s.logger.InfoContext(ctx, "collection created",
		logging.Database(target.DatabaseID),
		logging.Collection(target.CollectionID))
	return nil
}

func (s *Sink) finish(ctx context.Context, ack Ack, err error) (Ack, error) {
	reached := ack.State
	ack.State = StateFailed
	metrics.SinkMessagesTotal.WithLabelValues(string(StateFailed)).Inc()
	s.logger.ErrorContext(ctx, "telemetry not persisted",
		slog.String("reached", string(reached)),
		logging.Error(err))
	return ack, err
}
