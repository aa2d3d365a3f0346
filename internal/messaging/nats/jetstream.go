package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/messaging"
)

// JetStreamClient extends Client with streams and object stores.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// DLQStreamConfig returns the dead-letter stream definition. Entries are kept
// for maxAge so operators can inspect and replay them.
func DLQStreamConfig(name string, maxAge time.Duration) StreamConfig {
	return StreamConfig{
		Name:      name,
		Subjects:  []string{messaging.SubjectDLQAll},
		MaxAge:    maxAge,
		MaxBytes:  512 * 1024 * 1024,
		MaxMsgs:   1000000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
}

// NewJetStreamClient connects to NATS and opens a JetStream context.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// StreamState returns the current message and byte counts of a stream.
func (c *JetStreamClient) StreamState(ctx context.Context, name string) (jetstream.StreamState, error) {
	stream, err := c.js.Stream(ctx, name)
	if err != nil {
		return jetstream.StreamState{}, fmt.Errorf("failed to get stream %s: %w", name, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return jetstream.StreamState{}, fmt.Errorf("failed to get stream info %s: %w", name, err)
	}
	return info.State, nil
}

// PublishSync publishes msg to JetStream and waits for the stream acknowledgement.
func (c *JetStreamClient) PublishSync(ctx context.Context, msg *messaging.Message) (*jetstream.PubAck, error) {
	return c.js.PublishMsg(ctx, toNATS(msg))
}

// ObjectStore opens bucket, creating it on first use.
func (c *JetStreamClient) ObjectStore(ctx context.Context, bucket string) (jetstream.ObjectStore, error) {
	store, err := c.js.ObjectStore(ctx, bucket)
	if err == nil {
		return store, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to open object store %s: %w", bucket, err)
	}

	store, err = c.js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:  bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			return c.js.ObjectStore(ctx, bucket)
		}
		return nil, fmt.Errorf("failed to create object store %s: %w", bucket, err)
	}
	return store, nil
}

// IsNotFound reports whether err means a JetStream object or stream is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrObjectNotFound) ||
		errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrObjectNotFound)
}
