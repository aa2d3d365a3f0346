package dlq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/dlq"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/messaging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishSync(ctx context.Context, msg *messaging.Message) (*jetstream.PubAck, error) {
	args := m.Called(ctx, msg)
	if ack := args.Get(0); ack != nil {
		return ack.(*jetstream.PubAck), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPublisher) StreamState(ctx context.Context, name string) (jetstream.StreamState, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(jetstream.StreamState), args.Error(1)
}

func TestJetStreamQueue_Write(t *testing.T) {
	pub := new(mockPublisher)
	queue, err := dlq.NewJetStreamQueue(pub, "DEVICEBRIDGE_DLQ", logging.Discard())
	require.NoError(t, err)

	event := model.NewRawEvent(model.SourceArtifact, "blob-1.json", []byte(`{"date":1}`))
	cause := &model.FormatError{Index: 0, Field: "name", Reason: "missing field"}

	var published *messaging.Message
	pub.On("PublishSync", mock.Anything, mock.AnythingOfType("*messaging.Message")).
		Run(func(args mock.Arguments) { published = args.Get(1).(*messaging.Message) }).
		Return(&jetstream.PubAck{Stream: "DEVICEBRIDGE_DLQ", Sequence: 1}, nil)

	require.NoError(t, queue.Write(context.Background(), event, cause, dlq.ReasonFormat))
	pub.AssertExpectations(t)

	require.NotNil(t, published)
	assert.Equal(t, "devicebridge.dlq.format", published.Subject)
	assert.Equal(t, "format", published.HeaderValue(messaging.HeaderReason))
	assert.Equal(t, "blob-1.json", published.HeaderValue(messaging.HeaderOrigin))

	var failed dlq.FailedEvent
	require.NoError(t, json.Unmarshal(published.Data, &failed))
	assert.Equal(t, dlq.ReasonFormat, failed.Reason)
	assert.Equal(t, cause.Error(), failed.Error)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.Event)
	assert.Equal(t, event.ID, failed.Event.ID)
	assert.Equal(t, event.Payload, failed.Event.Payload)
}

func TestJetStreamQueue_WritePublishError(t *testing.T) {
	pub := new(mockPublisher)
	queue, err := dlq.NewJetStreamQueue(pub, "DEVICEBRIDGE_DLQ", logging.Discard())
	require.NoError(t, err)

	pub.On("PublishSync", mock.Anything, mock.Anything).Return(nil, errors.New("no stream"))
	err = queue.Write(context.Background(), nil, errors.New("bad"), dlq.ReasonFormat)
	assert.ErrorContains(t, err, "no stream")

	pub.On("StreamState", mock.Anything, "DEVICEBRIDGE_DLQ").Return(jetstream.StreamState{}, errors.New("down"))
	stats := queue.Stats(context.Background())
	assert.Equal(t, uint64(0), stats["written_local"])
	assert.Equal(t, "down", stats["error"])
}

func TestJetStreamQueue_Stats(t *testing.T) {
	pub := new(mockPublisher)
	queue, err := dlq.NewJetStreamQueue(pub, "DEVICEBRIDGE_DLQ", logging.Discard())
	require.NoError(t, err)

	pub.On("StreamState", mock.Anything, "DEVICEBRIDGE_DLQ").
		Return(jetstream.StreamState{Msgs: 3, Bytes: 512, FirstSeq: 1, LastSeq: 3}, nil)

	stats := queue.Stats(context.Background())
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, uint64(3), stats["total_messages"])
	assert.Equal(t, uint64(512), stats["total_bytes"])
}

func TestJetStreamQueue_Nil(t *testing.T) {
	var queue *dlq.JetStreamQueue
	assert.NoError(t, queue.Write(context.Background(), nil, errors.New("x"), "r"))
	assert.Equal(t, false, queue.Stats(context.Background())["enabled"])

	_, err := dlq.NewJetStreamQueue(nil, "s", nil)
	assert.Error(t, err)
}

func TestMemoryQueue(t *testing.T) {
	queue := dlq.NewMemoryQueue()
	event := model.NewRawEvent(model.SourceChangeFeed, "telemetry", []byte(`[]`))

	require.NoError(t, queue.Write(context.Background(), event, errors.New("empty batch"), dlq.ReasonFormat))

	events := queue.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "empty batch", events[0].Error)
	assert.Same(t, event, events[0].Event)
	assert.Equal(t, uint64(1), queue.Stats(context.Background())["written"])
}
