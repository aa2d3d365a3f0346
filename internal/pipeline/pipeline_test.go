package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/artifact"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/cleanup"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/dlq"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/normalizer"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req model.DispatchRequest) (model.DispatchResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.DispatchResult), args.Error(1)
}

type failingStore struct {
	*artifact.MemoryStore
}

func (failingStore) Delete(context.Context, string) error { return errors.New("permission denied") }

const (
	recordA = `{"date":1700000000,"name":"boiler","type":"temperature","value":71.5,"min":60,"max":90,"boolValue":0}`
	recordB = `{"date":1700000060,"name":"boiler","type":"temperature","value":72,"min":60,"max":90,"boolValue":true}`
)

var target = Target{DeviceID: "sensor-7", Method: "ingestTelemetry", Timeout: 5 * time.Second}

type fixture struct {
	store      *artifact.MemoryStore
	dispatcher *mockDispatcher
	dead       *dlq.MemoryQueue
	pipeline   *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      artifact.NewMemoryStore(),
		dispatcher: new(mockDispatcher),
		dead:       dlq.NewMemoryQueue(),
	}
	f.pipeline = New(normalizer.Default("data"), f.dispatcher,
		cleanup.NewCoordinator(f.store, logging.Discard()), f.dead, target, logging.Discard())
	return f
}

func artifactEvent(t *testing.T, store *artifact.MemoryStore, name, payload string) *model.RawEvent {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), name, []byte(payload)))
	event := model.NewRawEvent(model.SourceArtifact, name, []byte(payload))
	event.ArtifactRef = name
	return event
}

func TestProcess_SuccessDeletesArtifact(t *testing.T) {
	f := newFixture(t)
	event := artifactEvent(t, f.store, "blob-1.json", recordA+"\n"+recordB+"\n")

	var sent model.DispatchRequest
	f.dispatcher.On("Dispatch", mock.Anything, mock.AnythingOfType("model.DispatchRequest")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(model.DispatchRequest) }).
		Return(model.DispatchResult{Status: 200}, nil).Once()

	out, err := f.pipeline.Process(context.Background(), event)
	require.NoError(t, err)
	f.dispatcher.AssertExpectations(t)

	assert.True(t, out.Dispatched)
	assert.True(t, out.Cleaned)
	assert.Equal(t, 2, out.Records)
	assert.NoError(t, out.CleanupErr)

	assert.Equal(t, "sensor-7", sent.DeviceID)
	assert.Equal(t, "ingestTelemetry", sent.Method)
	assert.Equal(t, 5*time.Second, sent.Timeout)

	var env map[string][]map[string]any
	require.NoError(t, json.Unmarshal(sent.Payload, &env))
	require.Len(t, env["data"], 2)
	assert.Equal(t, 71.5, env["data"][0]["value"])
	assert.Equal(t, float64(1), env["data"][1]["boolValue"])

	exists, err := f.store.Exists(context.Background(), "blob-1.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProcess_FormatErrorSkipsDispatch(t *testing.T) {
	f := newFixture(t)
	missingValue := `{"date":1,"name":"b","type":"t","min":0,"max":2,"boolValue":0}`
	event := artifactEvent(t, f.store, "blob-2.json", recordA+"\n"+missingValue)

	out, err := f.pipeline.Process(context.Background(), event)
	require.Error(t, err)

	var fe *model.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "value", fe.Field)
	assert.Equal(t, 1, fe.Index)

	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	assert.False(t, out.Dispatched)
	assert.True(t, out.DeadLettered)

	exists, err := f.store.Exists(context.Background(), "blob-2.json")
	require.NoError(t, err)
	assert.True(t, exists, "artifact must be kept")

	events := f.dead.Events()
	require.Len(t, events, 1)
	assert.Equal(t, dlq.ReasonFormat, events[0].Reason)
	assert.Equal(t, event.ID, events[0].Event.ID)
}

func TestProcess_NonSuccessStatusKeepsArtifact(t *testing.T) {
	f := newFixture(t)
	event := artifactEvent(t, f.store, "blob-3.json", recordA)

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).
		Return(model.DispatchResult{Status: 503, Payload: json.RawMessage(`"busy"`)}, nil)

	out, err := f.pipeline.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, out.Dispatched)
	assert.True(t, out.Rejected)
	assert.Equal(t, 503, out.Status)
	assert.False(t, out.Cleaned)
	assert.Zero(t, f.store.Deletes("blob-3.json"))
}

func TestProcess_TransportErrorKeepsArtifact(t *testing.T) {
	f := newFixture(t)
	event := artifactEvent(t, f.store, "blob-4.json", recordA)

	transportErr := &model.TransportError{DeviceID: "sensor-7", Method: "ingestTelemetry", Reason: "timeout"}
	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(model.DispatchResult{}, transportErr)

	out, err := f.pipeline.Process(context.Background(), event)
	assert.True(t, model.IsTransportError(err))
	assert.False(t, out.Dispatched)
	assert.Zero(t, f.store.Deletes("blob-4.json"))
	assert.Empty(t, f.dead.Events())
}

func TestProcess_CleanupFailureIsNotFatal(t *testing.T) {
	store := artifact.NewMemoryStore()
	dispatcher := new(mockDispatcher)
	p := New(normalizer.Default("data"), dispatcher,
		cleanup.NewCoordinator(failingStore{store}, logging.Discard()), nil, target, logging.Discard())

	event := artifactEvent(t, store, "blob-5.json", recordA)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(model.DispatchResult{Status: 204}, nil)

	out, err := p.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, out.Dispatched)
	assert.False(t, out.Cleaned)
	assert.True(t, model.IsCleanupError(out.CleanupErr))
}

func TestProcess_ChangeFeedHasNoCleanup(t *testing.T) {
	f := newFixture(t)
	event := model.NewRawEvent(model.SourceChangeFeed, "telemetry", []byte("["+recordA+","+recordB+"]"))

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(model.DispatchResult{Status: 200}, nil)

	out, err := f.pipeline.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, out.Dispatched)
	assert.False(t, out.Cleaned)
	assert.Equal(t, 2, out.Records)
}

func TestProcess_UnsupportedSource(t *testing.T) {
	f := newFixture(t)
	out, err := f.pipeline.Process(context.Background(), model.NewRawEvent(model.SourceRelay, "x", []byte(`{}`)))
	assert.True(t, model.IsFormatError(err))
	assert.True(t, out.DeadLettered)
	require.Len(t, f.dead.Events(), 1)
	assert.Equal(t, dlq.ReasonNoNormalizer, f.dead.Events()[0].Reason)
}

func TestProcessor_Health(t *testing.T) {
	f := newFixture(t)
	proc := NewProcessor(f.pipeline)

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(model.DispatchResult{Status: 500}, nil).Once()
	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(model.DispatchResult{Status: 200}, nil)

	_, err := proc.Process(context.Background(), artifactEvent(t, f.store, "a", recordA))
	require.NoError(t, err)
	_, err = proc.Process(context.Background(), artifactEvent(t, f.store, "b", recordA))
	require.NoError(t, err)
	_, err = proc.Process(context.Background(), artifactEvent(t, f.store, "c", `{"date":`))
	require.Error(t, err)

	stats := proc.Health()
	assert.Equal(t, uint64(2), stats.Processed)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Zero(t, stats.CleanupFailed)
}

func TestProcess_NilPipeline(t *testing.T) {
	var p *Pipeline
	_, err := p.Process(context.Background(), &model.RawEvent{})
	assert.Error(t, err)
}
