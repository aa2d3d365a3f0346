package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	jetstream.ObjectStore
	objects   map[string][]byte
	deleteErr error
	updates   chan *jetstream.ObjectInfo
}

func (f *fakeBucket) GetBytes(_ context.Context, name string, _ ...jetstream.GetObjectOpt) ([]byte, error) {
	data, ok := f.objects[name]
	if !ok {
		return nil, jetstream.ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeBucket) Delete(_ context.Context, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.objects[name]; !ok {
		return jetstream.ErrObjectNotFound
	}
	delete(f.objects, name)
	return nil
}

func (f *fakeBucket) GetInfo(_ context.Context, name string, _ ...jetstream.GetObjectInfoOpt) (*jetstream.ObjectInfo, error) {
	if _, ok := f.objects[name]; !ok {
		return nil, jetstream.ErrObjectNotFound
	}
	return &jetstream.ObjectInfo{ObjectMeta: jetstream.ObjectMeta{Name: name}}, nil
}

func (f *fakeBucket) Watch(context.Context, ...jetstream.WatchOpt) (jetstream.ObjectWatcher, error) {
	return fakeWatcher{f.updates}, nil
}

type fakeWatcher struct {
	ch chan *jetstream.ObjectInfo
}

func (w fakeWatcher) Updates() <-chan *jetstream.ObjectInfo { return w.ch }
func (w fakeWatcher) Stop() error                          { return nil }

func TestObjectStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bucket := &fakeBucket{objects: map[string][]byte{"a": []byte("x")}}
	s := NewObjectStore(bucket)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	bucket.deleteErr = errors.New("jetstream unavailable")
	assert.Error(t, s.Delete(ctx, "a"))
}

func TestObjectStore_GetAndExists(t *testing.T) {
	ctx := context.Background()
	s := NewObjectStore(&fakeBucket{objects: map[string][]byte{"a": []byte("x")}})

	data, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObjectStore_WatchSkipsMarkerAndDeletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *jetstream.ObjectInfo, 4)
	updates <- &jetstream.ObjectInfo{ObjectMeta: jetstream.ObjectMeta{Name: "old"}, Size: 3}
	updates <- nil
	updates <- &jetstream.ObjectInfo{ObjectMeta: jetstream.ObjectMeta{Name: "gone"}, Deleted: true}
	updates <- &jetstream.ObjectInfo{ObjectMeta: jetstream.ObjectMeta{Name: "new"}, Size: 5}
	close(updates)

	out, err := NewObjectStore(&fakeBucket{updates: updates}).Watch(ctx)
	require.NoError(t, err)

	var names []string
	for obj := range out {
		names = append(names, obj.Name)
	}
	assert.Equal(t, []string{"old", "new"}, names)
}
