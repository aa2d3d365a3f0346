package artifact

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	natsclient "github.com/telhawk-systems/telhawk-devicebridge/internal/messaging/nats"
)

// ObjectStore is a Store backed by a NATS JetStream object store bucket.
type ObjectStore struct {
	store jetstream.ObjectStore
}

// NewObjectStore wraps an opened bucket.
func NewObjectStore(store jetstream.ObjectStore) *ObjectStore {
	return &ObjectStore{store: store}
}

func (s *ObjectStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.store.GetBytes(ctx, name)
	if err != nil {
		if natsclient.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("get artifact %s: %w", name, err)
	}
	return data, nil
}

func (s *ObjectStore) Delete(ctx context.Context, name string) error {
	if err := s.store.Delete(ctx, name); err != nil && !natsclient.IsNotFound(err) {
		return fmt.Errorf("delete artifact %s: %w", name, err)
	}
	return nil
}

func (s *ObjectStore) Exists(ctx context.Context, name string) (bool, error) {
	info, err := s.store.GetInfo(ctx, name)
	if err != nil {
		if natsclient.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat artifact %s: %w", name, err)
	}
	return !info.Deleted, nil
}

// Put stores data under name.
func (s *ObjectStore) Put(ctx context.Context, name string, data []byte) error {
	if _, err := s.store.PutBytes(ctx, name, data); err != nil {
		return fmt.Errorf("put artifact %s: %w", name, err)
	}
	return nil
}

func (s *ObjectStore) Watch(ctx context.Context) (<-chan Object, error) {
	w, err := s.store.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch artifacts: %w", err)
	}

	out := make(chan Object)
	go func() {
		defer close(out)
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case info, ok := <-w.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values.
				if info == nil || info.Deleted {
					continue
				}
				select {
				case out <- Object{Name: info.Name, Size: info.Size, ModTime: info.ModTime}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
