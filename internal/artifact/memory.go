package artifact

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and the normalize command.
type MemoryStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	watchers []*memWatcher
	deletes  map[string]int
}

type memWatcher struct {
	ch   chan Object
	done chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		deletes: make(map[string]int),
	}
}

// Put stores data and notifies watchers.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	m.objects[name] = append([]byte(nil), data...)
	watchers := append([]*memWatcher(nil), m.watchers...)
	m.mu.Unlock()

	obj := Object{Name: name, Size: uint64(len(data)), ModTime: time.Now()}
	for _, w := range watchers {
		select {
		case w.ch <- obj:
		case <-w.done:
		}
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; ok {
		m.deletes[name]++
	}
	delete(m.objects, name)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok, nil
}

// Deletes reports how many times name was actually removed.
func (m *MemoryStore) Deletes(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes[name]
}

// Watch replays present objects then streams later Puts. Put blocks until
// every active watcher has received the object.
func (m *MemoryStore) Watch(ctx context.Context) (<-chan Object, error) {
	w := &memWatcher{ch: make(chan Object), done: make(chan struct{})}
	out := make(chan Object)

	m.mu.Lock()
	existing := make([]Object, 0, len(m.objects))
	for name, data := range m.objects {
		existing = append(existing, Object{Name: name, Size: uint64(len(data))})
	}
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer m.unwatch(w)
		for _, obj := range existing {
			select {
			case out <- obj:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case obj := <-w.ch:
				select {
				case out <- obj:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *MemoryStore) unwatch(w *memWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.watchers {
		if cur == w {
			m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
			break
		}
	}
	close(w.done)
}
