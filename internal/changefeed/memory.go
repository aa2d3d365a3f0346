package changefeed

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests. Writes go through
// transactions so tests can interleave commits the way concurrent database
// writers do.
type MemoryRepository struct {
	mu     sync.Mutex
	docs   []Document
	open   map[int64]*Tx
	seq    int64
	nextTx int64
	leases map[string]*lease
	now    func() time.Time
}

type lease struct {
	checkpoint Cursor
	owner      string
	expires    time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		open:   make(map[int64]*Tx),
		nextTx: 1,
		leases: make(map[string]*lease),
		now:    time.Now,
	}
}

// Tx is an uncommitted write. Its documents take sequence numbers on Append
// but stay invisible until Commit.
type Tx struct {
	repo *MemoryRepository
	id   int64
	docs []Document
}

// Begin opens a write transaction.
func (m *MemoryRepository) Begin() *Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &Tx{repo: m, id: m.nextTx}
	m.nextTx++
	m.open[tx.id] = tx
	return tx
}

// Append stages body and returns its sequence number.
func (tx *Tx) Append(body json.RawMessage) int64 {
	m := tx.repo
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	tx.docs = append(tx.docs, Document{TxID: tx.id, Seq: m.seq, ID: uuid.NewString(), Body: body})
	return m.seq
}

// Commit makes the staged documents visible.
func (tx *Tx) Commit() {
	m := tx.repo
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, d := range tx.docs {
		d.CommittedAt = now
		m.docs = append(m.docs, d)
	}
	delete(m.open, tx.id)
}

// Append commits body as a new document.
func (m *MemoryRepository) Append(_ context.Context, body json.RawMessage) (int64, error) {
	tx := m.Begin()
	seq := tx.Append(body)
	tx.Commit()
	return seq, nil
}

func (m *MemoryRepository) AcquireLease(_ context.Context, feed, owner string, ttl time.Duration) (Cursor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[feed]
	if !ok {
		l = &lease{}
		m.leases[feed] = l
	}
	if l.owner != "" && l.owner != owner && m.now().Before(l.expires) {
		return Cursor{}, false, nil
	}
	l.owner = owner
	l.expires = m.now().Add(ttl)
	return l.checkpoint, true, nil
}

func (m *MemoryRepository) FetchBatch(_ context.Context, after Cursor, limit int) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	horizon := m.nextTx
	for id := range m.open {
		if id < horizon {
			horizon = id
		}
	}

	var out []Document
	for _, d := range m.docs {
		if d.TxID < horizon && after.Less(d.Cursor()) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor().Less(out[j].Cursor()) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) Commit(_ context.Context, feed, owner string, checkpoint Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[feed]
	if !ok || l.owner != owner || m.now().After(l.expires) {
		return ErrLeaseLost
	}
	if l.checkpoint.Less(checkpoint) {
		l.checkpoint = checkpoint
	}
	return nil
}

func (m *MemoryRepository) Release(_ context.Context, feed, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[feed]; ok && l.owner == owner {
		l.owner = ""
	}
	return nil
}

// Checkpoint returns the committed checkpoint of feed.
func (m *MemoryRepository) Checkpoint(feed string) Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[feed]; ok {
		return l.checkpoint
	}
	return Cursor{}
}
