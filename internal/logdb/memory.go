package logdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/verity-log/verity/internal/entry"
	"github.com/verity-log/verity/internal/sth"
)

// Memory is an in-memory, thread-safe Database implementation. It is
// primarily useful for tests and single-process development setups that do
// not need durability across restarts.
type Memory struct {
	mu      sync.RWMutex
	entries []*entry.Entry
	heads   []*sth.SignedTreeHead
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{}
}

// LookupByIndex implements Database.
func (m *Memory) LookupByIndex(_ context.Context, index int64) (*entry.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= int64(len(m.entries)) {
		return nil, ErrNotFound
	}
	return m.entries[index], nil
}

// CreateSequencedEntry implements Database.
func (m *Memory) CreateSequencedEntry(_ context.Context, e *entry.Entry) error {
	if !e.HasSequence() {
		return fmt.Errorf("entry %x has no sequence number", e.Hash())
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := e.SequenceNumber()
	if seq < int64(len(m.entries)) {
		return ErrSequenceNumberInUse
	}
	if seq != int64(len(m.entries)) {
		return fmt.Errorf("sequence number %d would leave a gap (log size %d)", seq, len(m.entries))
	}
	m.entries = append(m.entries, e)
	return nil
}

// TreeSize implements Database.
func (m *Memory) TreeSize(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

// LatestTreeHead implements Database.
func (m *Memory) LatestTreeHead(_ context.Context) (*sth.SignedTreeHead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.heads) == 0 {
		return nil, ErrNotFound
	}
	return m.heads[len(m.heads)-1], nil
}

// StoreTreeHead implements Database.
func (m *Memory) StoreTreeHead(_ context.Context, head *sth.SignedTreeHead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads = append(m.heads, head)
	return nil
}
