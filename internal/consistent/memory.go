package consistent

import (
	"context"
	"sync"

	"github.com/verity-log/verity/internal/entry"
)

// Memory is an in-memory, thread-safe Store implementation for tests and
// single-node development. Its conditional-update semantics mirror the
// clustered backends: a mapping written at a stale revision is rejected.
type Memory struct {
	mu       sync.Mutex
	mappings []Mapping
	revision int64
	pending  map[string]*entry.Entry
	state    *ClusterNodeState
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{pending: make(map[string]*entry.Entry)}
}

// GetClusterNodeState implements Store.
func (m *Memory) GetClusterNodeState(_ context.Context) (*ClusterNodeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, ErrNotFound
	}
	return m.state, nil
}

// SetClusterNodeState implements Store.
func (m *Memory) SetClusterNodeState(_ context.Context, state *ClusterNodeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}

// GetSequenceMapping implements Store.
func (m *Memory) GetSequenceMapping(_ context.Context) (*SequenceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &SequenceMapping{
		Mappings: append([]Mapping(nil), m.mappings...),
		Revision: m.revision,
	}
	return out, nil
}

// UpdateSequenceMapping implements Store.
func (m *Memory) UpdateSequenceMapping(_ context.Context, mapping *SequenceMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mapping.Revision != m.revision {
		return ErrConflict
	}
	m.mappings = append([]Mapping(nil), mapping.Mappings...)
	m.revision++
	return nil
}

// GetPendingEntries implements Store.
func (m *Memory) GetPendingEntries(_ context.Context) ([]*entry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry.Entry, 0, len(m.pending))
	for _, e := range m.pending {
		// Copy so a sequencing round's mutations don't leak back into the
		// store before the mapping write commits.
		clone := *e
		out = append(out, &clone)
	}
	return out, nil
}

// AddPendingEntry implements Store.
func (m *Memory) AddPendingEntry(_ context.Context, e *entry.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[string(e.Hash())]; ok {
		return nil
	}
	m.pending[string(e.Hash())] = e
	return nil
}
