// Package consistent is the node's view of the cluster-replicated consistency
// store: pending submissions, the shared hash-to-sequence-number mapping, and
// per-node published state.
//
// Two implementations of the Store interface are provided:
//   - Memory: in-process, for testing and single-node development.
//   - ZK: backed by a ZooKeeper ensemble, for clustered deployments.
//
// The mapping update is conditional: a write that races a concurrent writer
// fails with ErrConflict instead of silently merging, so sequencing rounds
// are all-or-nothing. Sequence numbers are allocated from the same mapping
// snapshot that is written back, which puts allocation under the same
// conditional check.
package consistent

import (
	"context"
	"errors"
	"fmt"

	"github.com/verity-log/verity/internal/entry"
	"github.com/verity-log/verity/internal/sth"
)

// ErrNotFound reports that the requested state does not exist yet. For a
// node's cluster state this is the normal first-boot condition.
var ErrNotFound = errors.New("consistent: not found")

// ErrConflict reports that a conditional mapping update lost a race with a
// concurrent writer. The caller retries the whole sequencing round; nothing
// was applied.
var ErrConflict = errors.New("consistent: conflicting concurrent update")

// Mapping binds one entry hash to its permanent sequence number.
type Mapping struct {
	EntryHash      []byte `json:"entry_hash"`
	SequenceNumber int64  `json:"sequence_number"`
}

// SequenceMapping is the cluster-wide hash-to-sequence-number mapping.
// Revision identifies the version that was read; UpdateSequenceMapping only
// succeeds if the stored mapping still has that revision.
type SequenceMapping struct {
	Mappings []Mapping `json:"mappings"`
	Revision int64     `json:"-"`
}

// Add appends a new hash-to-sequence binding.
func (m *SequenceMapping) Add(hash []byte, seq int64) {
	m.Mappings = append(m.Mappings, Mapping{EntryHash: hash, SequenceNumber: seq})
}

// NextSequenceNumber returns the lowest sequence number not bound in this
// snapshot of the mapping. Allocating from the snapshot that is later written
// back conditionally puts allocation under the same revision check as the
// bindings: a concurrent allocator forces ErrConflict instead of handing two
// hashes the same number.
func (m *SequenceMapping) NextSequenceNumber() int64 {
	var next int64
	for _, b := range m.Mappings {
		if b.SequenceNumber >= next {
			next = b.SequenceNumber + 1
		}
	}
	return next
}

// ByHash indexes the mapping by entry hash. An error is returned if the same
// hash appears twice: the mapping's core invariant is one sequence number per
// hash, forever.
func (m *SequenceMapping) ByHash() (map[string]int64, error) {
	byHash := make(map[string]int64, len(m.Mappings))
	for _, b := range m.Mappings {
		if _, dup := byHash[string(b.EntryHash)]; dup {
			return nil, fmt.Errorf("hash %x mapped twice", b.EntryHash)
		}
		byHash[string(b.EntryHash)] = b.SequenceNumber
	}
	return byHash, nil
}

// ClusterNodeState is one node's published state: its identity and the newest
// signed tree head it has produced. Read once at startup to seed timestamp
// bookkeeping; written by the publisher after each new head.
type ClusterNodeState struct {
	NodeID    string              `json:"node_id"`
	NewestSTH *sth.SignedTreeHead `json:"newest_sth,omitempty"`
}

// Store is the consistency-store contract.
type Store interface {
	// GetClusterNodeState returns this node's published state, or
	// ErrNotFound if the node has never published.
	GetClusterNodeState(ctx context.Context) (*ClusterNodeState, error)

	// SetClusterNodeState publishes this node's state, making its newest
	// head a candidate for cluster-wide serving-head selection.
	SetClusterNodeState(ctx context.Context, state *ClusterNodeState) error

	// GetSequenceMapping returns the current mapping together with the
	// revision required for a conditional update. Sequence-number allocation
	// derives from this snapshot via NextSequenceNumber, so the conditional
	// write covers allocation too.
	GetSequenceMapping(ctx context.Context) (*SequenceMapping, error)

	// UpdateSequenceMapping writes the mapping back conditionally on the
	// revision it was read at. Returns ErrConflict if a concurrent writer
	// got there first; no partial application in that case.
	UpdateSequenceMapping(ctx context.Context, mapping *SequenceMapping) error

	// GetPendingEntries returns all submitted entries awaiting local
	// incorporation, in no particular order.
	GetPendingEntries(ctx context.Context) ([]*entry.Entry, error)

	// AddPendingEntry records a newly submitted entry. Adding a hash that
	// is already pending is a no-op, not an error.
	AddPendingEntry(ctx context.Context, e *entry.Entry) error
}
