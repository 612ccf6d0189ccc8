// Package logdb is the node's local durable log: the contiguous run of
// sequenced entries this node has made tree-eligible, plus the most recently
// persisted signed tree head.
//
// Two implementations of the Database interface are provided:
//   - Memory: in-process, for testing and development.
//   - Postgres: durable, for production use.
//
// The local log is gap-free by construction: entries occupy indices
// [0, size) and CreateSequencedEntry refuses to reuse an index.
package logdb

import (
	"context"
	"errors"

	"github.com/verity-log/verity/internal/entry"
	"github.com/verity-log/verity/internal/sth"
)

// ErrNotFound reports that the requested index or tree head does not exist.
// Absence is a legitimate state (an empty log has neither), so callers branch
// on it rather than failing.
var ErrNotFound = errors.New("logdb: not found")

// ErrSequenceNumberInUse reports that CreateSequencedEntry was asked to write
// an entry whose sequence number is already occupied. Distinct from other
// write failures because a racing second writer is tolerable while a corrupt
// write path is not.
var ErrSequenceNumberInUse = errors.New("logdb: sequence number already in use")

// Database is the local durable log contract. Failures other than the two
// sentinels above are unrecoverable from the caller's point of view.
type Database interface {
	// LookupByIndex returns the entry with the given sequence number, or
	// ErrNotFound.
	LookupByIndex(ctx context.Context, index int64) (*entry.Entry, error)

	// CreateSequencedEntry durably stores a sequenced entry at its sequence
	// number. Returns ErrSequenceNumberInUse if that number is occupied.
	CreateSequencedEntry(ctx context.Context, e *entry.Entry) error

	// TreeSize returns the number of stored entries. Because the log is
	// gap-free, this is also the next expected sequence number.
	TreeSize(ctx context.Context) (int64, error)

	// LatestTreeHead returns the most recently stored signed tree head, or
	// ErrNotFound if none has been persisted yet.
	LatestTreeHead(ctx context.Context) (*sth.SignedTreeHead, error)

	// StoreTreeHead persists a signed tree head. Called by the publisher
	// once a head has been handed off, not by the signing core itself.
	StoreTreeHead(ctx context.Context, head *sth.SignedTreeHead) error
}
