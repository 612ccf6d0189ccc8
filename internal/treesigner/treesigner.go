// Package treesigner is the sequencing-and-signing core of a log node.
//
// A TreeSigner pulls pending submissions from the cluster's consistency
// store, assigns each a permanent sequence number, makes the agreed prefix
// durable in the local log, folds new entries into an in-memory Merkle tree,
// and periodically produces a signed tree head for the node's publisher.
//
// Error policy is two-class. Failures of the consistency store are returned
// to the caller, which retries on its own schedule; no local state has been
// mutated when that happens. Invariant violations — a stored timestamp from
// the future, a root that cannot be reproduced from the stored entries, a
// sequence number that disagrees with its storage index, a signer that
// cannot sign — terminate the process via the logger's Fatal path. A signed
// log that keeps running past corruption could attest to a tree it does not
// have, which is strictly worse than crashing.
//
// A TreeSigner owns its tree and cached head exclusively and takes no locks;
// the caller serializes SequenceNewEntries, UpdateTree and
// AppendSequencedEntry, typically from a single coordination loop.
package treesigner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verity-log/verity/internal/consistent"
	"github.com/verity-log/verity/internal/entry"
	"github.com/verity-log/verity/internal/logdb"
	"github.com/verity-log/verity/internal/merkle"
	"github.com/verity-log/verity/internal/monitoring"
	"github.com/verity-log/verity/internal/sth"
)

// Config carries the collaborators and tuning for a TreeSigner.
type Config struct {
	// GuardWindow is the minimum age a pending entry must reach before it is
	// eligible for sequencing. Young entries may still be in flight to other
	// nodes; waiting narrows the race where two nodes sequence the same
	// entry before either sees the other's mapping write.
	GuardWindow time.Duration

	// Clock overrides the wall clock; nil means time.Now.
	Clock func() time.Time
}

// TreeSigner sequences pending entries and signs tree heads for one node.
type TreeSigner struct {
	guardWindow time.Duration
	db          logdb.Database
	store       consistent.Store
	signer      sth.Signer
	tree        *merkle.Tree
	latestHead  *sth.SignedTreeHead
	logger      *zap.Logger
	clock       func() time.Time
}

// New creates a TreeSigner and brings its in-memory state to a consistent
// starting point: it reads the node's previously published head from the
// consistency store, then rebuilds the Merkle tree from the local log,
// verifying the stored head's root along the way. Corrupt local state is
// fatal; an absent head (first boot) is not.
func New(ctx context.Context, db logdb.Database, store consistent.Store, signer sth.Signer, cfg Config, logger *zap.Logger) *TreeSigner {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ts := &TreeSigner{
		guardWindow: cfg.GuardWindow,
		db:          db,
		store:       store,
		signer:      signer,
		tree:        merkle.New(),
		logger:      logger,
		clock:       clock,
	}

	// Seed the timestamp floor from any head this node published before.
	state, err := store.GetClusterNodeState(ctx)
	switch {
	case err == nil:
		ts.latestHead = state.NewestSTH
	case errors.Is(err, consistent.ErrNotFound):
		// First boot for this node; nothing published yet.
	default:
		logger.Fatal("fetching this node's previous state failed", zap.Error(err))
	}

	ts.buildTree(ctx)
	return ts
}

// LastUpdateTime returns the timestamp (ms) of the newest head this node
// knows about, or 0 before any head exists.
func (ts *TreeSigner) LastUpdateTime() uint64 {
	if ts.latestHead == nil {
		return 0
	}
	return ts.latestHead.Timestamp
}

// LatestTreeHead returns the most recent candidate head, or nil before the
// first UpdateTree on a fresh log.
func (ts *TreeSigner) LatestTreeHead() *sth.SignedTreeHead {
	return ts.latestHead
}

// SequenceNewEntries assigns sequence numbers to eligible pending entries and
// makes the contiguous agreed prefix durable in the local log.
//
// The round is all-or-nothing with respect to the cluster: the updated
// mapping is written back conditionally, and a conflict with a concurrent
// writer returns an error with nothing applied locally. Re-running a round
// over an unchanged pending set is a no-op — entries already in the mapping
// adopt their existing numbers instead of consuming new ones.
func (ts *TreeSigner) SequenceNewEntries(ctx context.Context) error {
	started := ts.clock()
	numSequenced := 0
	var err error
	defer func() {
		monitoring.RecordSequencingRound(err, numSequenced, ts.clock().Sub(started))
	}()

	// Captured once; every entry in this round is filtered against the same
	// instant so the guard window cannot shift mid-round.
	now := uint64(started.UnixMilli())

	mapping, err := ts.store.GetSequenceMapping(ctx)
	if err != nil {
		return fmt.Errorf("get sequence mapping: %w", err)
	}
	sequencedHashes, hashErr := mapping.ByHash()
	if hashErr != nil {
		ts.fatal("sequence mapping is corrupt", zap.Error(hashErr))
	}

	// Allocate from the snapshot that will be written back. A concurrent
	// allocator advances the revision, so the conditional write below fails
	// rather than letting two hashes share a number.
	nextSeq := mapping.NextSequenceNumber()
	if nextSeq < 0 {
		ts.fatal("negative sequence number in mapping", zap.Int64("next_seq", nextSeq))
	}
	ts.logger.Debug("next available sequence number", zap.Int64("next_seq", nextSeq))

	pending, err := ts.store.GetPendingEntries(ctx)
	if err != nil {
		return fmt.Errorf("get pending entries: %w", err)
	}
	entry.SortPending(pending)
	ts.logger.Debug("sequencing pending entries", zap.Int("pending", len(pending)))

	guardMs := uint64(ts.guardWindow.Milliseconds())
	seqToEntry := make(map[int64]*entry.Entry)
	for _, p := range pending {
		// Subtract instead of adding to the untrusted timestamp: a hostile
		// far-future value would wrap the sum and slip past the window.
		if now < guardMs || now-guardMs < p.Timestamp() {
			ts.logger.Debug("entry too recent", zap.Binary("entry_hash", p.Hash()))
			continue
		}
		if seq, ok := sequencedHashes[string(p.Hash())]; ok {
			// Another node got there first; adopt its number.
			p.SetSequenceNumber(seq)
		} else {
			mapping.Add(p.Hash(), nextSeq)
			p.SetSequenceNumber(nextSeq)
			numSequenced++
			nextSeq++
		}
		if _, dup := seqToEntry[p.SequenceNumber()]; dup {
			ts.fatal("two entries share a sequence number",
				zap.Int64("seq", p.SequenceNumber()),
				zap.Binary("entry_hash", p.Hash()),
			)
		}
		seqToEntry[p.SequenceNumber()] = p
	}

	// Cluster-wide commit point. Nothing below touches the store, and
	// nothing above touched local state, so a conflict here leaves the
	// round without a trace.
	if err = ts.store.UpdateSequenceMapping(ctx, mapping); err != nil {
		return fmt.Errorf("update sequence mapping: %w", err)
	}

	// Extend the local log by the contiguous run starting at its current
	// size. A gap means a predecessor was sequenced by another node and has
	// not reached us yet; those entries wait for a later round.
	size, dbErr := ts.db.TreeSize(ctx)
	if dbErr != nil {
		ts.fatal("local log size unavailable", zap.Error(dbErr))
	}
	for seq := size; ; seq++ {
		e, ok := seqToEntry[seq]
		if !ok {
			break
		}
		ts.logger.Debug("adding to local log", zap.Int64("seq", seq))
		if createErr := ts.db.CreateSequencedEntry(ctx, e); createErr != nil {
			ts.fatal("local log write failed",
				zap.Int64("seq", seq),
				zap.Error(createErr),
			)
		}
	}

	ts.logger.Info("sequencing round complete", zap.Int("newly_sequenced", numSequenced))
	return nil
}

// UpdateTree folds all newly durable entries from the local log into the
// in-memory tree and produces a fresh signed head over the result. The head
// is cached as this node's latest and returned to the caller; persisting or
// broadcasting it is the publisher's job, not this core's.
func (ts *TreeSigner) UpdateTree(ctx context.Context) *sth.SignedTreeHead {
	// Strictly-greater floor keeps this node's head timestamps increasing
	// even when several heads are produced within one millisecond.
	minTimestamp := ts.LastUpdateTime() + 1

	for i := ts.tree.LeafCount(); ; i++ {
		e, err := ts.db.LookupByIndex(ctx, i)
		if errors.Is(err, logdb.ErrNotFound) {
			break
		}
		if err != nil {
			ts.fatal("local log read failed", zap.Int64("index", i), zap.Error(err))
		}
		if e.SequenceNumber() != i {
			ts.fatal("entry sequence number disagrees with its index",
				zap.Int64("index", i),
				zap.Int64("seq", e.SequenceNumber()),
			)
		}
		ts.appendToTree(e)
		if e.Timestamp() > minTimestamp {
			minTimestamp = e.Timestamp()
		}
	}

	head := ts.timestampAndSign(minTimestamp)
	ts.latestHead = head
	monitoring.RecordTreeHead(head.TreeSize)
	return head
}

// AppendSequencedEntry incorporates one already-sequenced entry directly,
// outside the bulk replay path. The entry must be the tree's immediate
// successor. A local log report that the sequence number is already taken is
// a soft failure (false); the caller decides how to react to the race.
func (ts *TreeSigner) AppendSequencedEntry(ctx context.Context, e *entry.Entry) bool {
	if !e.HasSequence() {
		ts.fatal("appending an unsequenced entry", zap.Binary("entry_hash", e.Hash()))
	}
	if e.SequenceNumber() != ts.tree.LeafCount() {
		ts.fatal("entry does not extend the tree",
			zap.Int64("seq", e.SequenceNumber()),
			zap.Int64("leaf_count", ts.tree.LeafCount()),
		)
	}

	err := ts.db.CreateSequencedEntry(ctx, e)
	if errors.Is(err, logdb.ErrSequenceNumberInUse) {
		ts.logger.Error("duplicate sequence number on local append",
			zap.Int64("seq", e.SequenceNumber()),
		)
		return false
	}
	if err != nil {
		ts.fatal("local log write failed", zap.Int64("seq", e.SequenceNumber()), zap.Error(err))
	}

	ts.tree.AddLeaf(e.SerializeLeaf())
	return true
}

// buildTree replays the local log into the empty in-memory tree and checks
// the stored head's root against the recomputed one.
func (ts *TreeSigner) buildTree(ctx context.Context) {
	if ts.tree.LeafCount() != 0 {
		ts.fatal("building a tree when one already exists",
			zap.Int64("leaf_count", ts.tree.LeafCount()),
		)
	}

	head, err := ts.db.LatestTreeHead(ctx)
	if errors.Is(err, logdb.ErrNotFound) {
		// Fresh log: nothing to replay.
		return
	}
	if err != nil {
		ts.fatal("reading latest tree head failed", zap.Error(err))
	}

	// A stored timestamp ahead of the wall clock means either the database
	// or the clock is corrupt; neither is a state to sign from.
	now := uint64(ts.clock().UnixMilli())
	if head.Timestamp > now {
		ts.fatal("stored tree head has a timestamp from the future",
			zap.Uint64("head_timestamp", head.Timestamp),
			zap.Uint64("now", now),
		)
	}

	for i := int64(0); i < int64(head.TreeSize); i++ {
		e, err := ts.db.LookupByIndex(ctx, i)
		if err != nil {
			ts.fatal("local log is missing an entry covered by the stored head",
				zap.Int64("index", i),
				zap.Error(err),
			)
		}
		if e.Timestamp() > head.Timestamp {
			ts.fatal("entry is newer than the head covering it",
				zap.Int64("index", i),
				zap.Uint64("entry_timestamp", e.Timestamp()),
			)
		}
		if e.SequenceNumber() != i {
			ts.fatal("entry sequence number disagrees with its index",
				zap.Int64("index", i),
				zap.Int64("seq", e.SequenceNumber()),
			)
		}
		ts.appendToTree(e)
		if i%100000 == 0 {
			ts.logger.Debug("replaying local log", zap.Int64("index", i))
		}
	}

	root := ts.tree.CurrentRoot()
	if string(root[:]) != string(head.RootHash) {
		ts.fatal("recomputed root does not match the stored tree head",
			zap.Binary("recomputed", root[:]),
			zap.Binary("stored", head.RootHash),
		)
	}

	ts.latestHead = head

	// Entries past the head's tree size exist when a previous process
	// sequenced them locally but died before signing. Expected; the next
	// UpdateTree covers them.
	for i := int64(head.TreeSize); ; i++ {
		e, err := ts.db.LookupByIndex(ctx, i)
		if errors.Is(err, logdb.ErrNotFound) {
			break
		}
		if err != nil {
			ts.fatal("local log read failed", zap.Int64("index", i), zap.Error(err))
		}
		if e.SequenceNumber() != i {
			ts.fatal("entry sequence number disagrees with its index",
				zap.Int64("index", i),
				zap.Int64("seq", e.SequenceNumber()),
			)
		}
		ts.appendToTree(e)
	}

	ts.logger.Info("tree recovered",
		zap.Int64("leaf_count", ts.tree.LeafCount()),
		zap.Uint64("head_tree_size", head.TreeSize),
	)
}

func (ts *TreeSigner) appendToTree(e entry.Logged) {
	ts.tree.AddLeaf(e.SerializeLeaf())
}

// timestampAndSign stamps the current tree state no earlier than
// minTimestamp and delegates the signature.
func (ts *TreeSigner) timestampAndSign(minTimestamp uint64) *sth.SignedTreeHead {
	root := ts.tree.CurrentRoot()
	timestamp := uint64(ts.clock().UnixMilli())
	if timestamp < minTimestamp {
		timestamp = minTimestamp
	}
	head := &sth.SignedTreeHead{
		Version:   sth.V1,
		Timestamp: timestamp,
		TreeSize:  uint64(ts.tree.LeafCount()),
		RootHash:  root[:],
	}
	if err := ts.signer.SignTreeHead(head); err != nil {
		// No excuse for an unsigned head; refusing to continue is the only
		// way to keep the log's guarantee intact.
		ts.fatal("signing tree head failed", zap.Error(err))
	}
	return head
}

// fatal terminates the process. Only invariant violations route here;
// retryable collaborator failures are returned to the caller instead.
func (ts *TreeSigner) fatal(msg string, fields ...zap.Field) {
	ts.logger.Fatal(msg, fields...)
}
