// Package entry defines the log entry type sequenced and incorporated by the
// tree signer, together with the deterministic ordering used during
// sequencing.
//
// An entry is identified by the SHA-256 hash of its submitted content. It is
// born without a sequence number; once the cluster agrees on one, the number
// is permanent. SerializeLeaf produces the exact bytes inserted into the
// Merkle tree, so two nodes that sequence the same entries always compute the
// same root.
package entry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// HashSize is the length of an entry's content hash in bytes.
const HashSize = sha256.Size

// leafVersion tags the leaf serialization format. Bump only with a tree-wide
// migration, since it changes every leaf hash.
const leafVersion = 0

// Logged is the capability bound for anything the tree signer can sequence:
// a stable content hash, a submission timestamp, a sequence-number slot that
// is written exactly once, and a deterministic leaf serialization.
type Logged interface {
	Hash() []byte
	Timestamp() uint64
	HasSequence() bool
	SequenceNumber() int64
	SetSequenceNumber(seq int64)
	SerializeLeaf() []byte
}

// Entry is a single submitted record.
//
// EntryHash is the SHA-256 of the submitted content, SubmittedAt is the
// submission time in milliseconds since the Unix epoch, and LeafValue is the
// raw content carried into the leaf serialization. Sequence is nil until the
// entry has been sequenced.
type Entry struct {
	EntryHash   []byte `json:"entry_hash"`
	SubmittedAt uint64 `json:"submitted_at"`
	Sequence    *int64 `json:"sequence,omitempty"`
	LeafValue   []byte `json:"leaf_value"`
}

// New builds an unsequenced entry for the given content, hashing it with
// SHA-256. submittedAt is milliseconds since the Unix epoch.
func New(content []byte, submittedAt uint64) *Entry {
	h := sha256.Sum256(content)
	return &Entry{
		EntryHash:   h[:],
		SubmittedAt: submittedAt,
		LeafValue:   content,
	}
}

// Hash implements Logged.
func (e *Entry) Hash() []byte { return e.EntryHash }

// Timestamp implements Logged.
func (e *Entry) Timestamp() uint64 { return e.SubmittedAt }

// HasSequence implements Logged.
func (e *Entry) HasSequence() bool { return e.Sequence != nil }

// SequenceNumber implements Logged. It panics if the entry has not been
// sequenced; callers are expected to check HasSequence first.
func (e *Entry) SequenceNumber() int64 {
	if e.Sequence == nil {
		panic(fmt.Sprintf("entry %x has no sequence number", e.EntryHash))
	}
	return *e.Sequence
}

// SetSequenceNumber implements Logged.
func (e *Entry) SetSequenceNumber(seq int64) {
	e.Sequence = &seq
}

// SerializeLeaf implements Logged. The layout is fixed:
//
//	version     uint8
//	timestamp   uint64, big-endian, milliseconds
//	length      uint32, big-endian
//	leaf value  length bytes
//
// The serialization depends only on immutable fields, never on the sequence
// number, so a leaf's bytes are identical on every node that holds the entry.
func (e *Entry) SerializeLeaf() []byte {
	buf := make([]byte, 0, 1+8+4+len(e.LeafValue))
	buf = append(buf, leafVersion)
	buf = binary.BigEndian.AppendUint64(buf, e.SubmittedAt)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.LeafValue)))
	return append(buf, e.LeafValue...)
}
