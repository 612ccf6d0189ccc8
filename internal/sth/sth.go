// Package sth defines the signed tree head: the node's attestation that the
// log's Merkle tree had a particular root at a particular size.
//
// The signing input follows the RFC 6962 TreeHeadSignature structure, so a
// head produced here can be checked by any transparency-log verifier that
// speaks that format.
package sth

import (
	"encoding/binary"
	"fmt"
)

// V1 is the only tree head version currently produced.
const V1 = 0

// treeHashSignatureType is the RFC 6962 SignatureType for tree heads.
const treeHashSignatureType = 1

// RootHashSize is the length of the SHA-256 root hash.
const RootHashSize = 32

// SignedTreeHead attests that the tree had RootHash when it held TreeSize
// leaves, produced at Timestamp (milliseconds since the Unix epoch).
//
// Heads are ephemeral value objects: the node hands each new head to its
// publisher, which decides whether it becomes the cluster's serving head.
type SignedTreeHead struct {
	Version   uint8  `json:"version"`
	Timestamp uint64 `json:"timestamp"`
	TreeSize  uint64 `json:"tree_size"`
	RootHash  []byte `json:"root_hash"`
	Signature []byte `json:"signature,omitempty"`
}

// SigningInput returns the canonical bytes covered by the head's signature:
//
//	version         uint8
//	signature type  uint8 (tree_hash)
//	timestamp       uint64, big-endian
//	tree size       uint64, big-endian
//	root hash       32 bytes
//
// An error is returned if the root hash has the wrong length; a head with a
// malformed root must never reach a signer.
func (h *SignedTreeHead) SigningInput() ([]byte, error) {
	if len(h.RootHash) != RootHashSize {
		return nil, fmt.Errorf("root hash is %d bytes, want %d", len(h.RootHash), RootHashSize)
	}
	buf := make([]byte, 0, 2+8+8+RootHashSize)
	buf = append(buf, h.Version, treeHashSignatureType)
	buf = binary.BigEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.BigEndian.AppendUint64(buf, h.TreeSize)
	return append(buf, h.RootHash...), nil
}

// Signer produces the signature over a tree head. Implementations either fill
// in Signature completely or return an error; there are no partial results.
type Signer interface {
	SignTreeHead(head *SignedTreeHead) error
}
