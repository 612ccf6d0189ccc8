// Package merkle implements the in-memory incremental Merkle tree over which
// tree heads are signed.
//
// Hashing follows RFC 6962: leaves are hashed as SHA-256(0x00 || leaf) and
// interior nodes as SHA-256(0x01 || left || right). The root of the empty
// tree is the SHA-256 of the empty string. The tree is append-only and the
// root is a pure function of the ordered leaf sequence, so any two trees fed
// the same leaves in the same order agree on every root.
//
// A Tree keeps only the roots of the maximal perfect subtrees ("peaks"), one
// per set bit of the leaf count, so appends cost O(log n) hashes and memory
// stays logarithmic in the number of leaves.
package merkle

import "crypto/sha256"

// HashSize is the byte length of all tree hashes.
const HashSize = sha256.Size

const (
	leafHashPrefix = 0x00
	nodeHashPrefix = 0x01
)

// Tree is an incremental Merkle tree. The zero value is an empty tree.
//
// Tree is not safe for concurrent use; the owner serializes access.
type Tree struct {
	size  int64
	peaks [][HashSize]byte
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// LeafCount returns the number of leaves appended so far.
func (t *Tree) LeafCount() int64 {
	return t.size
}

// AddLeaf appends the serialized leaf as the next (rightmost) leaf.
func (t *Tree) AddLeaf(leaf []byte) {
	t.peaks = append(t.peaks, LeafHash(leaf))
	t.size++
	// Each trailing zero bit of the new size merges two equal-height peaks.
	for m := t.size; m%2 == 0; m /= 2 {
		n := len(t.peaks)
		t.peaks[n-2] = NodeHash(t.peaks[n-2], t.peaks[n-1])
		t.peaks = t.peaks[:n-1]
	}
}

// CurrentRoot returns the root hash over all appended leaves.
func (t *Tree) CurrentRoot() [HashSize]byte {
	if t.size == 0 {
		return sha256.Sum256(nil)
	}
	// Fold the peaks right to left; the rightmost (smallest) peak is the
	// deepest and hangs off every peak to its left.
	root := t.peaks[len(t.peaks)-1]
	for i := len(t.peaks) - 2; i >= 0; i-- {
		root = NodeHash(t.peaks[i], root)
	}
	return root
}

// LeafHash computes the RFC 6962 hash of a single leaf.
func LeafHash(leaf []byte) [HashSize]byte {
	h := sha256.New()
	h.Write([]byte{leafHashPrefix})
	h.Write(leaf)
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NodeHash computes the RFC 6962 hash of an interior node.
func NodeHash(left, right [HashSize]byte) [HashSize]byte {
	h := sha256.New()
	h.Write([]byte{nodeHashPrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
