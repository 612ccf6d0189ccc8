package merkle_test

import (
	"encoding/hex"
	"testing"

	"github.com/verity-log/verity/internal/merkle"
)

// RFC 6962 known-answer material: the leaf inputs and per-size roots used by
// the reference transparency-log implementations.
var katLeaves = []string{
	"",
	"00",
	"10",
	"2021",
	"3031",
	"40414243",
	"5051525354555657",
	"606162636465666768696a6b6c6d6e6f",
}

var katRoots = []string{
	"6e340b9cffb37a989ca544e6bb780a2c78901d3fb33738768511a30617afa01d",
	"fac54203e7cc696cf0dfcb42c92a1d9dbaf70ad9e621f4bd8d98662f00e3c125",
	"aeb6bcfe274b70a14fb067a5e5578264db0fa9b51af5e0ba159158f329e06e77",
	"d37ee418976dd95753c1c73862b9398fa2a2cf9b4ff0fdfe8b30cd95209614b7",
	"4e3bbb1f7b478dcfe71fb631631519a3bca12c9aefca1612bfce4c13a86264d4",
	"76e67dadbcdf1e10e1b74ddc608abd2f98dfb16fbce75277b5232a127f2087ef",
	"ddb89be403809e325750d3d263cd78929c2942b7942a34b77e122c9594a74c8c",
	"5dc9da79a70659a9ad559cb701ded9a2ab9d823aad2f4960cfe370eff4604328",
}

const emptyRoot = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestCurrentRoot_emptyTree(t *testing.T) {
	tree := merkle.New()
	if tree.LeafCount() != 0 {
		t.Fatalf("empty tree has %d leaves", tree.LeafCount())
	}
	root := tree.CurrentRoot()
	if got := hex.EncodeToString(root[:]); got != emptyRoot {
		t.Errorf("empty root: got %s, want %s", got, emptyRoot)
	}
}

func TestCurrentRoot_knownAnswers(t *testing.T) {
	tree := merkle.New()
	for i, leafHex := range katLeaves {
		tree.AddLeaf(mustHex(t, leafHex))
		if tree.LeafCount() != int64(i+1) {
			t.Fatalf("leaf count after %d appends: got %d", i+1, tree.LeafCount())
		}
		root := tree.CurrentRoot()
		if got := hex.EncodeToString(root[:]); got != katRoots[i] {
			t.Errorf("root at size %d: got %s, want %s", i+1, got, katRoots[i])
		}
	}
}

func TestCurrentRoot_reproducibleByReplay(t *testing.T) {
	leaves := [][]byte{
		[]byte("alpha"), []byte("bravo"), []byte("charlie"),
		[]byte("delta"), []byte("echo"),
	}

	first := merkle.New()
	for _, l := range leaves {
		first.AddLeaf(l)
	}
	second := merkle.New()
	for _, l := range leaves {
		second.AddLeaf(l)
	}

	if first.CurrentRoot() != second.CurrentRoot() {
		t.Error("same ordered leaves must reproduce the same root")
	}
}

func TestCurrentRoot_idempotentRead(t *testing.T) {
	tree := merkle.New()
	tree.AddLeaf([]byte("one"))
	tree.AddLeaf([]byte("two"))
	tree.AddLeaf([]byte("three"))

	a := tree.CurrentRoot()
	b := tree.CurrentRoot()
	if a != b {
		t.Error("CurrentRoot must not mutate the tree")
	}

	tree.AddLeaf([]byte("four"))
	if tree.CurrentRoot() == a {
		t.Error("appending a leaf must change the root")
	}
}

func TestLeafHash_domainSeparated(t *testing.T) {
	// A leaf hash and a node hash over related bytes must differ; the 0x00
	// and 0x01 prefixes keep second-preimage games off the table.
	l := merkle.LeafHash([]byte("payload"))
	n := merkle.NodeHash(merkle.LeafHash(nil), merkle.LeafHash(nil))
	if l == n {
		t.Error("leaf and node hashing must be domain separated")
	}
}
