package logdb_test

import (
	"context"
	"errors"
	"testing"

	"github.com/verity-log/verity/internal/entry"
	"github.com/verity-log/verity/internal/logdb"
	"github.com/verity-log/verity/internal/sth"
)

var ctx = context.Background()

func sequenced(t *testing.T, content string, ts uint64, seq int64) *entry.Entry {
	t.Helper()
	e := entry.New([]byte(content), ts)
	e.SetSequenceNumber(seq)
	return e
}

func TestMemory_emptyLog(t *testing.T) {
	db := logdb.NewMemory()

	size, err := db.TreeSize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Errorf("empty log size: got %d", size)
	}

	if _, err := db.LookupByIndex(ctx, 0); !errors.Is(err, logdb.ErrNotFound) {
		t.Errorf("lookup on empty log: got %v, want ErrNotFound", err)
	}
	if _, err := db.LatestTreeHead(ctx); !errors.Is(err, logdb.ErrNotFound) {
		t.Errorf("latest head on empty log: got %v, want ErrNotFound", err)
	}
}

func TestMemory_gapFreeAppend(t *testing.T) {
	db := logdb.NewMemory()

	for i := int64(0); i < 5; i++ {
		if err := db.CreateSequencedEntry(ctx, sequenced(t, string(rune('a'+i)), 100, i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	size, _ := db.TreeSize(ctx)
	if size != 5 {
		t.Fatalf("size: got %d, want 5", size)
	}
	for i := int64(0); i < 5; i++ {
		e, err := db.LookupByIndex(ctx, i)
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if e.SequenceNumber() != i {
			t.Errorf("index %d holds sequence %d", i, e.SequenceNumber())
		}
	}
}

func TestMemory_duplicateSequenceNumber(t *testing.T) {
	db := logdb.NewMemory()
	if err := db.CreateSequencedEntry(ctx, sequenced(t, "a", 100, 0)); err != nil {
		t.Fatal(err)
	}

	err := db.CreateSequencedEntry(ctx, sequenced(t, "b", 100, 0))
	if !errors.Is(err, logdb.ErrSequenceNumberInUse) {
		t.Errorf("duplicate append: got %v, want ErrSequenceNumberInUse", err)
	}
}

func TestMemory_rejectsGap(t *testing.T) {
	db := logdb.NewMemory()
	if err := db.CreateSequencedEntry(ctx, sequenced(t, "a", 100, 3)); err == nil {
		t.Error("expected error appending sequence 3 to an empty log")
	}
}

func TestMemory_rejectsUnsequenced(t *testing.T) {
	db := logdb.NewMemory()
	if err := db.CreateSequencedEntry(ctx, entry.New([]byte("a"), 100)); err == nil {
		t.Error("expected error appending an unsequenced entry")
	}
}

func TestMemory_latestTreeHead(t *testing.T) {
	db := logdb.NewMemory()

	older := &sth.SignedTreeHead{Timestamp: 100, TreeSize: 1, RootHash: make([]byte, sth.RootHashSize)}
	newer := &sth.SignedTreeHead{Timestamp: 200, TreeSize: 2, RootHash: make([]byte, sth.RootHashSize)}

	if err := db.StoreTreeHead(ctx, older); err != nil {
		t.Fatal(err)
	}
	if err := db.StoreTreeHead(ctx, newer); err != nil {
		t.Fatal(err)
	}

	got, err := db.LatestTreeHead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Timestamp != 200 {
		t.Errorf("latest head timestamp: got %d, want 200", got.Timestamp)
	}
}
