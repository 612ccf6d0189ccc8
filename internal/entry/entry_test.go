package entry_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/verity-log/verity/internal/entry"
)

func TestNew_hashesContent(t *testing.T) {
	content := []byte("hello transparency")
	e := entry.New(content, 1234)

	want := sha256.Sum256(content)
	if !bytes.Equal(e.Hash(), want[:]) {
		t.Errorf("hash: got %x, want %x", e.Hash(), want)
	}
	if e.Timestamp() != 1234 {
		t.Errorf("timestamp: got %d, want 1234", e.Timestamp())
	}
	if e.HasSequence() {
		t.Error("new entry should not have a sequence number")
	}
}

func TestSequenceNumber_setOnce(t *testing.T) {
	e := entry.New([]byte("x"), 1)
	e.SetSequenceNumber(42)

	if !e.HasSequence() {
		t.Fatal("expected HasSequence after SetSequenceNumber")
	}
	if e.SequenceNumber() != 42 {
		t.Errorf("sequence: got %d, want 42", e.SequenceNumber())
	}
}

func TestSequenceNumber_panicsWhenUnset(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic reading an unset sequence number")
		}
	}()
	entry.New([]byte("x"), 1).SequenceNumber()
}

func TestSerializeLeaf_layout(t *testing.T) {
	content := []byte("leaf content")
	e := entry.New(content, 0x0102030405060708)

	leaf := e.SerializeLeaf()
	if len(leaf) != 1+8+4+len(content) {
		t.Fatalf("leaf length: got %d, want %d", len(leaf), 1+8+4+len(content))
	}
	if leaf[0] != 0 {
		t.Errorf("version byte: got %d, want 0", leaf[0])
	}
	if ts := binary.BigEndian.Uint64(leaf[1:9]); ts != 0x0102030405060708 {
		t.Errorf("timestamp field: got %#x", ts)
	}
	if n := binary.BigEndian.Uint32(leaf[9:13]); n != uint32(len(content)) {
		t.Errorf("length field: got %d, want %d", n, len(content))
	}
	if !bytes.Equal(leaf[13:], content) {
		t.Error("leaf value bytes do not match content")
	}
}

func TestSerializeLeaf_independentOfSequence(t *testing.T) {
	a := entry.New([]byte("same"), 99)
	b := entry.New([]byte("same"), 99)
	b.SetSequenceNumber(7)

	if !bytes.Equal(a.SerializeLeaf(), b.SerializeLeaf()) {
		t.Error("leaf serialization must not depend on the sequence number")
	}
}
