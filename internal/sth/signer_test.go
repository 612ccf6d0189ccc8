package sth_test

import (
	"bytes"
	"testing"

	"github.com/verity-log/verity/internal/sth"
)

func TestFileSigner_createSignVerify(t *testing.T) {
	dir := t.TempDir()

	signer := sth.NewFileSigner(dir)
	if err := signer.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}

	head := testHead()
	if err := signer.SignTreeHead(head); err != nil {
		t.Fatal(err)
	}
	if len(head.Signature) == 0 {
		t.Fatal("signature not populated")
	}

	if err := sth.Verify(signer.PublicKey(), head); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestFileSigner_reloadsSameKey(t *testing.T) {
	dir := t.TempDir()

	first := sth.NewFileSigner(dir)
	if err := first.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	second := sth.NewFileSigner(dir)
	if err := second.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first.PublicKey(), second.PublicKey()) {
		t.Error("second load produced a different key pair")
	}

	pub, err := sth.LoadPublicKey(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pub, first.PublicKey()) {
		t.Error("LoadPublicKey disagrees with the signer's key")
	}
}

func TestFileSigner_signWithoutKey(t *testing.T) {
	signer := sth.NewFileSigner(t.TempDir())
	if err := signer.SignTreeHead(testHead()); err == nil {
		t.Error("expected error signing before LoadOrCreate")
	}
}

func TestVerify_rejectsTamperedHead(t *testing.T) {
	signer := sth.NewFileSigner(t.TempDir())
	if err := signer.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}

	head := testHead()
	if err := signer.SignTreeHead(head); err != nil {
		t.Fatal(err)
	}

	head.TreeSize++
	if err := sth.Verify(signer.PublicKey(), head); err == nil {
		t.Error("expected verification failure after tampering with tree size")
	}
}
