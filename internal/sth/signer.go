package sth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	signingKeyFile = "log.key"
	publicKeyFile  = "log.pub"
)

// FileSigner signs tree heads with an Ed25519 key persisted on disk. The key
// is created on first run and reloaded on subsequent starts, so a node keeps
// its signing identity across restarts.
type FileSigner struct {
	dir  string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewFileSigner returns a FileSigner that stores its key pair in dir.
// LoadOrCreate must be called before signing.
func NewFileSigner(dir string) *FileSigner {
	return &FileSigner{dir: dir}
}

// LoadOrCreate loads the signing key from disk if present; generates and
// persists a new one otherwise.
func (s *FileSigner) LoadOrCreate() error {
	if err := s.load(); err == nil {
		return nil
	}
	return s.create()
}

func (s *FileSigner) load() error {
	keyPEM, err := os.ReadFile(filepath.Join(s.dir, signingKeyFile))
	if err != nil {
		return fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return fmt.Errorf("no PEM block in signing key file")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse signing key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return fmt.Errorf("signing key is %T, want ed25519", parsed)
	}
	s.priv = priv
	s.pub = priv.Public().(ed25519.PublicKey)
	return nil
}

func (s *FileSigner) create() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create key dir %q: %w", s.dir, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal signing key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := os.WriteFile(filepath.Join(s.dir, signingKeyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, publicKeyFile), pubPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	s.priv = priv
	s.pub = pub
	return nil
}

// SignTreeHead implements Signer.
func (s *FileSigner) SignTreeHead(head *SignedTreeHead) error {
	if s.priv == nil {
		return fmt.Errorf("signer has no key loaded")
	}
	input, err := head.SigningInput()
	if err != nil {
		return fmt.Errorf("build signing input: %w", err)
	}
	head.Signature = ed25519.Sign(s.priv, input)
	return nil
}

// PublicKey returns the node's verification key.
func (s *FileSigner) PublicKey() ed25519.PublicKey { return s.pub }

// Verify checks a head's signature against the given public key.
func Verify(pub ed25519.PublicKey, head *SignedTreeHead) error {
	input, err := head.SigningInput()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, input, head.Signature) {
		return fmt.Errorf("tree head signature verification failed")
	}
	return nil
}

// LoadPublicKey reads a PEM-encoded Ed25519 public key from disk.
func LoadPublicKey(dir string) (ed25519.PublicKey, error) {
	pemBytes, err := os.ReadFile(filepath.Join(dir, publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key file")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ed25519", parsed)
	}
	return pub, nil
}
