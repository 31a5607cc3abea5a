// Package storage provides encrypted single-file persistence for the
// trust-list, business-rules, and value-set bundles (spec.md §4.3
// Persistence, §9 Scoped resources).
package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrNotFound is returned by Load when no data has ever been persisted under
// a given name, distinguishing "nothing saved yet" from a decrypt/decode
// failure — both callers in trust/ treat this the same way (fall back to
// Empty), but the distinction matters for logging.
var ErrNotFound = errors.New("storage: not found")

// Store is the persistence capability the trust stores are polymorphic over
// (spec.md §9 Polymorphism): one opaque named blob per store, encrypted at
// rest.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, plaintext []byte) error
}

// KeyStore hands out a symmetric key bound to a named alias, and a release
// function the caller MUST invoke on every exit path (spec.md §9's "scoped
// resources": the keystore handle is acquired, used, and released, success
// or failure).
type KeyStore interface {
	Acquire(alias string) (key [chacha20poly1305.KeySize]byte, release func(), err error)
}

// FileStore is the production Store: one encrypted file per name under dir,
// keyed by a KeyStore-derived ChaCha20-Poly1305 key.
type FileStore struct {
	dir      string
	keyStore KeyStore
}

// NewFileStore returns a FileStore rooted at dir, creating it if necessary.
func NewFileStore(dir string, ks KeyStore) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	return &FileStore{dir: dir, keyStore: ks}, nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, name+".bin")
}

// Load decrypts and returns the plaintext last saved under name, or
// ErrNotFound if nothing was ever saved.
func (f *FileStore) Load(ctx context.Context, name string) ([]byte, error) {
	key, release, err := f.keyStore.Acquire(name)
	if err != nil {
		return nil, fmt.Errorf("storage: acquire key for %q: %w", name, err)
	}
	defer release()

	raw, err := os.ReadFile(f.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read %q: %w", name, err)
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("storage: init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("storage: %q: ciphertext shorter than nonce", name)
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: decrypt %q: %w", name, err)
	}
	return plaintext, nil
}

// Save encrypts plaintext and atomically replaces the file stored under
// name (write to a temp file, then rename, so a crash mid-write never
// leaves a corrupt file behind).
func (f *FileStore) Save(ctx context.Context, name string, plaintext []byte) error {
	key, release, err := f.keyStore.Acquire(name)
	if err != nil {
		return fmt.Errorf("storage: acquire key for %q: %w", name, err)
	}
	defer release()

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return fmt.Errorf("storage: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("storage: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("storage: write %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: close %q: %w", name, err)
	}
	if err := os.Rename(tmpPath, f.path(name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: replace %q: %w", name, err)
	}
	return nil
}

// FileKeyStore derives a per-alias ChaCha20-Poly1305 key via HKDF-SHA256
// from a single master secret, generated once and kept at
// <dir>/.keyseed (0600) — "a symmetric key bound to a per-install keystore
// alias" (spec.md §4.3) without depending on an OS-specific keychain
// service, none of which appears anywhere in the retrieved pack.
type FileKeyStore struct {
	dir    string
	secret []byte
}

// NewFileKeyStore loads or creates the master secret under dir.
func NewFileKeyStore(dir string) (*FileKeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create keystore dir: %w", err)
	}
	path := filepath.Join(dir, ".keyseed")

	secret, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		secret = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, secret); err != nil {
			return nil, fmt.Errorf("storage: generate keystore seed: %w", err)
		}
		if err := os.WriteFile(path, secret, 0o600); err != nil {
			return nil, fmt.Errorf("storage: write keystore seed: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("storage: read keystore seed: %w", err)
	}

	return &FileKeyStore{dir: dir, secret: secret}, nil
}

// Acquire derives the alias's key deterministically from the master secret;
// there is no real handle to release, but release is still returned and
// must be called so callers exercise the same scoped-acquire/release
// discipline a real keychain service would require.
func (ks *FileKeyStore) Acquire(alias string) (key [chacha20poly1305.KeySize]byte, release func(), err error) {
	r := hkdf.New(sha256.New, ks.secret, []byte(alias), []byte("dgcverify-storage-v1"))
	if _, err = io.ReadFull(r, key[:]); err != nil {
		return key, func() {}, fmt.Errorf("storage: derive key for %q: %w", alias, err)
	}
	return key, func() {}, nil
}
