package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewFileKeyStore(dir)
	require.NoError(t, err)
	fs, err := NewFileStore(dir, ks)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fs.Save(ctx, "trustlist", []byte("hello trust list")))

	got, err := fs.Load(ctx, "trustlist")
	require.NoError(t, err)
	require.Equal(t, []byte("hello trust list"), got)
}

func TestFileStoreNotFound(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewFileKeyStore(dir)
	require.NoError(t, err)
	fs, err := NewFileStore(dir, ks)
	require.NoError(t, err)

	_, err = fs.Load(context.Background(), "never-saved")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreDistinctAliasesDistinctKeys(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewFileKeyStore(dir)
	require.NoError(t, err)

	k1, release1, err := ks.Acquire("trustlist")
	require.NoError(t, err)
	release1()
	k2, release2, err := ks.Acquire("rules")
	require.NoError(t, err)
	release2()

	require.NotEqual(t, k1, k2)
}

func TestFileStoreCorruptionFailsClosed(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewFileKeyStore(dir)
	require.NoError(t, err)
	fs, err := NewFileStore(dir, ks)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fs.Save(ctx, "rules", []byte("business rules bundle")))

	// Corrupt the stored ciphertext in place.
	raw, err := os.ReadFile(fs.path("rules"))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(fs.path("rules"), raw, 0o600))

	_, err = fs.Load(ctx, "rules")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}
