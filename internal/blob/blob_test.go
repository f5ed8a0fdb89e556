package blob

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drift/internal/checksum"
	"drift/internal/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, Options{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)

	content := []byte("package main\n\nfunc main() {}\n")
	sum, err := s.Put(content)
	require.NoError(t, err)
	assert.Equal(t, checksum.Sum(content), sum)

	got, err := s.Get(sum)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(checksum.Sum([]byte("never stored")))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestHas(t *testing.T) {
	s := newStore(t)
	sum, err := s.Put([]byte("here"))
	require.NoError(t, err)

	ok, err := s.Has(sum)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Has(checksum.Sum([]byte("not here")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeduplication(t *testing.T) {
	s := newStore(t)

	content := []byte("stored twice, kept once")
	first, err := s.Put(content)
	require.NoError(t, err)
	second, err := s.Put(content)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// One release keeps the blob alive, the second removes it.
	require.NoError(t, s.Release(first))
	got, err := s.Get(first)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, s.Release(first))
	ok, err := s.Has(first)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLargeBlobCompressedOnDisk(t *testing.T) {
	root := t.TempDir()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := New(db, Options{Root: root})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	content := bytes.Repeat([]byte("compressible line of text\n"), 1000)
	sum, err := s.Put(content)
	require.NoError(t, err)

	onDisk, err := os.ReadFile(filepath.Join(root, sum.Hex[:2], sum.Hex[2:]))
	require.NoError(t, err)
	assert.Less(t, len(onDisk), len(content))

	// Evict the cache so the read path actually decompresses.
	s.cache.Purge()
	got, err := s.Get(sum)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCorruptBlobDetected(t *testing.T) {
	root := t.TempDir()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := New(db, Options{Root: root})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sum, err := s.Put([]byte("trusted bytes"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(
		filepath.Join(root, sum.Hex[:2], sum.Hex[2:]), []byte("tampered bytes"), 0644))
	s.cache.Purge()

	_, err = s.Get(sum)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindChecksum))
}

func TestEmptyBlob(t *testing.T) {
	s := newStore(t)
	sum, err := s.Put(nil)
	require.NoError(t, err)

	got, err := s.Get(sum)
	require.NoError(t, err)
	assert.Empty(t, got)
}
