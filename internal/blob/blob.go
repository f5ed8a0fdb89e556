// Package blob is content-addressed storage for file contents. Blob bytes
// live in fanout files under a root directory, metadata lives in badger, and
// hot blobs sit in an LRU cache. Blobs are keyed by their sha256 checksum,
// so identical contents are stored once and shared by reference count.
package blob

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"drift/internal/checksum"
	"drift/internal/errors"
)

// Options configures a Store.
type Options struct {
	// Root is the directory blob files are written under.
	Root string

	// CacheSize is the number of blobs held in memory; 0 means 512.
	CacheSize int

	// MinCompress is the size in bytes below which blobs are stored raw;
	// 0 means 1KiB. Compression is also skipped when it does not shrink
	// the blob.
	MinCompress int
}

type meta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	RefCount   uint32    `json:"ref_count"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a deduplicating blob store. Safe for concurrent use; badger
// transactions serialize the metadata and blob files are immutable once
// written.
type Store struct {
	root        string
	db          *badger.DB
	cache       *lru.Cache[string, []byte]
	enc         *zstd.Encoder
	dec         *zstd.Decoder
	minCompress int
}

func New(db *badger.DB, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.BackingStore("blob root directory is required", nil)
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, errors.BackingStore("creating blob root", err)
	}

	if opts.CacheSize == 0 {
		opts.CacheSize = 512
	}
	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, errors.BackingStore("creating blob cache", err)
	}

	if opts.MinCompress == 0 {
		opts.MinCompress = 1024
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, errors.BackingStore("creating zstd encoder", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.BackingStore("creating zstd decoder", err)
	}

	return &Store{
		root:        opts.Root,
		db:          db,
		cache:       cache,
		enc:         enc,
		dec:         dec,
		minCompress: opts.MinCompress,
	}, nil
}

// Close releases the compression codecs. The badger handle belongs to the
// caller and stays open.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return nil
}

// Put stores content and returns its checksum. Storing content that already
// exists bumps its reference count instead of writing again.
func (s *Store) Put(content []byte) (checksum.Checksum, error) {
	sum := checksum.Sum(content)

	bumped, err := s.tryBumpRef(sum.Hex)
	if err != nil {
		return checksum.Checksum{}, err
	}
	if bumped {
		return sum, nil
	}

	stored := content
	compressed := false
	if len(content) >= s.minCompress {
		if z := s.enc.EncodeAll(content, nil); len(z) < len(content) {
			stored = z
			compressed = true
		}
	}

	path := s.blobPath(sum.Hex)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return checksum.Checksum{}, errors.BackingStore("creating blob directory", err)
	}
	if err := os.WriteFile(path, stored, 0644); err != nil {
		return checksum.Checksum{}, errors.BackingStore("writing blob file", err)
	}

	m := meta{
		Hash:       sum.Hex,
		Size:       int64(len(content)),
		RefCount:   1,
		Compressed: compressed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.putMeta(m); err != nil {
		os.Remove(path)
		return checksum.Checksum{}, err
	}

	s.cache.Add(sum.Hex, content)
	return sum, nil
}

// Get retrieves a blob by checksum and verifies it on the way out.
func (s *Store) Get(sum checksum.Checksum) ([]byte, error) {
	if content, ok := s.cache.Get(sum.Hex); ok {
		return content, nil
	}

	m, err := s.getMeta(sum.Hex)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(s.blobPath(sum.Hex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("blob %s has metadata but no file", sum.Hex)
		}
		return nil, errors.BackingStore("reading blob file", err)
	}

	if m.Compressed {
		content, err = s.dec.DecodeAll(content, nil)
		if err != nil {
			return nil, errors.BackingStore("decompressing blob "+sum.Hex, err)
		}
	}

	if err := sum.Verify(content); err != nil {
		return nil, err
	}

	s.cache.Add(sum.Hex, content)
	return content, nil
}

// Has reports whether a blob exists without touching its bytes.
func (s *Store) Has(sum checksum.Checksum) (bool, error) {
	if s.cache.Contains(sum.Hex) {
		return true, nil
	}
	_, err := s.getMeta(sum.Hex)
	if err == nil {
		return true, nil
	}
	if errors.IsKind(err, errors.KindNotFound) {
		return false, nil
	}
	return false, err
}

// Release drops one reference to a blob, removing it entirely when the
// count reaches zero.
func (s *Store) Release(sum checksum.Checksum) error {
	m, err := s.getMeta(sum.Hex)
	if err != nil {
		return err
	}

	m.RefCount--
	if m.RefCount > 0 {
		return s.putMeta(m)
	}

	if err := os.Remove(s.blobPath(sum.Hex)); err != nil && !os.IsNotExist(err) {
		return errors.BackingStore("removing blob file", err)
	}
	if err := s.deleteMeta(sum.Hex); err != nil {
		return err
	}
	s.cache.Remove(sum.Hex)
	return nil
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

// tryBumpRef increments the refcount when the blob already exists; it
// reports false without error when it does not.
func (s *Store) tryBumpRef(hash string) (bool, error) {
	found := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		var m meta
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		}); err != nil {
			return err
		}

		m.RefCount++
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		found = true
		return txn.Set(metaKey(hash), data)
	})
	if err != nil {
		return false, errors.BackingStore("updating blob metadata", err)
	}
	return found, nil
}

func (s *Store) putMeta(m meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.BackingStore("marshaling blob metadata", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(m.Hash), data)
	})
	if err != nil {
		return errors.BackingStore("storing blob metadata", err)
	}
	return nil
}

func (s *Store) getMeta(hash string) (meta, error) {
	var m meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err == badger.ErrKeyNotFound {
		return meta{}, errors.NotFound("no blob %s", hash)
	}
	if err != nil {
		return meta{}, errors.BackingStore("reading blob metadata", err)
	}
	return m, nil
}

func (s *Store) deleteMeta(hash string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(hash))
	})
	if err != nil {
		return errors.BackingStore("deleting blob metadata", err)
	}
	return nil
}

func metaKey(hash string) []byte {
	return []byte("blob:" + hash)
}
