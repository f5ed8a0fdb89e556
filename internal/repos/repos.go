// Package repos persists revisions. Each commit stores a tree manifest in
// badger and its file contents in the blob store; revisions are numbered
// sequentially from 1 and HEAD points at the newest one.
package repos

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"drift/internal/blob"
	"drift/internal/checksum"
	"drift/internal/editor"
	"drift/internal/errors"
	"drift/internal/tree"
)

// Commit is one revision's log entry.
type Commit struct {
	ID       string          `json:"id"`
	Revision editor.Revision `json:"revision"`
	Message  string          `json:"message"`
	Author   string          `json:"author"`
	Time     time.Time       `json:"time"`
}

// manifestNode mirrors tree.Node for storage; file contents are held in the
// blob store and referenced by checksum.
type manifestNode struct {
	Kind     string                   `json:"kind"`
	Props    map[string][]byte        `json:"props,omitempty"`
	Blob     string                   `json:"blob,omitempty"`
	Absent   bool                     `json:"absent,omitempty"`
	Rev      int64                    `json:"rev"`
	Children map[string]*manifestNode `json:"children,omitempty"`
}

// Repository is the revision store. Commits are serialized; reads can run
// concurrently against any revision.
type Repository struct {
	db     *badger.DB
	blobs  *blob.Store
	logger *zap.Logger

	mu sync.Mutex // serializes commits
}

func Open(db *badger.DB, blobs *blob.Store, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, blobs: blobs, logger: logger}
}

// Head returns the newest revision, or None for an empty repository.
func (r *Repository) Head() (editor.Revision, error) {
	head := editor.None
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(headKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var n int64
			if _, err := fmt.Sscanf(string(val), "%d", &n); err != nil {
				return err
			}
			head = editor.Revision(n)
			return nil
		})
	})
	if err != nil {
		return editor.None, errors.BackingStore("reading head", err)
	}
	return head, nil
}

// Txn is an open commit. It behaves as a guarded edit consumer; Close
// writes the revision and Abort discards it.
type Txn struct {
	editor.TreeEditor
	ct *commitTxn
}

// Commit returns the log entry written by Close. Zero before then.
func (t *Txn) Commit() Commit { return t.ct.Committed }

// BaseTree returns the snapshot the edit started from; nil for the first
// commit.
func (t *Txn) BaseTree() *tree.Tree { return t.ct.base }

// BaseRevision returns the HEAD the edit started from.
func (t *Txn) BaseRevision() editor.Revision { return t.ct.baseRev }

// Begin starts a commit against the current HEAD. Closing the returned
// session writes the new revision; aborting discards everything.
func (r *Repository) Begin(message, author string) (*Txn, error) {
	head, err := r.Head()
	if err != nil {
		return nil, err
	}

	var base *tree.Tree
	if !head.IsNone() {
		if base, err = r.TreeAt(head); err != nil {
			return nil, err
		}
	}

	ct := &commitTxn{
		repo:    r,
		inner:   tree.NewEditor(base),
		base:    base,
		baseRev: head,
		message: message,
		author:  author,
	}
	return &Txn{TreeEditor: editor.Guard(ct), ct: ct}, nil
}

// TreeAt materializes the full tree of a revision, blob contents included.
func (r *Repository) TreeAt(rev editor.Revision) (*tree.Tree, error) {
	m, err := r.manifest(rev)
	if err != nil {
		return nil, err
	}
	root, err := r.restore(m)
	if err != nil {
		return nil, err
	}
	return &tree.Tree{Root: root}, nil
}

// Cat returns one file's content at a revision without materializing the
// rest of the tree.
func (r *Repository) Cat(rev editor.Revision, path string) ([]byte, error) {
	m, err := r.manifest(rev)
	if err != nil {
		return nil, err
	}
	t, err := r.restore(m)
	if err != nil {
		return nil, err
	}
	n, err := (&tree.Tree{Root: t}).Lookup(path)
	if err != nil {
		return nil, err
	}
	if n.Kind != tree.KindFile {
		return nil, errors.BackingStore(path+" is a directory", nil)
	}
	return n.Content, nil
}

// Log returns all commits, newest first.
func (r *Repository) Log() ([]Commit, error) {
	var commits []Commit
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("commit:")
		// Reverse iteration starts just past the prefix range.
		for it.Seek(append(prefix, 0xff)); it.ValidForPrefix(prefix); it.Next() {
			var c Commit
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			commits = append(commits, c)
		}
		return nil
	})
	if err != nil {
		return nil, errors.BackingStore("listing commits", err)
	}
	return commits, nil
}

func (r *Repository) manifest(rev editor.Revision) (*manifestNode, error) {
	if rev.IsNone() {
		return nil, errors.NotFound("no such revision %s", rev)
	}
	var m manifestNode
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(revKey(rev))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.NotFound("no such revision %s", rev)
	}
	if err != nil {
		return nil, errors.BackingStore("reading revision manifest", err)
	}
	return &m, nil
}

func (r *Repository) restore(m *manifestNode) (*tree.Node, error) {
	n := &tree.Node{Absent: m.Absent, Rev: editor.Revision(m.Rev)}
	if len(m.Props) > 0 {
		n.Props = m.Props
	}
	if m.Kind == "dir" {
		n.Kind = tree.KindDir
		n.Children = make(map[string]*tree.Node, len(m.Children))
		for name, child := range m.Children {
			restored, err := r.restore(child)
			if err != nil {
				return nil, err
			}
			n.Children[name] = restored
		}
		return n, nil
	}

	n.Kind = tree.KindFile
	if m.Blob != "" {
		content, err := r.blobs.Get(checksum.Checksum{Algo: checksum.SHA256, Hex: m.Blob})
		if err != nil {
			return nil, err
		}
		n.Content = content
	}
	return n, nil
}

// commit persists a finished tree as the next revision.
func (r *Repository) commit(result *tree.Tree, base *tree.Tree, baseRev editor.Revision, message, author string) (Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.Head()
	if err != nil {
		return Commit{}, err
	}
	if head != baseRev {
		return Commit{}, errors.BackingStore(
			fmt.Sprintf("head moved from %s to %s during edit", baseRev, head), nil)
	}

	next := head + 1
	if head.IsNone() {
		next = 1
	}

	m, err := r.snapshot(result.Root, baseNode(base), next)
	if err != nil {
		return Commit{}, err
	}

	c := Commit{
		ID:       uuid.NewString(),
		Revision: next,
		Message:  message,
		Author:   author,
		Time:     time.Now().UTC(),
	}

	manifestData, err := json.Marshal(m)
	if err != nil {
		return Commit{}, errors.BackingStore("marshaling manifest", err)
	}
	commitData, err := json.Marshal(c)
	if err != nil {
		return Commit{}, errors.BackingStore("marshaling commit", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(revKey(next), manifestData); err != nil {
			return err
		}
		if err := txn.Set(commitKey(next), commitData); err != nil {
			return err
		}
		return txn.Set(headKey, []byte(fmt.Sprintf("%d", next)))
	})
	if err != nil {
		return Commit{}, errors.BackingStore("writing revision", err)
	}

	r.logger.Info("committed revision",
		zap.String("id", c.ID),
		zap.Int64("revision", int64(next)),
		zap.String("author", author),
	)
	return c, nil
}

// snapshot converts a tree into a manifest, storing file contents as blobs.
// Nodes unchanged since the base keep their old revision stamp.
func (r *Repository) snapshot(n, base *tree.Node, rev editor.Revision) (*manifestNode, error) {
	m := &manifestNode{Absent: n.Absent, Rev: int64(rev)}
	if base != nil && tree.NodesEqual(n, base) {
		m.Rev = int64(base.Rev)
	}
	if len(n.Props) > 0 {
		m.Props = n.Props
	}

	if n.Kind == tree.KindDir {
		m.Kind = "dir"
		if len(n.Children) > 0 {
			m.Children = make(map[string]*manifestNode, len(n.Children))
		}
		for name, child := range n.Children {
			var baseChild *tree.Node
			if base != nil && base.Children != nil {
				baseChild = base.Children[name]
			}
			cm, err := r.snapshot(child, baseChild, rev)
			if err != nil {
				return nil, err
			}
			m.Children[name] = cm
		}
		return m, nil
	}

	m.Kind = "file"
	if !n.Absent {
		sum, err := r.blobs.Put(n.Content)
		if err != nil {
			return nil, err
		}
		m.Blob = sum.Hex
	}
	return m, nil
}

func baseNode(base *tree.Tree) *tree.Node {
	if base == nil {
		return nil
	}
	return base.Root
}

// commitTxn adapts an in-memory tree edit into a commit on Close.
type commitTxn struct {
	repo    *Repository
	inner   *tree.Editor
	base    *tree.Tree
	baseRev editor.Revision
	message string
	author  string

	// Result of the commit, readable after Close.
	Committed Commit
}

func (t *commitTxn) SetTargetRevision(rev editor.Revision) error {
	return t.inner.SetTargetRevision(rev)
}

func (t *commitTxn) OpenRoot(base editor.Revision) (editor.DirEditor, error) {
	return t.inner.OpenRoot(base)
}

func (t *commitTxn) Close() error {
	if err := t.inner.Close(); err != nil {
		return err
	}
	result, err := t.inner.Result()
	if err != nil {
		return err
	}
	c, err := t.repo.commit(result, t.base, t.baseRev, t.message, t.author)
	if err != nil {
		return err
	}
	t.Committed = c
	return nil
}

func (t *commitTxn) Abort() error {
	t.repo.logger.Debug("edit aborted", zap.String("author", t.author))
	return t.inner.Abort()
}

var headKey = []byte("head")

func revKey(rev editor.Revision) []byte {
	return []byte(fmt.Sprintf("rev:%012d", int64(rev)))
}

func commitKey(rev editor.Revision) []byte {
	return []byte(fmt.Sprintf("commit:%012d", int64(rev)))
}
