package repos

import (
	"context"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drift/internal/blob"
	"drift/internal/checksum"
	"drift/internal/delta"
	"drift/internal/driver"
	"drift/internal/editor"
	"drift/internal/errors"
	"drift/internal/tree"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.New(db, blob.Options{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	return Open(db, blobs, nil)
}

func build(t *testing.T, entries map[string]string) *tree.Tree {
	t.Helper()
	out := tree.New()
	for path, content := range entries {
		dir := out.Root
		segs := strings.Split(path, "/")
		for _, seg := range segs[:len(segs)-1] {
			next, ok := dir.Children[seg]
			if !ok {
				next = tree.NewDir()
				dir.Children[seg] = next
			}
			dir = next
		}
		dir.Children[segs[len(segs)-1]] = tree.NewFile([]byte(content))
	}
	return out
}

// commit drives src as the next revision and returns its log entry.
func commit(t *testing.T, r *Repository, src *tree.Tree, message string) Commit {
	t.Helper()
	txn, err := r.Begin(message, "tester")
	require.NoError(t, err)
	require.NoError(t, driver.Drive(context.Background(), txn.BaseTree(), src, txn, driver.Options{}))
	return txn.Commit()
}

func TestFirstCommit(t *testing.T) {
	r := newRepo(t)

	head, err := r.Head()
	require.NoError(t, err)
	assert.True(t, head.IsNone())

	src := build(t, map[string]string{"a.txt": "alpha", "dir/b.txt": "beta"})
	c := commit(t, r, src, "initial import")

	assert.Equal(t, editor.Revision(1), c.Revision)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "initial import", c.Message)

	head, err = r.Head()
	require.NoError(t, err)
	assert.Equal(t, editor.Revision(1), head)

	got, err := r.TreeAt(1)
	require.NoError(t, err)
	assert.True(t, tree.Equal(got, src))
}

func TestHistoryIsImmutable(t *testing.T) {
	r := newRepo(t)

	commit(t, r, build(t, map[string]string{"f.txt": "first"}), "one")
	commit(t, r, build(t, map[string]string{"f.txt": "second", "g.txt": "new"}), "two")

	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, editor.Revision(2), head)

	content, err := r.Cat(1, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "first", string(content))

	content, err = r.Cat(2, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))

	_, err = r.Cat(1, "g.txt")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestUnchangedNodesKeepRevisionStamp(t *testing.T) {
	r := newRepo(t)

	commit(t, r, build(t, map[string]string{"stable.txt": "same", "moving.txt": "v1"}), "one")
	commit(t, r, build(t, map[string]string{"stable.txt": "same", "moving.txt": "v2"}), "two")

	got, err := r.TreeAt(2)
	require.NoError(t, err)

	stable, err := got.Lookup("stable.txt")
	require.NoError(t, err)
	assert.Equal(t, editor.Revision(1), stable.Rev)

	moving, err := got.Lookup("moving.txt")
	require.NoError(t, err)
	assert.Equal(t, editor.Revision(2), moving.Rev)
}

func TestLogNewestFirst(t *testing.T) {
	r := newRepo(t)
	commit(t, r, build(t, map[string]string{"a": "1"}), "first")
	commit(t, r, build(t, map[string]string{"a": "2"}), "second")
	commit(t, r, build(t, map[string]string{"a": "3"}), "third")

	log, err := r.Log()
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, "third", log[0].Message)
	assert.Equal(t, "first", log[2].Message)
	assert.Equal(t, editor.Revision(3), log[0].Revision)
}

func TestAbortLeavesHeadAlone(t *testing.T) {
	r := newRepo(t)
	commit(t, r, build(t, map[string]string{"f": "x"}), "one")

	txn, err := r.Begin("doomed", "tester")
	require.NoError(t, err)
	root, err := txn.OpenRoot(editor.Revision(1))
	require.NoError(t, err)
	require.NoError(t, root.DeleteEntry("f", editor.Revision(1)))
	require.NoError(t, txn.Abort())

	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, editor.Revision(1), head)

	content, err := r.Cat(1, "f")
	require.NoError(t, err)
	assert.Equal(t, "x", string(content))
}

func TestStaleEditRejectedAtCommit(t *testing.T) {
	r := newRepo(t)
	commit(t, r, build(t, map[string]string{"f": "x"}), "one")

	// Two concurrent edits off the same base; the second to land fails.
	a, err := r.Begin("wins", "alice")
	require.NoError(t, err)
	b, err := r.Begin("loses", "bob")
	require.NoError(t, err)

	drive := func(txn *Txn, content string) error {
		root, err := txn.OpenRoot(txn.BaseRevision())
		if err != nil {
			return err
		}
		f, err := root.OpenFile("f", editor.Revision(1))
		if err != nil {
			return err
		}
		sink, err := f.ApplyTextDelta(checksum.Checksum{})
		if err != nil {
			return err
		}
		if err := delta.Send(sink, delta.InsertWindow([]byte(content))); err != nil {
			return err
		}
		if err := f.Close(checksum.Checksum{}); err != nil {
			return err
		}
		if err := root.Close(); err != nil {
			return err
		}
		return txn.Close()
	}

	require.NoError(t, drive(a, "from alice"))
	err = drive(b, "from bob")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBackingStore))

	content, err := r.Cat(2, "f")
	require.NoError(t, err)
	assert.Equal(t, "from alice", string(content))
}

func TestMissingRevision(t *testing.T) {
	r := newRepo(t)
	_, err := r.TreeAt(editor.Revision(99))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestAbsentSurvivesRoundTrip(t *testing.T) {
	r := newRepo(t)
	src := build(t, map[string]string{"open.txt": "public"})
	withheld := tree.NewFile(nil)
	withheld.Absent = true
	src.Root.Children["withheld.txt"] = withheld

	commit(t, r, src, "with absent entry")

	got, err := r.TreeAt(1)
	require.NoError(t, err)
	n, err := got.Lookup("withheld.txt")
	require.NoError(t, err)
	assert.True(t, n.Absent)
}
