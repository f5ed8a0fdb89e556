package driver

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drift/internal/checksum"
	"drift/internal/delta"
	"drift/internal/editor"
	"drift/internal/errors"
	"drift/internal/tree"
)

func mustBuild(t *testing.T, entries map[string]string) *tree.Tree {
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

func roundTrip(t *testing.T, old, new *tree.Tree) {
	t.Helper()
	consumer := tree.NewEditor(old)
	err := Drive(context.Background(), old, new, editor.Guard(consumer), Options{})
	require.NoError(t, err)

	got, err := consumer.Result()
	require.NoError(t, err)
	assert.True(t, tree.Equal(got, new), "driven tree differs from target")
}

func TestDriveRoundTrips(t *testing.T) {
	old := mustBuild(t, map[string]string{
		"README.md":       "hello\n",
		"src/main.go":     "package main\n",
		"src/util/io.go":  "package util\n",
		"docs/guide.txt":  "read me",
		"keep/steady.txt": "unchanged",
	})
	new := mustBuild(t, map[string]string{
		"README.md":       "hello world\n",
		"src/main.go":     "package main\n",
		"src/cli/run.go":  "package cli\n",
		"keep/steady.txt": "unchanged",
	})

	roundTrip(t, old, new)
}

func TestDriveFullImport(t *testing.T) {
	src := mustBuild(t, map[string]string{
		"a/b/c.txt": "deep",
		"top.txt":   "shallow",
	})

	consumer := tree.NewEditor(nil)
	require.NoError(t, Import(context.Background(), src, editor.Guard(consumer), Options{}))

	got, err := consumer.Result()
	require.NoError(t, err)
	assert.True(t, tree.Equal(got, src))
}

func TestDriveKindChangeIsReplacement(t *testing.T) {
	old := mustBuild(t, map[string]string{"thing": "i am a file"})
	new := mustBuild(t, map[string]string{"thing/nested.txt": "now a directory"})
	roundTrip(t, old, new)

	// And back the other way.
	roundTrip(t, new, old)
}

func TestDrivePropChanges(t *testing.T) {
	old := mustBuild(t, map[string]string{"f": "body"})
	old.Root.Children["f"].Props = map[string][]byte{
		"mode":  []byte("0644"),
		"owner": []byte("alice"),
	}
	old.Root.Props = map[string][]byte{"root-p": []byte("x")}

	new := old.Clone()
	new.Root.Children["f"].Props["mode"] = []byte("0755")
	delete(new.Root.Children["f"].Props, "owner")
	new.Root.Props["extra"] = []byte("y")

	roundTrip(t, old, new)
}

func TestDriveAbsentEntry(t *testing.T) {
	old := mustBuild(t, map[string]string{"secret.txt": "classified", "open.txt": "public"})
	new := old.Clone()
	withdrawn := tree.NewFile(nil)
	withdrawn.Absent = true
	new.Root.Children["secret.txt"] = withdrawn

	roundTrip(t, old, new)
}

func TestDriveEmptyDiffStillClosesSession(t *testing.T) {
	src := mustBuild(t, map[string]string{"same.txt": "same"})
	rec := &recorder{}
	require.NoError(t, Drive(context.Background(), src, src.Clone(), editor.Guard(rec), Options{}))
	assert.Equal(t, []string{"open-root", "close-root", "close"}, rec.calls)
}

func TestDriveSetsTargetRevision(t *testing.T) {
	consumer := tree.NewEditor(nil)
	src := mustBuild(t, map[string]string{"f": "x"})
	err := Drive(context.Background(), nil, src, editor.Guard(consumer), Options{
		Target: editor.Revision(7),
	})
	require.NoError(t, err)
	assert.Equal(t, editor.Revision(7), consumer.TargetRevision())
}

func TestDriveOrdering(t *testing.T) {
	old := mustBuild(t, map[string]string{
		"b/gone.txt": "x",
		"swap":       "file becomes dir",
	})
	new := mustBuild(t, map[string]string{
		"a/new.txt":   "y",
		"swap/in.txt": "z",
		"z/trail.txt": "w",
	})

	rec := &recorder{}
	require.NoError(t, Drive(context.Background(), old, new, editor.Guard(rec), Options{}))

	assert.Equal(t, []string{
		"open-root",
		"add-dir a",
		"add-file new.txt",
		"textdelta",
		"close-file",
		"close-dir",
		"delete b",
		"delete swap", // delete precedes the replacing add
		"add-dir swap",
		"add-file in.txt",
		"textdelta",
		"close-file",
		"close-dir",
		"add-dir z",
		"add-file trail.txt",
		"textdelta",
		"close-file",
		"close-dir",
		"close-root",
		"close",
	}, rec.calls)
}

func TestDriveAbortsOnConsumerError(t *testing.T) {
	old := mustBuild(t, map[string]string{"a/f": "x"})
	new := mustBuild(t, map[string]string{"a/f": "y"})

	rec := &recorder{failOn: "close-file"}
	err := Drive(context.Background(), old, new, rec, Options{})
	require.Error(t, err)
	assert.Equal(t, "abort", rec.calls[len(rec.calls)-1])
}

func TestDriveAbortsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	consumer := tree.NewEditor(nil)
	err := Drive(ctx, nil, mustBuild(t, map[string]string{"f": "x"}), editor.Guard(consumer), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, tree.Aborted, consumer.State())
}

// recorder notes every call it receives, optionally failing one of them.
type recorder struct {
	calls  []string
	failOn string
}

func (r *recorder) note(call string) error {
	r.calls = append(r.calls, call)
	if call == r.failOn {
		return errors.BackingStore("induced failure at "+call, nil)
	}
	return nil
}

func (r *recorder) SetTargetRevision(rev editor.Revision) error {
	return r.note("target " + rev.String())
}

func (r *recorder) OpenRoot(base editor.Revision) (editor.DirEditor, error) {
	if err := r.note("open-root"); err != nil {
		return nil, err
	}
	return &recDir{r: r, root: true}, nil
}

func (r *recorder) Close() error { return r.note("close") }
func (r *recorder) Abort() error { return r.note("abort") }

type recDir struct {
	r    *recorder
	root bool
}

func (d *recDir) DeleteEntry(path string, rev editor.Revision) error {
	return d.r.note("delete " + path)
}

func (d *recDir) AddDir(path string, copy *editor.CopySource) (editor.DirEditor, error) {
	if err := d.r.note("add-dir " + path); err != nil {
		return nil, err
	}
	return &recDir{r: d.r}, nil
}

func (d *recDir) OpenDir(path string, base editor.Revision) (editor.DirEditor, error) {
	if err := d.r.note("open-dir " + path); err != nil {
		return nil, err
	}
	return &recDir{r: d.r}, nil
}

func (d *recDir) AddFile(path string, copy *editor.CopySource) (editor.FileEditor, error) {
	if err := d.r.note("add-file " + path); err != nil {
		return nil, err
	}
	return &recFile{r: d.r}, nil
}

func (d *recDir) OpenFile(path string, base editor.Revision) (editor.FileEditor, error) {
	if err := d.r.note("open-file " + path); err != nil {
		return nil, err
	}
	return &recFile{r: d.r}, nil
}

func (d *recDir) AbsentDir(path string) error  { return d.r.note("absent-dir " + path) }
func (d *recDir) AbsentFile(path string) error { return d.r.note("absent-file " + path) }

func (d *recDir) ChangeProp(name string, value []byte) error {
	return d.r.note(fmt.Sprintf("dir-prop %s=%q", name, value))
}

func (d *recDir) Close() error {
	if d.root {
		return d.r.note("close-root")
	}
	return d.r.note("close-dir")
}

type recFile struct{ r *recorder }

func (f *recFile) ApplyTextDelta(base checksum.Checksum) (delta.WindowSink, error) {
	if err := f.r.note("textdelta"); err != nil {
		return nil, err
	}
	return delta.NopSink(), nil
}

func (f *recFile) ChangeProp(name string, value []byte) error {
	return f.r.note(fmt.Sprintf("file-prop %s=%q", name, value))
}

func (f *recFile) Close(final checksum.Checksum) error {
	return f.r.note("close-file")
}
