// Package workspace bridges the working directory and the tree model: it
// snapshots the directory into a tree and applies edits back onto disk.
package workspace

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"drift/internal/checksum"
	"drift/internal/delta"
	"drift/internal/editor"
	"drift/internal/errors"
	"drift/internal/tree"
)

// MetaDirName is the control directory marking a workspace root.
const MetaDirName = ".drift"

// incompleteMarker sits in the control directory while an edit is being
// applied to disk. A marker left behind means the last apply aborted and
// the working directory may be half-updated.
const incompleteMarker = "incomplete"

// skipNames are never snapshotted.
var skipNames = map[string]bool{
	MetaDirName:    true,
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

type Workspace struct {
	Root   string
	Logger *zap.Logger

	mu sync.Mutex
}

func Open(root string, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{Root: root, Logger: logger}
}

// Init creates the control directory, failing if one already exists.
func Init(root string, logger *zap.Logger) (*Workspace, error) {
	meta := filepath.Join(root, MetaDirName)
	if _, err := os.Stat(meta); err == nil {
		return nil, errors.BackingStore("workspace already initialized at "+root, nil)
	}
	if err := os.MkdirAll(meta, 0755); err != nil {
		return nil, errors.BackingStore("creating control directory", err)
	}
	return Open(root, logger), nil
}

// FindRoot walks up from startDir looking for the control directory.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", errors.BackingStore("resolving start directory", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, MetaDirName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NotFound("no workspace found above %s", startDir)
		}
		dir = parent
	}
}

func (w *Workspace) MetaDir() string {
	return filepath.Join(w.Root, MetaDirName)
}

// Incomplete reports whether the last apply was aborted partway.
func (w *Workspace) Incomplete() bool {
	_, err := os.Stat(filepath.Join(w.MetaDir(), incompleteMarker))
	return err == nil
}

// Snapshot reads the working directory into a tree. Control directories and
// dotfiles are skipped.
func (w *Workspace) Snapshot() (*tree.Tree, error) {
	t := tree.New()
	if err := w.snapshotDir(w.Root, t.Root); err != nil {
		return nil, err
	}
	return t, nil
}

func (w *Workspace) snapshotDir(dir string, node *tree.Node) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.BackingStore("reading directory "+dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if skipNames[name] || name[0] == '.' {
			continue
		}
		path := filepath.Join(dir, name)
		if entry.IsDir() {
			child := tree.NewDir()
			if err := w.snapshotDir(path, child); err != nil {
				return err
			}
			node.Children[name] = child
			continue
		}
		if !entry.Type().IsRegular() {
			w.Logger.Debug("skipping irregular file", zap.String("path", path))
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return errors.BackingStore("reading file "+path, err)
		}
		node.Children[name] = tree.NewFile(content)
	}
	return nil
}

// Apply returns an edit consumer that realizes the edit onto disk. New file
// contents are staged in the control directory and moved into place on file
// close, so a crash mid-stream never leaves a torn file.
func (w *Workspace) Apply() editor.TreeEditor {
	return editor.Guard(&diskEditor{ws: w})
}

type diskEditor struct {
	ws     *Workspace
	locked bool
}

// unlock releases the workspace lock if this edit holds it. Abort is legal
// before OpenRoot ever ran, so both terminal paths go through here.
func (e *diskEditor) unlock() {
	if e.locked {
		e.locked = false
		e.ws.mu.Unlock()
	}
}

func (e *diskEditor) SetTargetRevision(rev editor.Revision) error {
	e.ws.Logger.Debug("applying revision", zap.String("revision", rev.String()))
	return nil
}

func (e *diskEditor) OpenRoot(base editor.Revision) (editor.DirEditor, error) {
	e.ws.mu.Lock()
	e.locked = true
	marker := filepath.Join(e.ws.MetaDir(), incompleteMarker)
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		e.unlock()
		return nil, errors.BackingStore("writing incomplete marker", err)
	}
	return &diskDir{ws: e.ws, dir: e.ws.Root}, nil
}

func (e *diskEditor) Close() error {
	defer e.unlock()
	if err := os.Remove(filepath.Join(e.ws.MetaDir(), incompleteMarker)); err != nil {
		return errors.BackingStore("clearing incomplete marker", err)
	}
	return nil
}

// Abort leaves the incomplete marker in place; the working directory may be
// half-updated and the marker is how later commands find out.
func (e *diskEditor) Abort() error {
	e.unlock()
	e.ws.Logger.Warn("apply aborted, working directory may be incomplete")
	return nil
}

type diskDir struct {
	ws  *Workspace
	dir string
}

func (d *diskDir) DeleteEntry(path string, rev editor.Revision) error {
	if err := os.RemoveAll(filepath.Join(d.dir, path)); err != nil {
		return errors.BackingStore("deleting "+path, err)
	}
	return nil
}

func (d *diskDir) AddDir(path string, copy *editor.CopySource) (editor.DirEditor, error) {
	full := filepath.Join(d.dir, path)
	if err := os.MkdirAll(full, 0755); err != nil {
		return nil, errors.BackingStore("creating directory "+path, err)
	}
	return &diskDir{ws: d.ws, dir: full}, nil
}

func (d *diskDir) OpenDir(path string, base editor.Revision) (editor.DirEditor, error) {
	full := filepath.Join(d.dir, path)
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return nil, errors.NotFound("no directory %s in working copy", path)
	}
	return &diskDir{ws: d.ws, dir: full}, nil
}

func (d *diskDir) AddFile(path string, copy *editor.CopySource) (editor.FileEditor, error) {
	return &diskFile{ws: d.ws, path: filepath.Join(d.dir, path), existing: nil}, nil
}

func (d *diskDir) OpenFile(path string, base editor.Revision) (editor.FileEditor, error) {
	full := filepath.Join(d.dir, path)
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.NotFound("no file %s in working copy", path)
	}
	return &diskFile{ws: d.ws, path: full, existing: content}, nil
}

// AbsentDir and AbsentFile have no disk representation; the entry simply is
// not materialized.
func (d *diskDir) AbsentDir(path string) error  { return nil }
func (d *diskDir) AbsentFile(path string) error { return nil }

func (d *diskDir) ChangeProp(name string, value []byte) error {
	d.ws.Logger.Debug("ignoring directory property",
		zap.String("dir", d.dir), zap.String("name", name))
	return nil
}

func (d *diskDir) Close() error { return nil }

type diskFile struct {
	ws       *Workspace
	path     string
	existing []byte

	staged  []byte
	changed bool
	mode    os.FileMode
}

func (f *diskFile) ApplyTextDelta(base checksum.Checksum) (delta.WindowSink, error) {
	if err := base.Verify(f.existing); err != nil {
		return nil, err
	}
	return delta.ApplySink(f.existing, func(target []byte) error {
		f.staged = target
		f.changed = true
		return nil
	}), nil
}

func (f *diskFile) ChangeProp(name string, value []byte) error {
	if name == "mode" && value != nil {
		mode, err := strconv.ParseUint(string(value), 8, 32)
		if err != nil {
			return errors.Protocol("bad mode property %q", value)
		}
		f.mode = os.FileMode(mode)
	}
	return nil
}

func (f *diskFile) Close(final checksum.Checksum) error {
	content := f.existing
	if f.changed {
		content = f.staged
	}
	if err := final.Verify(content); err != nil {
		return err
	}

	if f.changed || f.existing == nil {
		// Stage next to the control directory, then move into place.
		tmp, err := os.CreateTemp(f.ws.MetaDir(), "stage-*")
		if err != nil {
			return errors.BackingStore("staging "+f.path, err)
		}
		if _, err := tmp.Write(content); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return errors.BackingStore("writing staged content", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return errors.BackingStore("closing staged content", err)
		}
		if err := os.Rename(tmp.Name(), f.path); err != nil {
			os.Remove(tmp.Name())
			return errors.BackingStore("moving "+f.path+" into place", err)
		}
	}

	mode := f.mode
	if mode == 0 && f.existing == nil {
		mode = 0644
	}
	if mode != 0 {
		if err := os.Chmod(f.path, mode); err != nil {
			return errors.BackingStore("setting mode on "+f.path, err)
		}
	}
	return nil
}
