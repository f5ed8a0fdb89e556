package editor

import (
	"strings"

	"drift/internal/checksum"
	"drift/internal/delta"
	"drift/internal/errors"
)

// Guard wraps a consumer with structural enforcement of the protocol
// grammar: scope nesting, sibling non-interleaving, per-directory path
// uniqueness, single textdelta per file and terminal-state rejection. Every
// violation is a typed protocol error and leaves both the guard's and the
// inner consumer's state untouched, so the caller may still legally Abort.
func Guard(inner TreeEditor) TreeEditor {
	return &guardSession{inner: inner, shared: &guardShared{}}
}

// guardShared is the session-wide state every scope handle consults, so a
// handle kept across an Abort fails instead of reaching the consumer.
type guardShared struct {
	aborted bool
	closed  bool
}

func (s *guardShared) terminal() error {
	if s.aborted {
		return errors.Protocol("edit session already aborted")
	}
	if s.closed {
		return errors.Protocol("edit session already closed")
	}
	return nil
}

type guardSession struct {
	inner      TreeEditor
	shared     *guardShared
	root       *guardDir
	rootOpened bool
}

func (g *guardSession) SetTargetRevision(rev Revision) error {
	if err := g.shared.terminal(); err != nil {
		return err
	}
	if g.rootOpened {
		return errors.Protocol("SetTargetRevision after OpenRoot")
	}
	return g.inner.SetTargetRevision(rev)
}

func (g *guardSession) OpenRoot(base Revision) (DirEditor, error) {
	if err := g.shared.terminal(); err != nil {
		return nil, err
	}
	if g.rootOpened {
		return nil, errors.Protocol("root opened twice")
	}

	inner, err := g.inner.OpenRoot(base)
	if err != nil {
		return nil, err
	}
	g.rootOpened = true
	g.root = &guardDir{inner: inner, shared: g.shared, children: map[string]childState{}}
	return g.root, nil
}

func (g *guardSession) Close() error {
	if err := g.shared.terminal(); err != nil {
		return err
	}
	if !g.rootOpened {
		return errors.Protocol("closing session before opening root")
	}
	if !g.root.closed {
		return errors.Protocol("closing session while root directory scope is open")
	}

	if err := g.inner.Close(); err != nil {
		return err
	}
	g.shared.closed = true
	return nil
}

func (g *guardSession) Abort() error {
	if err := g.shared.terminal(); err != nil {
		return err
	}
	// Mark first: even if the consumer's Abort fails, the session is void
	// and no further edits may reach it.
	g.shared.aborted = true
	return g.inner.Abort()
}

type childState byte

const (
	childIntroduced childState = iota // added, opened or declared absent
	childDeleted
)

type guardDir struct {
	inner    DirEditor
	shared   *guardShared
	parent   *guardDir // nil for the root scope
	children map[string]childState
	open     bool // a child scope is currently open
	closed   bool
}

func (d *guardDir) check() error {
	if err := d.shared.terminal(); err != nil {
		return err
	}
	if d.closed {
		return errors.Protocol("directory scope used after close")
	}
	if d.open {
		return errors.Protocol("directory scope used while a child scope is open")
	}
	return nil
}

func validPath(path string) error {
	if path == "" {
		return errors.Protocol("empty path")
	}
	if strings.HasPrefix(path, "/") {
		return errors.Protocol("path %q is not relative", path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.Protocol("path %q contains an invalid segment", path)
		}
	}
	return nil
}

// introduce records that path has been claimed within this scope; asDelete
// marks a deletion, which may later be replaced by an add.
func (d *guardDir) introduce(path string, asDelete bool) error {
	if err := validPath(path); err != nil {
		return err
	}
	state, seen := d.children[path]
	if seen && !(state == childDeleted && !asDelete) {
		return errors.Protocol("child %q already introduced in this directory scope", path)
	}
	if asDelete {
		d.children[path] = childDeleted
	} else {
		d.children[path] = childIntroduced
	}
	return nil
}

func (d *guardDir) DeleteEntry(path string, rev Revision) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.introduce(path, true); err != nil {
		return err
	}
	if err := d.inner.DeleteEntry(path, rev); err != nil {
		delete(d.children, path)
		return err
	}
	return nil
}

func (d *guardDir) AddDir(path string, copy *CopySource) (DirEditor, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := d.introduce(path, false); err != nil {
		return nil, err
	}

	inner, err := d.inner.AddDir(path, copy)
	if err != nil {
		return nil, err
	}
	return d.childDir(inner), nil
}

func (d *guardDir) OpenDir(path string, base Revision) (DirEditor, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if state, seen := d.children[path]; seen && state == childDeleted {
		return nil, errors.Protocol("opening deleted child %q", path)
	}
	if err := d.introduce(path, false); err != nil {
		return nil, err
	}

	inner, err := d.inner.OpenDir(path, base)
	if err != nil {
		return nil, err
	}
	return d.childDir(inner), nil
}

func (d *guardDir) childDir(inner DirEditor) DirEditor {
	d.open = true
	return &guardDir{inner: inner, shared: d.shared, parent: d, children: map[string]childState{}}
}

func (d *guardDir) AddFile(path string, copy *CopySource) (FileEditor, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := d.introduce(path, false); err != nil {
		return nil, err
	}

	inner, err := d.inner.AddFile(path, copy)
	if err != nil {
		return nil, err
	}
	d.open = true
	return &guardFile{inner: inner, shared: d.shared, parent: d}, nil
}

func (d *guardDir) OpenFile(path string, base Revision) (FileEditor, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if state, seen := d.children[path]; seen && state == childDeleted {
		return nil, errors.Protocol("opening deleted child %q", path)
	}
	if err := d.introduce(path, false); err != nil {
		return nil, err
	}

	inner, err := d.inner.OpenFile(path, base)
	if err != nil {
		return nil, err
	}
	d.open = true
	return &guardFile{inner: inner, shared: d.shared, parent: d}, nil
}

func (d *guardDir) AbsentDir(path string) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.introduce(path, false); err != nil {
		return err
	}
	return d.inner.AbsentDir(path)
}

func (d *guardDir) AbsentFile(path string) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.introduce(path, false); err != nil {
		return err
	}
	return d.inner.AbsentFile(path)
}

func (d *guardDir) ChangeProp(name string, value []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	if name == "" {
		return errors.Protocol("empty property name")
	}
	return d.inner.ChangeProp(name, value)
}

func (d *guardDir) Close() error {
	if err := d.check(); err != nil {
		return err
	}

	if err := d.inner.Close(); err != nil {
		return err
	}
	d.closed = true
	if d.parent != nil {
		d.parent.open = false
	}
	return nil
}

type guardFile struct {
	inner        FileEditor
	shared       *guardShared
	parent       *guardDir
	closed       bool
	deltaApplied bool
	sink         *guardSink
}

func (f *guardFile) check() error {
	if err := f.shared.terminal(); err != nil {
		return err
	}
	if f.closed {
		return errors.Protocol("file scope used after close")
	}
	return nil
}

func (f *guardFile) ApplyTextDelta(base checksum.Checksum) (delta.WindowSink, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	if f.deltaApplied {
		return nil, errors.Protocol("ApplyTextDelta called twice on one file scope")
	}

	inner, err := f.inner.ApplyTextDelta(base)
	if err != nil {
		return nil, err
	}
	f.deltaApplied = true
	f.sink = &guardSink{inner: inner, shared: f.shared}
	return f.sink, nil
}

func (f *guardFile) ChangeProp(name string, value []byte) error {
	if err := f.check(); err != nil {
		return err
	}
	if name == "" {
		return errors.Protocol("empty property name")
	}
	return f.inner.ChangeProp(name, value)
}

func (f *guardFile) Close(final checksum.Checksum) error {
	if err := f.check(); err != nil {
		return err
	}
	if f.sink != nil && !f.sink.done {
		return errors.Protocol("closing file scope with an unfinished window stream")
	}

	if err := f.inner.Close(final); err != nil {
		return err
	}
	f.closed = true
	if f.parent != nil {
		f.parent.open = false
	}
	return nil
}

// guardSink enforces window-stream framing around the consumer's sink.
type guardSink struct {
	inner  delta.WindowSink
	shared *guardShared
	done   bool
}

func (s *guardSink) Window(w *delta.Window) error {
	if err := s.shared.terminal(); err != nil {
		return err
	}
	if s.done {
		return errors.Protocol("window pushed after end of stream")
	}
	if w == nil {
		return errors.Protocol("nil window; end of stream is signalled by Finish")
	}
	return s.inner.Window(w)
}

func (s *guardSink) Finish() error {
	if err := s.shared.terminal(); err != nil {
		return err
	}
	if s.done {
		return errors.Protocol("window stream finished twice")
	}
	if err := s.inner.Finish(); err != nil {
		return err
	}
	s.done = true
	return nil
}
