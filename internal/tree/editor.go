package tree

import (
	"strings"

	"drift/internal/checksum"
	"drift/internal/delta"
	"drift/internal/editor"
	"drift/internal/errors"
)

// State tracks what became of an edit. An aborted edit is never
// presentable as a complete tree.
type State byte

const (
	Editing State = iota
	Closed
	Aborted
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Aborted:
		return "aborted"
	}
	return "editing"
}

// Editor realizes an edit session into an in-memory tree. It edits a clone
// of the base snapshot, so an abort costs nothing and the base is never
// touched.
type Editor struct {
	base      *Tree
	work      *Tree
	state     State
	targetRev editor.Revision
}

// NewEditor starts an edit against base; nil means an empty tree (full
// import). Wrap with editor.Guard for grammar enforcement.
func NewEditor(base *Tree) *Editor {
	e := &Editor{base: base, targetRev: editor.None}
	if base == nil {
		e.work = New()
	} else {
		e.work = base.Clone()
	}
	return e
}

func (e *Editor) State() State { return e.state }

// TargetRevision reports the revision announced via SetTargetRevision, or
// None.
func (e *Editor) TargetRevision() editor.Revision { return e.targetRev }

// Result hands out the edited tree, but only for a cleanly closed edit.
func (e *Editor) Result() (*Tree, error) {
	if e.state != Closed {
		return nil, errors.Protocol("edit is %s, not closed", e.state)
	}
	return e.work, nil
}

func (e *Editor) SetTargetRevision(rev editor.Revision) error {
	e.targetRev = rev
	return nil
}

func (e *Editor) OpenRoot(base editor.Revision) (editor.DirEditor, error) {
	return &dirScope{ed: e, node: e.work.Root}, nil
}

func (e *Editor) Close() error {
	e.state = Closed
	return nil
}

func (e *Editor) Abort() error {
	e.state = Aborted
	e.work = nil
	return nil
}

type dirScope struct {
	ed   *Editor
	node *Node
}

// resolve walks a scope-relative path down to its parent directory and
// final segment. Intermediate directories must already exist.
func (d *dirScope) resolve(path string) (*Node, string, error) {
	parent := d.node
	segs := strings.Split(path, "/")
	for _, seg := range segs[:len(segs)-1] {
		next, ok := parent.Children[seg]
		if !ok || next.Kind != KindDir {
			return nil, "", errors.NotFound("no directory %q under this scope", seg)
		}
		parent = next
	}
	return parent, segs[len(segs)-1], nil
}

func (d *dirScope) DeleteEntry(path string, rev editor.Revision) error {
	parent, name, err := d.resolve(path)
	if err != nil {
		return err
	}
	node, ok := parent.Children[name]
	if !ok {
		return errors.NotFound("cannot delete %q: no such entry", path)
	}
	if !rev.IsNone() && !node.Rev.IsNone() && node.Rev > rev {
		return errors.BackingStore(
			"entry "+path+" changed in "+node.Rev.String()+", newer than "+rev.String(), nil)
	}
	delete(parent.Children, name)
	return nil
}

func (d *dirScope) addNode(path string, node *Node) (*Node, error) {
	parent, name, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	if _, exists := parent.Children[name]; exists {
		return nil, errors.BackingStore("entry "+path+" already exists", nil)
	}
	parent.Children[name] = node
	return node, nil
}

// copyOf materializes a copy source from the base snapshot.
func (d *dirScope) copyOf(copy *editor.CopySource, want NodeKind) (*Node, error) {
	if d.ed.base == nil {
		return nil, errors.NotFound("copy source %q: edit has no base tree", copy.Path)
	}
	src, err := d.ed.base.Lookup(copy.Path)
	if err != nil {
		return nil, err
	}
	if src.Kind != want {
		return nil, errors.BackingStore("copy source "+copy.Path+" is a "+src.Kind.String(), nil)
	}
	return cloneNode(src), nil
}

func (d *dirScope) AddDir(path string, copy *editor.CopySource) (editor.DirEditor, error) {
	node := NewDir()
	if copy != nil {
		var err error
		if node, err = d.copyOf(copy, KindDir); err != nil {
			return nil, err
		}
	}
	node, err := d.addNode(path, node)
	if err != nil {
		return nil, err
	}
	return &dirScope{ed: d.ed, node: node}, nil
}

func (d *dirScope) OpenDir(path string, base editor.Revision) (editor.DirEditor, error) {
	parent, name, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	node, ok := parent.Children[name]
	if !ok || node.Kind != KindDir {
		return nil, errors.NotFound("no directory %q to open", path)
	}
	if node.Absent {
		return nil, errors.BackingStore("directory "+path+" is absent from this edit", nil)
	}
	return &dirScope{ed: d.ed, node: node}, nil
}

func (d *dirScope) AddFile(path string, copy *editor.CopySource) (editor.FileEditor, error) {
	node := NewFile(nil)
	if copy != nil {
		var err error
		if node, err = d.copyOf(copy, KindFile); err != nil {
			return nil, err
		}
	}
	node, err := d.addNode(path, node)
	if err != nil {
		return nil, err
	}
	return &fileScope{node: node}, nil
}

func (d *dirScope) OpenFile(path string, base editor.Revision) (editor.FileEditor, error) {
	parent, name, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	node, ok := parent.Children[name]
	if !ok || node.Kind != KindFile {
		return nil, errors.NotFound("no file %q to open", path)
	}
	if node.Absent {
		return nil, errors.BackingStore("file "+path+" is absent from this edit", nil)
	}
	return &fileScope{node: node}, nil
}

func (d *dirScope) AbsentDir(path string) error {
	node := NewDir()
	node.Absent = true
	_, err := d.addNode(path, node)
	return err
}

func (d *dirScope) AbsentFile(path string) error {
	node := NewFile(nil)
	node.Absent = true
	_, err := d.addNode(path, node)
	return err
}

func (d *dirScope) ChangeProp(name string, value []byte) error {
	changeProp(d.node, name, value)
	return nil
}

func (d *dirScope) Close() error { return nil }

func changeProp(n *Node, name string, value []byte) {
	if value == nil {
		delete(n.Props, name)
		return
	}
	if n.Props == nil {
		n.Props = map[string][]byte{}
	}
	n.Props[name] = append([]byte(nil), value...)
}

type fileScope struct {
	node    *Node
	staged  []byte
	changed bool
}

func (f *fileScope) ApplyTextDelta(base checksum.Checksum) (delta.WindowSink, error) {
	if err := base.Verify(f.node.Content); err != nil {
		return nil, err
	}
	return delta.ApplySink(f.node.Content, func(target []byte) error {
		f.staged = target
		f.changed = true
		return nil
	}), nil
}

func (f *fileScope) ChangeProp(name string, value []byte) error {
	changeProp(f.node, name, value)
	return nil
}

func (f *fileScope) Close(final checksum.Checksum) error {
	content := f.node.Content
	if f.changed {
		content = f.staged
	}
	if err := final.Verify(content); err != nil {
		return err
	}
	if f.changed {
		f.node.Content = f.staged
	}
	return nil
}
