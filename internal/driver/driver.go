// Package driver walks two tree snapshots and issues the canonical
// depth-first call sequence against any edit consumer. It is the producer
// side of the protocol grammar: children in lexicographic order, delete
// before add on replacements, each child's full lifecycle before the next
// sibling opens.
package driver

import (
	"context"
	"fmt"
	"sort"

	"drift/internal/checksum"
	"drift/internal/delta"
	"drift/internal/editor"
	"drift/internal/tree"
)

type Options struct {
	// Base is the revision the edit is made against; None for a full import.
	Base editor.Revision

	// Target, when not None, is announced via SetTargetRevision before the
	// root opens.
	Target editor.Revision

	// WindowSize caps the target bytes per produced delta window; 0 means
	// delta.DefaultWindowSize.
	WindowSize int
}

// Drive transforms old into new against ed. On any consumer error the whole
// session is aborted; a partial edit is never left looking closed.
// Cancellation is polled between calls and surfaces as an abort too.
func Drive(ctx context.Context, old, new *tree.Tree, ed editor.TreeEditor, opts Options) (err error) {
	if old == nil {
		old = tree.New()
	}

	ed = editor.WithCancel(ctx, ed)
	defer func() {
		if err != nil {
			// The consumer may fail the abort as well; the first error is
			// the one worth reporting.
			_ = ed.Abort()
		}
	}()

	if !opts.Target.IsNone() {
		if err = ed.SetTargetRevision(opts.Target); err != nil {
			return fmt.Errorf("announcing target revision: %w", err)
		}
	}

	root, err := ed.OpenRoot(opts.Base)
	if err != nil {
		return fmt.Errorf("opening root: %w", err)
	}

	w := &walker{windowSize: opts.WindowSize}
	if err = w.diffDir(root, old.Root, new.Root); err != nil {
		return err
	}

	if err = root.Close(); err != nil {
		return fmt.Errorf("closing root: %w", err)
	}
	if err = ed.Close(); err != nil {
		return fmt.Errorf("closing edit session: %w", err)
	}
	return nil
}

// Import drives a full import of src into ed: no base, everything added.
func Import(ctx context.Context, src *tree.Tree, ed editor.TreeEditor, opts Options) error {
	opts.Base = editor.None
	return Drive(ctx, nil, src, ed, opts)
}

type walker struct {
	windowSize int
}

func (w *walker) diffDir(d editor.DirEditor, old, new *tree.Node) error {
	if err := diffProps(d.ChangeProp, old.Props, new.Props); err != nil {
		return err
	}

	for _, name := range unionNames(old, new) {
		oldC := old.Children[name]
		newC := new.Children[name]

		switch {
		case newC == nil:
			if err := d.DeleteEntry(name, oldC.Rev); err != nil {
				return fmt.Errorf("deleting %q: %w", name, err)
			}

		case oldC == nil:
			if err := w.addChild(d, name, newC); err != nil {
				return err
			}

		case tree.NodesEqual(oldC, newC):
			// Untouched subtree; say nothing.

		case newC.Absent:
			// The entry drops out of the snapshot without being deleted.
			if err := d.DeleteEntry(name, oldC.Rev); err != nil {
				return fmt.Errorf("withdrawing %q: %w", name, err)
			}
			if err := w.markAbsent(d, name, newC); err != nil {
				return err
			}

		case oldC.Kind != newC.Kind || oldC.Absent:
			// Replacement: the old node goes away wholesale.
			if err := d.DeleteEntry(name, oldC.Rev); err != nil {
				return fmt.Errorf("replacing %q: %w", name, err)
			}
			if err := w.addChild(d, name, newC); err != nil {
				return err
			}

		case newC.Kind == tree.KindDir:
			sub, err := d.OpenDir(name, oldC.Rev)
			if err != nil {
				return fmt.Errorf("opening directory %q: %w", name, err)
			}
			if err := w.diffDir(sub, oldC, newC); err != nil {
				return err
			}
			if err := sub.Close(); err != nil {
				return fmt.Errorf("closing directory %q: %w", name, err)
			}

		default:
			if err := w.diffFile(d, name, oldC, newC); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) markAbsent(d editor.DirEditor, name string, n *tree.Node) error {
	var err error
	if n.Kind == tree.KindDir {
		err = d.AbsentDir(name)
	} else {
		err = d.AbsentFile(name)
	}
	if err != nil {
		return fmt.Errorf("marking %q absent: %w", name, err)
	}
	return nil
}

func (w *walker) addChild(d editor.DirEditor, name string, n *tree.Node) error {
	if n.Absent {
		return w.markAbsent(d, name, n)
	}

	if n.Kind == tree.KindDir {
		sub, err := d.AddDir(name, nil)
		if err != nil {
			return fmt.Errorf("adding directory %q: %w", name, err)
		}
		// Diff against an empty directory: everything below is an add.
		if err := w.diffDir(sub, tree.NewDir(), n); err != nil {
			return err
		}
		if err := sub.Close(); err != nil {
			return fmt.Errorf("closing directory %q: %w", name, err)
		}
		return nil
	}

	f, err := d.AddFile(name, nil)
	if err != nil {
		return fmt.Errorf("adding file %q: %w", name, err)
	}
	if err := w.sendContent(f, nil, n.Content, checksum.Checksum{}); err != nil {
		return fmt.Errorf("sending content for %q: %w", name, err)
	}
	if err := diffProps(f.ChangeProp, nil, n.Props); err != nil {
		return err
	}
	if err := f.Close(checksum.Sum(n.Content)); err != nil {
		return fmt.Errorf("closing file %q: %w", name, err)
	}
	return nil
}

func (w *walker) diffFile(d editor.DirEditor, name string, oldC, newC *tree.Node) error {
	f, err := d.OpenFile(name, oldC.Rev)
	if err != nil {
		return fmt.Errorf("opening file %q: %w", name, err)
	}

	if string(oldC.Content) != string(newC.Content) {
		if err := w.sendContent(f, oldC.Content, newC.Content, checksum.Sum(oldC.Content)); err != nil {
			return fmt.Errorf("sending delta for %q: %w", name, err)
		}
	}
	if err := diffProps(f.ChangeProp, oldC.Props, newC.Props); err != nil {
		return err
	}
	if err := f.Close(checksum.Sum(newC.Content)); err != nil {
		return fmt.Errorf("closing file %q: %w", name, err)
	}
	return nil
}

func (w *walker) sendContent(f editor.FileEditor, source, target []byte, base checksum.Checksum) error {
	sink, err := f.ApplyTextDelta(base)
	if err != nil {
		return err
	}
	return delta.Send(sink, delta.BuildWindows(source, target, w.windowSize)...)
}

func diffProps(apply func(name string, value []byte) error, old, new map[string][]byte) error {
	for _, name := range sortedKeys(new) {
		value := new[name]
		if prev, ok := old[name]; ok && string(prev) == string(value) {
			continue
		}
		if err := apply(name, value); err != nil {
			return fmt.Errorf("setting property %q: %w", name, err)
		}
	}
	for _, name := range sortedKeys(old) {
		if _, ok := new[name]; !ok {
			if err := apply(name, nil); err != nil {
				return fmt.Errorf("removing property %q: %w", name, err)
			}
		}
	}
	return nil
}

func unionNames(old, new *tree.Node) []string {
	seen := map[string]bool{}
	for name := range old.Children {
		seen[name] = true
	}
	for name := range new.Children {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
