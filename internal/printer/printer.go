// Package printer renders an edit as a change listing, one line per touched
// path. Driving a diff into it is how status output gets produced.
package printer

import (
	"fmt"
	"io"
	"path"

	"github.com/fatih/color"

	"drift/internal/checksum"
	"drift/internal/delta"
	"drift/internal/editor"
)

var (
	addColor    = color.New(color.FgGreen)
	deleteColor = color.New(color.FgRed)
	modifyColor = color.New(color.FgYellow)
	absentColor = color.New(color.FgHiBlack)
)

// Printer is an edit consumer that writes one line per change. Wrap with
// editor.Guard like any other consumer.
type Printer struct {
	out     io.Writer
	touched int
}

func New(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Touched reports how many change lines were written.
func (p *Printer) Touched() int { return p.touched }

func (p *Printer) line(c *color.Color, code, path string) error {
	p.touched++
	_, err := fmt.Fprintf(p.out, "%s  %s\n", c.Sprint(code), path)
	return err
}

func (p *Printer) SetTargetRevision(rev editor.Revision) error {
	_, err := fmt.Fprintf(p.out, "target: %s\n", rev)
	return err
}

func (p *Printer) OpenRoot(base editor.Revision) (editor.DirEditor, error) {
	return &printDir{p: p, path: ""}, nil
}

func (p *Printer) Close() error { return nil }
func (p *Printer) Abort() error {
	_, err := fmt.Fprintln(p.out, "(aborted)")
	return err
}

type printDir struct {
	p    *Printer
	path string
}

func (d *printDir) join(name string) string {
	return path.Join(d.path, name)
}

func (d *printDir) DeleteEntry(p string, rev editor.Revision) error {
	return d.p.line(deleteColor, "D", d.join(p))
}

func (d *printDir) AddDir(p string, copy *editor.CopySource) (editor.DirEditor, error) {
	label := d.join(p) + "/"
	if copy != nil {
		label += fmt.Sprintf("  (from %s@%s)", copy.Path, copy.Rev)
	}
	if err := d.p.line(addColor, "A", label); err != nil {
		return nil, err
	}
	return &printDir{p: d.p, path: d.join(p)}, nil
}

func (d *printDir) OpenDir(p string, base editor.Revision) (editor.DirEditor, error) {
	return &printDir{p: d.p, path: d.join(p)}, nil
}

func (d *printDir) AddFile(p string, copy *editor.CopySource) (editor.FileEditor, error) {
	label := d.join(p)
	if copy != nil {
		label += fmt.Sprintf("  (from %s@%s)", copy.Path, copy.Rev)
	}
	if err := d.p.line(addColor, "A", label); err != nil {
		return nil, err
	}
	return &printFile{p: d.p, path: d.join(p), announced: true}, nil
}

func (d *printDir) OpenFile(p string, base editor.Revision) (editor.FileEditor, error) {
	return &printFile{p: d.p, path: d.join(p)}, nil
}

func (d *printDir) AbsentDir(p string) error {
	return d.p.line(absentColor, "!", d.join(p)+"/")
}

func (d *printDir) AbsentFile(p string) error {
	return d.p.line(absentColor, "!", d.join(p))
}

func (d *printDir) ChangeProp(name string, value []byte) error {
	target := d.path
	if target == "" {
		target = "."
	}
	return d.p.line(modifyColor, "P", target+"  ("+name+")")
}

func (d *printDir) Close() error { return nil }

type printFile struct {
	p    *Printer
	path string

	// announced is set once the file's line has been printed; an opened
	// file prints M on its first actual change only.
	announced bool
}

func (f *printFile) announce() error {
	if f.announced {
		return nil
	}
	f.announced = true
	return f.p.line(modifyColor, "M", f.path)
}

func (f *printFile) ApplyTextDelta(base checksum.Checksum) (delta.WindowSink, error) {
	if err := f.announce(); err != nil {
		return nil, err
	}
	return delta.NopSink(), nil
}

func (f *printFile) ChangeProp(name string, value []byte) error {
	return f.announce()
}

func (f *printFile) Close(final checksum.Checksum) error { return nil }
