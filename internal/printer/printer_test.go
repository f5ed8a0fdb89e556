package printer

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drift/internal/driver"
	"drift/internal/editor"
	"drift/internal/tree"
)

func init() {
	color.NoColor = true
}

func TestPrintsChangeListing(t *testing.T) {
	old := tree.New()
	old.Root.Children["gone.txt"] = tree.NewFile([]byte("x"))
	old.Root.Children["edit.txt"] = tree.NewFile([]byte("before"))

	new := tree.New()
	new.Root.Children["edit.txt"] = tree.NewFile([]byte("after"))
	sub := tree.NewDir()
	sub.Children["fresh.txt"] = tree.NewFile([]byte("y"))
	new.Root.Children["pkg"] = sub

	var buf bytes.Buffer
	p := New(&buf)
	require.NoError(t, driver.Drive(context.Background(), old, new, editor.Guard(p), driver.Options{}))

	out := buf.String()
	assert.Contains(t, out, "M  edit.txt\n")
	assert.Contains(t, out, "D  gone.txt\n")
	assert.Contains(t, out, "A  pkg/\n")
	assert.Contains(t, out, "A  pkg/fresh.txt\n")
	assert.Equal(t, 4, p.Touched())
}

func TestModifiedFilePrintedOnce(t *testing.T) {
	old := tree.New()
	old.Root.Children["f"] = tree.NewFile([]byte("v1"))
	old.Root.Children["f"].Props = map[string][]byte{"mode": []byte("0644")}

	new := tree.New()
	new.Root.Children["f"] = tree.NewFile([]byte("v2"))
	new.Root.Children["f"].Props = map[string][]byte{"mode": []byte("0755")}

	var buf bytes.Buffer
	p := New(&buf)
	require.NoError(t, driver.Drive(context.Background(), old, new, editor.Guard(p), driver.Options{}))

	// Content and prop both changed but the file shows up once.
	assert.Equal(t, "M  f\n", buf.String())
	assert.Equal(t, 1, p.Touched())
}

func TestNoChangesPrintsNothing(t *testing.T) {
	src := tree.New()
	src.Root.Children["f"] = tree.NewFile([]byte("same"))

	var buf bytes.Buffer
	p := New(&buf)
	require.NoError(t, driver.Drive(context.Background(), src, src.Clone(), editor.Guard(p), driver.Options{}))
	assert.Empty(t, buf.String())
	assert.Zero(t, p.Touched())
}

func TestAbsentMarked(t *testing.T) {
	old := tree.New()
	old.Root.Children["sealed"] = tree.NewFile([]byte("x"))

	new := tree.New()
	withheld := tree.NewFile(nil)
	withheld.Absent = true
	new.Root.Children["sealed"] = withheld

	var buf bytes.Buffer
	require.NoError(t, driver.Drive(context.Background(), old, new, editor.Guard(New(&buf)), driver.Options{}))
	assert.Contains(t, buf.String(), "!  sealed\n")
}
