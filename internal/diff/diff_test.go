package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffIdentical(t *testing.T) {
	e := NewEngine(3)
	res := e.Diff([]byte("a\nb\nc\n"), []byte("a\nb\nc\n"))
	assert.Empty(t, res.Hunks)
	assert.Zero(t, res.Additions)
	assert.Zero(t, res.Deletions)
}

func TestDiffSimpleChange(t *testing.T) {
	e := NewEngine(1)
	res := e.Diff(
		[]byte("one\ntwo\nthree\nfour\nfive\n"),
		[]byte("one\ntwo\nTHREE\nfour\nfive\n"),
	)

	require.Len(t, res.Hunks, 1)
	assert.Equal(t, 1, res.Additions)
	assert.Equal(t, 1, res.Deletions)

	h := res.Hunks[0]
	assert.Equal(t, 2, h.OldStart)
	assert.Equal(t, 3, h.OldLines)
	assert.Equal(t, 2, h.NewStart)
	assert.Equal(t, 3, h.NewLines)

	out := res.Unified()
	assert.Contains(t, out, "-three")
	assert.Contains(t, out, "+THREE")
	assert.Contains(t, out, " two")
	assert.Contains(t, out, " four")
	assert.NotContains(t, out, "one")
	assert.NotContains(t, out, "five")
}

func TestDiffAddedFile(t *testing.T) {
	e := NewEngine(3)
	res := e.Diff(nil, []byte("fresh\ncontent\n"))
	require.Len(t, res.Hunks, 1)
	assert.Equal(t, 2, res.Additions)
	assert.Zero(t, res.Deletions)
	assert.Equal(t, 0, res.Hunks[0].OldStart)
	assert.Equal(t, 0, res.Hunks[0].OldLines)
}

func TestDiffDeletedFile(t *testing.T) {
	e := NewEngine(3)
	res := e.Diff([]byte("bye\n"), nil)
	require.Len(t, res.Hunks, 1)
	assert.Zero(t, res.Additions)
	assert.Equal(t, 1, res.Deletions)
}

func TestDiffNearbyChangesMerge(t *testing.T) {
	old := "a\nb\nc\nd\ne\nf\ng\n"
	new := "a\nB\nc\nd\ne\nF\ng\n"

	// Two changes three lines apart merge with two lines of context.
	e := NewEngine(2)
	res := e.Diff([]byte(old), []byte(new))
	assert.Len(t, res.Hunks, 1)

	// With zero context they stay separate.
	e = NewEngine(0)
	res = e.Diff([]byte(old), []byte(new))
	assert.Len(t, res.Hunks, 2)
}

func TestDiffDistantChangesSplit(t *testing.T) {
	oldLines := make([]string, 30)
	for i := range oldLines {
		oldLines[i] = "line"
	}
	newLines := append([]string(nil), oldLines...)
	newLines[2] = "changed-early"
	newLines[27] = "changed-late"

	e := NewEngine(3)
	res := e.Diff(
		[]byte(strings.Join(oldLines, "\n")+"\n"),
		[]byte(strings.Join(newLines, "\n")+"\n"),
	)
	assert.Len(t, res.Hunks, 2)
}
