// Package diff produces line-level unified diffs for human output. Content
// deltas on the wire use the window codec; this package only exists for
// showing changes to people.
package diff

import (
	"bytes"
	"fmt"
)

type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

type Line struct {
	Type LineType
	Text string
}

// Hunk is one run of changes plus surrounding context. Starts are 1-based
// line numbers; a start of 0 means the side is empty.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	Lines              []Line
}

type Result struct {
	Hunks     []Hunk
	Additions int
	Deletions int
}

// Engine computes diffs with a fixed amount of context.
type Engine struct {
	context int
}

func NewEngine(contextLines int) *Engine {
	return &Engine{context: contextLines}
}

// Diff compares two file contents line by line.
func (e *Engine) Diff(oldContent, newContent []byte) *Result {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	script := backtrack(oldLines, newLines, lcsMatrix(oldLines, newLines))
	res := &Result{}
	for _, ln := range script {
		switch ln.Type {
		case Addition:
			res.Additions++
		case Deletion:
			res.Deletions++
		}
	}
	res.Hunks = e.group(script)
	return res
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	trimmed := bytes.TrimSuffix(content, []byte{'\n'})
	parts := bytes.Split(trimmed, []byte{'\n'})
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}

func lcsMatrix(a, b []string) [][]int {
	m := make([][]int, len(a)+1)
	for i := range m {
		m[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				m[i][j] = m[i-1][j-1] + 1
			} else if m[i-1][j] >= m[i][j-1] {
				m[i][j] = m[i-1][j]
			} else {
				m[i][j] = m[i][j-1]
			}
		}
	}
	return m
}

// backtrack turns the LCS matrix into a forward edit script.
func backtrack(a, b []string, m [][]int) []Line {
	var reversed []Line
	i, j := len(a), len(b)
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && a[i-1] == b[j-1]:
			reversed = append(reversed, Line{Type: Context, Text: a[i-1]})
			i--
			j--
		case j > 0 && (i == 0 || m[i][j-1] >= m[i-1][j]):
			reversed = append(reversed, Line{Type: Addition, Text: b[j-1]})
			j--
		default:
			reversed = append(reversed, Line{Type: Deletion, Text: a[i-1]})
			i--
		}
	}

	script := make([]Line, len(reversed))
	for k, ln := range reversed {
		script[len(reversed)-1-k] = ln
	}
	return script
}

// group slices the edit script into hunks, keeping e.context lines around
// each run of changes and merging runs whose context overlaps.
func (e *Engine) group(script []Line) []Hunk {
	var hunks []Hunk

	oldNum, newNum := 0, 0
	i := 0
	for i < len(script) {
		if script[i].Type == Context {
			oldNum++
			newNum++
			i++
			continue
		}

		// Found a change; open a hunk e.context lines back.
		start := i
		back := 0
		for start > 0 && script[start-1].Type == Context && back < e.context {
			start--
			back++
		}

		h := Hunk{OldStart: oldNum - back + 1, NewStart: newNum - back + 1}
		oldNum -= back
		newNum -= back

		// Consume until the script ends or a gap of context lines longer
		// than twice e.context separates this change from the next.
		end := i
		for {
			next := end
			for next < len(script) && script[next].Type == Context {
				next++
			}
			if next >= len(script) || next-end > 2*e.context {
				break
			}
			end = next + 1
			for end < len(script) && script[end].Type != Context {
				end++
			}
		}

		tail := end
		fwd := 0
		for tail < len(script) && script[tail].Type == Context && fwd < e.context {
			tail++
			fwd++
		}

		for _, ln := range script[start:tail] {
			h.Lines = append(h.Lines, ln)
			switch ln.Type {
			case Context:
				h.OldLines++
				h.NewLines++
				oldNum++
				newNum++
			case Addition:
				h.NewLines++
				newNum++
			case Deletion:
				h.OldLines++
				oldNum++
			}
		}
		if h.OldLines == 0 {
			h.OldStart--
		}
		if h.NewLines == 0 {
			h.NewStart--
		}
		hunks = append(hunks, h)
		i = tail
	}
	return hunks
}

// Unified renders the result in the familiar unified format.
func (r *Result) Unified() string {
	var buf bytes.Buffer
	for _, h := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, ln := range h.Lines {
			switch ln.Type {
			case Addition:
				buf.WriteByte('+')
			case Deletion:
				buf.WriteByte('-')
			default:
				buf.WriteByte(' ')
			}
			buf.WriteString(ln.Text)
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}
