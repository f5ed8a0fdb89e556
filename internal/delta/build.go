package delta

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
)

const (
	// blockSize is the granularity of the source index used when producing
	// deltas. Matches shorter than a block are not worth a copy instruction.
	blockSize = 16

	// DefaultWindowSize caps how much target content a single produced
	// window covers.
	DefaultWindowSize = 1 << 20
)

// InsertWindow wraps content into a single self-contained window holding one
// insert instruction, with an empty source view. Applying it against any
// source reproduces content exactly.
func InsertWindow(content []byte) *Window {
	w := &Window{
		TargetLen: int64(len(content)),
		NewData:   append([]byte(nil), content...),
	}
	if len(content) > 0 {
		w.Instructions = []Instruction{{Op: OpInsert, Length: int64(len(content))}}
	}
	return w
}

// BuildWindows produces a window stream transforming source into target.
// The target is cut into windows of at most windowSize bytes (0 means
// DefaultWindowSize); each window addresses the whole original source as its
// view and mixes source copies with literal inserts found by greedy
// block matching.
func BuildWindows(source, target []byte, windowSize int) []*Window {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	idx := indexSource(source)

	var windows []*Window
	for start := 0; start < len(target) || (start == 0 && len(target) == 0); start += windowSize {
		end := start + windowSize
		if end > len(target) {
			end = len(target)
		}
		windows = append(windows, buildWindow(source, target[start:end], idx))
		if len(target) == 0 {
			break
		}
	}
	return windows
}

type sourceIndex map[uint64][]int

func indexSource(source []byte) sourceIndex {
	idx := make(sourceIndex)
	for off := 0; off+blockSize <= len(source); off += blockSize {
		h := xxhash.Sum64(source[off : off+blockSize])
		idx[h] = append(idx[h], off)
	}
	return idx
}

func buildWindow(source, chunk []byte, idx sourceIndex) *Window {
	w := &Window{
		SrcLen:    int64(len(source)),
		TargetLen: int64(len(chunk)),
	}

	var pendingFrom int
	flush := func(upto int) {
		if upto > pendingFrom {
			lit := chunk[pendingFrom:upto]
			w.NewData = append(w.NewData, lit...)
			w.Instructions = append(w.Instructions, Instruction{Op: OpInsert, Length: int64(len(lit))})
		}
	}

	pos := 0
	for pos+blockSize <= len(chunk) {
		h := xxhash.Sum64(chunk[pos : pos+blockSize])
		srcOff, n := bestMatch(source, chunk, pos, idx[h])
		if n < blockSize {
			pos++
			continue
		}

		flush(pos)
		w.Instructions = append(w.Instructions, Instruction{
			Op:     OpCopySource,
			Offset: int64(srcOff),
			Length: int64(n),
		})
		pos += n
		pendingFrom = pos
	}
	flush(len(chunk))

	return w
}

// bestMatch extends each candidate block match as far as the buffers agree
// and returns the longest.
func bestMatch(source, chunk []byte, pos int, candidates []int) (srcOff, length int) {
	for _, cand := range candidates {
		if !bytes.Equal(source[cand:cand+blockSize], chunk[pos:pos+blockSize]) {
			continue
		}
		n := blockSize
		for cand+n < len(source) && pos+n < len(chunk) && source[cand+n] == chunk[pos+n] {
			n++
		}
		if n > length {
			srcOff, length = cand, n
		}
	}
	return srcOff, length
}
