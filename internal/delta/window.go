// Package delta implements the content-delta window codec: a binary format
// describing how a file's new content derives from a view over a source
// buffer plus literal insertions, and the algorithms to apply, compose and
// stream such windows.
package delta

import (
	"drift/internal/errors"
)

type OpCode byte

const (
	// OpCopySource copies Length bytes from the window's source view,
	// starting at Offset relative to the view.
	OpCopySource OpCode = iota

	// OpCopyTarget copies Length bytes from the target produced earlier in
	// the same window. The copied range may overlap the bytes being
	// produced, which yields run-length expansion.
	OpCopyTarget

	// OpInsert appends Length literal bytes from the window's NewData,
	// consumed sequentially across the window's insert instructions.
	OpInsert
)

func (op OpCode) String() string {
	switch op {
	case OpCopySource:
		return "copy-source"
	case OpCopyTarget:
		return "copy-target"
	case OpInsert:
		return "insert"
	}
	return "unknown"
}

type Instruction struct {
	Op     OpCode
	Offset int64 // unused for OpInsert
	Length int64
}

// Window is one self-contained unit of a delta stream. Replaying its
// instructions against the designated source view deterministically yields
// exactly TargetLen bytes.
type Window struct {
	SrcOffset    int64
	SrcLen       int64
	TargetLen    int64
	Instructions []Instruction
	NewData      []byte
}

// MaxTargetLen bounds how much a single decoded window may produce, so a
// malformed stream cannot force an arbitrarily large allocation.
const MaxTargetLen = 1 << 26

// Validate checks a window's internal consistency without needing the source
// buffer: every instruction must stay inside its addressable range and the
// instructions must produce exactly TargetLen bytes.
func (w *Window) Validate() error {
	if w.SrcOffset < 0 || w.SrcLen < 0 {
		return errors.Decode("negative source view (%d,%d)", w.SrcOffset, w.SrcLen)
	}
	if w.TargetLen < 0 || w.TargetLen > MaxTargetLen {
		return errors.Decode("target length %d out of range", w.TargetLen)
	}

	var produced, consumed int64
	for i, ins := range w.Instructions {
		if ins.Length < 0 {
			return errors.Decode("instruction %d: negative length %d", i, ins.Length)
		}
		switch ins.Op {
		case OpCopySource:
			if ins.Offset < 0 || ins.Offset+ins.Length > w.SrcLen {
				return errors.Decode("instruction %d: source copy (%d,%d) outside view of %d bytes",
					i, ins.Offset, ins.Length, w.SrcLen)
			}
		case OpCopyTarget:
			if ins.Offset < 0 || ins.Offset >= produced {
				return errors.Decode("instruction %d: target copy offset %d not yet produced (%d so far)",
					i, ins.Offset, produced)
			}
		case OpInsert:
			if consumed+ins.Length > int64(len(w.NewData)) {
				return errors.Decode("instruction %d: insert of %d bytes exceeds %d bytes of new data",
					i, ins.Length, int64(len(w.NewData))-consumed)
			}
			consumed += ins.Length
		default:
			return errors.Decode("instruction %d: unknown opcode %d", i, byte(ins.Op))
		}
		produced += ins.Length
		if produced > w.TargetLen {
			return errors.Decode("instruction %d: window overflows declared target length %d", i, w.TargetLen)
		}
	}

	if produced != w.TargetLen {
		return errors.Decode("window produces %d bytes, declared %d", produced, w.TargetLen)
	}
	return nil
}

// Apply executes the window against a source buffer covering at least the
// window's source view and returns exactly TargetLen bytes. Undersized or
// out-of-range instructions are a decode error, never a silent truncation.
func Apply(w *Window, source []byte) ([]byte, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.SrcOffset+w.SrcLen > int64(len(source)) {
		return nil, errors.Decode("source buffer of %d bytes does not cover view (%d,%d)",
			len(source), w.SrcOffset, w.SrcLen)
	}

	view := source[w.SrcOffset : w.SrcOffset+w.SrcLen]
	target := make([]byte, 0, w.TargetLen)
	var consumed int64

	for _, ins := range w.Instructions {
		switch ins.Op {
		case OpCopySource:
			target = append(target, view[ins.Offset:ins.Offset+ins.Length]...)
		case OpCopyTarget:
			// Byte-at-a-time so overlapping ranges replay already-written
			// output, matching run-length semantics.
			for j := int64(0); j < ins.Length; j++ {
				target = append(target, target[ins.Offset+j])
			}
		case OpInsert:
			target = append(target, w.NewData[consumed:consumed+ins.Length]...)
			consumed += ins.Length
		}
	}

	return target, nil
}

// Dup returns an independent deep copy of the window, safe to retain after
// the buffers backing the original are gone.
func Dup(w *Window) *Window {
	if w == nil {
		return nil
	}
	out := &Window{
		SrcOffset: w.SrcOffset,
		SrcLen:    w.SrcLen,
		TargetLen: w.TargetLen,
	}
	if w.Instructions != nil {
		out.Instructions = make([]Instruction, len(w.Instructions))
		copy(out.Instructions, w.Instructions)
	}
	if w.NewData != nil {
		out.NewData = make([]byte, len(w.NewData))
		copy(out.NewData, w.NewData)
	}
	return out
}
