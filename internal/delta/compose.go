package delta

import (
	"drift/internal/errors"
)

// Compose collapses window a (source → intermediate) and window b
// (intermediate → target) into a single window c such that
// Apply(c, source) == Apply(b, Apply(a, source)), without keeping the
// delta chain around. b's source view must lie inside a's target.
func Compose(a, b *Window) (*Window, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.SrcOffset+b.SrcLen > a.TargetLen {
		return nil, errors.Decode("second window views (%d,%d) of a %d byte intermediate",
			b.SrcOffset, b.SrcLen, a.TargetLen)
	}

	c := &composer{a: a}
	c.index()

	out := &Window{
		SrcOffset: a.SrcOffset,
		SrcLen:    a.SrcLen,
		TargetLen: b.TargetLen,
	}

	var consumed int64
	for _, ins := range b.Instructions {
		switch ins.Op {
		case OpCopySource:
			// b addresses a's target; translate into instructions over a's
			// own source view and literals.
			if err := c.expand(out, b.SrcOffset+ins.Offset, ins.Length); err != nil {
				return nil, err
			}
		case OpCopyTarget:
			// Offsets into b's target are offsets into c's target verbatim.
			out.Instructions = append(out.Instructions, ins)
		case OpInsert:
			out.NewData = append(out.NewData, b.NewData[consumed:consumed+ins.Length]...)
			out.Instructions = append(out.Instructions, Instruction{Op: OpInsert, Length: ins.Length})
			consumed += ins.Length
		}
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// composer resolves ranges of a's target back to the instructions that
// produced them.
type composer struct {
	a *Window

	// starts[i] is the target offset at which a.Instructions[i] begins;
	// newStarts[i] is the NewData cursor before instruction i.
	starts    []int64
	newStarts []int64
}

func (c *composer) index() {
	c.starts = make([]int64, len(c.a.Instructions))
	c.newStarts = make([]int64, len(c.a.Instructions))
	var pos, newPos int64
	for i, ins := range c.a.Instructions {
		c.starts[i] = pos
		c.newStarts[i] = newPos
		pos += ins.Length
		if ins.Op == OpInsert {
			newPos += ins.Length
		}
	}
}

// locate returns the index of the instruction covering target offset off.
func (c *composer) locate(off int64) int {
	lo, hi := 0, len(c.starts)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.starts[mid] <= off {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// expand appends instructions to out that reproduce a.target[off:off+length].
func (c *composer) expand(out *Window, off, length int64) error {
	for length > 0 {
		i := c.locate(off)
		if i < 0 {
			return errors.Decode("compose: offset %d precedes first instruction", off)
		}
		ins := c.a.Instructions[i]
		intra := off - c.starts[i]
		n := min64(length, ins.Length-intra)

		switch ins.Op {
		case OpCopySource:
			out.Instructions = append(out.Instructions, Instruction{
				Op:     OpCopySource,
				Offset: ins.Offset + intra,
				Length: n,
			})
		case OpInsert:
			start := c.newStarts[i] + intra
			out.NewData = append(out.NewData, c.a.NewData[start:start+n]...)
			out.Instructions = append(out.Instructions, Instruction{Op: OpInsert, Length: n})
		case OpCopyTarget:
			// The range is a back-reference into a's target. An overlapping
			// (run-length) copy repeats the bytes in [Offset, start) with
			// period start-Offset, so any position inside this instruction
			// reduces to that window. The reduced range lies entirely before
			// this instruction, so recursion only ever moves to earlier
			// instructions and terminates.
			period := c.starts[i] - ins.Offset
			k := intra % period
			n = min64(n, period-k)
			if err := c.expand(out, ins.Offset+k, n); err != nil {
				return err
			}
		}

		off += n
		length -= n
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
