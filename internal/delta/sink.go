package delta

import (
	"drift/internal/errors"
)

// WindowSink consumes an ordered window stream for one file. Finish is the
// explicit end-of-stream signal; it is distinct from an empty window and
// must be called exactly once, after which the sink is spent.
type WindowSink interface {
	Window(w *Window) error
	Finish() error
}

type nopSink struct {
	done bool
}

// NopSink returns a sink that fully validates each window's framing and
// discards the bytes. Used when only structural validity matters.
func NopSink() WindowSink {
	return &nopSink{}
}

func (s *nopSink) Window(w *Window) error {
	if s.done {
		return errors.Protocol("window after end of stream")
	}
	return w.Validate()
}

func (s *nopSink) Finish() error {
	if s.done {
		return errors.Protocol("window stream finished twice")
	}
	s.done = true
	return nil
}

// applySink applies each incoming window against a fixed source buffer,
// accumulating the full target content.
type applySink struct {
	source []byte
	out    []byte
	done   bool
	flush  func([]byte) error
}

// ApplySink returns a sink that materializes the window stream against
// source. When the stream finishes, flush receives the complete target.
func ApplySink(source []byte, flush func(target []byte) error) WindowSink {
	return &applySink{source: source, flush: flush}
}

func (s *applySink) Window(w *Window) error {
	if s.done {
		return errors.Protocol("window after end of stream")
	}
	chunk, err := Apply(w, s.source)
	if err != nil {
		return err
	}
	s.out = append(s.out, chunk...)
	return nil
}

func (s *applySink) Finish() error {
	if s.done {
		return errors.Protocol("window stream finished twice")
	}
	s.done = true
	if s.flush == nil {
		return nil
	}
	return s.flush(s.out)
}

// Send pushes windows into a sink in order and signals end of stream.
func Send(sink WindowSink, windows ...*Window) error {
	for _, w := range windows {
		if err := sink.Window(w); err != nil {
			return err
		}
	}
	return sink.Finish()
}
