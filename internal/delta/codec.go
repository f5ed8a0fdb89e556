package delta

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"drift/internal/errors"
)

// Stream framing:
//
//	magic "DLT" 0x01
//	per window: 0x01, src offset, src len, target len, instruction count,
//	            instructions (op byte, length, offset for copy ops),
//	            new-data block (raw len, encoding byte, stored len, bytes)
//	end of stream: 0x00
//
// All integers are unsigned varints. New data larger than newDataZstdMin is
// zstd-compressed when that actually wins.

var streamMagic = []byte{'D', 'L', 'T', 0x01}

const (
	windowMarker = 0x01
	endMarker    = 0x00

	newDataRaw  = 0x00
	newDataZstd = 0x01

	newDataZstdMin = 64

	// maxInstPrealloc caps how much the decoder preallocates for a declared
	// instruction count; longer lists grow as they are actually read, so a
	// short stream cannot demand a huge allocation up front.
	maxInstPrealloc = 64
)

var (
	zstdEnc, _ = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	zstdDec, _ = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
)

// Writer encodes a window stream onto an io.Writer. It implements
// WindowSink: push windows with Window, terminate with Finish.
type Writer struct {
	w       *bufio.Writer
	scratch [binary.MaxVarintLen64]byte
	started bool
	done    bool
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (e *Writer) writeUvarint(v int64) error {
	n := binary.PutUvarint(e.scratch[:], uint64(v))
	_, err := e.w.Write(e.scratch[:n])
	return err
}

func (e *Writer) header() error {
	if e.started {
		return nil
	}
	e.started = true
	_, err := e.w.Write(streamMagic)
	return err
}

func (e *Writer) Window(w *Window) error {
	if e.done {
		return errors.Protocol("window written after end of stream")
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if err := e.header(); err != nil {
		return errors.BackingStore("writing stream header", err)
	}

	if err := e.w.WriteByte(windowMarker); err != nil {
		return errors.BackingStore("writing window marker", err)
	}
	for _, v := range []int64{w.SrcOffset, w.SrcLen, w.TargetLen, int64(len(w.Instructions))} {
		if err := e.writeUvarint(v); err != nil {
			return errors.BackingStore("writing window header", err)
		}
	}

	for _, ins := range w.Instructions {
		if err := e.w.WriteByte(byte(ins.Op)); err != nil {
			return errors.BackingStore("writing instruction", err)
		}
		if err := e.writeUvarint(ins.Length); err != nil {
			return errors.BackingStore("writing instruction", err)
		}
		if ins.Op != OpInsert {
			if err := e.writeUvarint(ins.Offset); err != nil {
				return errors.BackingStore("writing instruction", err)
			}
		}
	}

	if err := e.writeNewData(w.NewData); err != nil {
		return err
	}
	return nil
}

func (e *Writer) writeNewData(data []byte) error {
	if err := e.writeUvarint(int64(len(data))); err != nil {
		return errors.BackingStore("writing new data length", err)
	}

	encoding := byte(newDataRaw)
	stored := data
	if len(data) >= newDataZstdMin {
		if packed := zstdEnc.EncodeAll(data, nil); len(packed) < len(data) {
			encoding = newDataZstd
			stored = packed
		}
	}

	if err := e.w.WriteByte(encoding); err != nil {
		return errors.BackingStore("writing new data encoding", err)
	}
	if err := e.writeUvarint(int64(len(stored))); err != nil {
		return errors.BackingStore("writing new data length", err)
	}
	if _, err := e.w.Write(stored); err != nil {
		return errors.BackingStore("writing new data", err)
	}
	return nil
}

// Finish writes the end-of-stream marker and flushes. The writer is spent
// afterwards.
func (e *Writer) Finish() error {
	if e.done {
		return errors.Protocol("window stream finished twice")
	}
	e.done = true
	if err := e.header(); err != nil {
		return errors.BackingStore("writing stream header", err)
	}
	if err := e.w.WriteByte(endMarker); err != nil {
		return errors.BackingStore("writing end marker", err)
	}
	if err := e.w.Flush(); err != nil {
		return errors.BackingStore("flushing window stream", err)
	}
	return nil
}

// Reader decodes a window stream from an io.Reader.
type Reader struct {
	r       *bufio.Reader
	started bool
	done    bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

func (d *Reader) readUvarint() (int64, error) {
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, errors.Decode("truncated window framing: %v", err)
	}
	if v > 1<<62 {
		return 0, errors.Decode("varint %d out of range", v)
	}
	return int64(v), nil
}

func (d *Reader) header() error {
	if d.started {
		return nil
	}
	d.started = true
	got := make([]byte, len(streamMagic))
	if _, err := io.ReadFull(d.r, got); err != nil {
		return errors.Decode("reading stream magic: %v", err)
	}
	for i := range streamMagic {
		if got[i] != streamMagic[i] {
			return errors.Decode("bad stream magic %q", got)
		}
	}
	return nil
}

// Next returns the next window, or (nil, io.EOF) once the end-of-stream
// marker has been consumed. Any malformed framing is a decode error.
func (d *Reader) Next() (*Window, error) {
	if d.done {
		return nil, io.EOF
	}
	if err := d.header(); err != nil {
		return nil, err
	}

	marker, err := d.r.ReadByte()
	if err != nil {
		return nil, errors.Decode("reading window marker: %v", err)
	}
	switch marker {
	case endMarker:
		d.done = true
		return nil, io.EOF
	case windowMarker:
	default:
		return nil, errors.Decode("unknown window marker 0x%02x", marker)
	}

	w := &Window{}
	if w.SrcOffset, err = d.readUvarint(); err != nil {
		return nil, err
	}
	if w.SrcLen, err = d.readUvarint(); err != nil {
		return nil, err
	}
	if w.TargetLen, err = d.readUvarint(); err != nil {
		return nil, err
	}
	ninst, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if ninst > MaxTargetLen {
		return nil, errors.Decode("implausible instruction count %d", ninst)
	}

	prealloc := ninst
	if prealloc > maxInstPrealloc {
		prealloc = maxInstPrealloc
	}
	w.Instructions = make([]Instruction, 0, prealloc)
	for i := int64(0); i < ninst; i++ {
		op, err := d.r.ReadByte()
		if err != nil {
			return nil, errors.Decode("truncated instruction list: %v", err)
		}
		ins := Instruction{Op: OpCode(op)}
		if ins.Length, err = d.readUvarint(); err != nil {
			return nil, err
		}
		if ins.Op != OpInsert {
			if ins.Offset, err = d.readUvarint(); err != nil {
				return nil, err
			}
		}
		w.Instructions = append(w.Instructions, ins)
	}

	if w.NewData, err = d.readNewData(); err != nil {
		return nil, err
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (d *Reader) readNewData() ([]byte, error) {
	rawLen, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if rawLen > MaxTargetLen {
		return nil, errors.Decode("new data length %d out of range", rawLen)
	}

	encoding, err := d.r.ReadByte()
	if err != nil {
		return nil, errors.Decode("truncated new data block: %v", err)
	}
	storedLen, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if storedLen > MaxTargetLen {
		return nil, errors.Decode("stored data length %d out of range", storedLen)
	}

	stored := make([]byte, storedLen)
	if _, err := io.ReadFull(d.r, stored); err != nil {
		return nil, errors.Decode("truncated new data: %v", err)
	}

	switch encoding {
	case newDataRaw:
		if storedLen != rawLen {
			return nil, errors.Decode("raw data length %d, declared %d", storedLen, rawLen)
		}
		return stored, nil
	case newDataZstd:
		data, err := zstdDec.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, errors.Decode("decompressing new data: %v", err)
		}
		if int64(len(data)) != rawLen {
			return nil, errors.Decode("decompressed to %d bytes, declared %d", len(data), rawLen)
		}
		return data, nil
	default:
		return nil, errors.Decode("unknown new data encoding 0x%02x", encoding)
	}
}

// Drain pumps every window from the stream into sink and signals end of
// stream. The reader must not be reused afterwards.
func (d *Reader) Drain(sink WindowSink) error {
	for {
		w, err := d.Next()
		if err == io.EOF {
			return sink.Finish()
		}
		if err != nil {
			return err
		}
		if err := sink.Window(w); err != nil {
			return fmt.Errorf("consuming window: %w", err)
		}
	}
}
