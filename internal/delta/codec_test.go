package delta

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drift/internal/errors"
)

func TestStreamRoundTrip(t *testing.T) {
	source := []byte("ABCDEFGH")
	windows := []*Window{
		{
			SrcLen:    8,
			TargetLen: 8,
			Instructions: []Instruction{
				{Op: OpCopySource, Offset: 0, Length: 4},
				{Op: OpInsert, Length: 2},
				{Op: OpCopySource, Offset: 6, Length: 2},
			},
			NewData: []byte("xy"),
		},
		InsertWindow(bytes.Repeat([]byte("compressible content "), 100)),
		InsertWindow(nil),
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, Send(w, windows...))

	r := NewReader(&buf)
	for i, want := range windows {
		got, err := r.Next()
		require.NoError(t, err, "window %d", i)
		assert.Equal(t, want.SrcOffset, got.SrcOffset)
		assert.Equal(t, want.SrcLen, got.SrcLen)
		assert.Equal(t, want.TargetLen, got.TargetLen)
		assert.Equal(t, want.Instructions, got.Instructions)
		assert.Equal(t, len(want.NewData), len(got.NewData))
		if len(want.NewData) > 0 {
			assert.Equal(t, want.NewData, got.NewData)
		}
	}
	_, err := r.Next()
	assert.Equal(t, io.EOF, err)

	// First window still applies after the trip.
	got, err := Apply(windows[0], source)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCDxyGH"), got)
}

func TestStreamCompressesLargeLiterals(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh"), 4096)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, Send(w, InsertWindow(content)))

	assert.Less(t, buf.Len(), len(content)/2, "repetitive literals should compress")

	r := NewReader(&buf)
	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, content, got.NewData)
}

func TestReaderRejectsBadMagic(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("NOPE")))
	_, err := r.Next()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDecode))
}

func TestReaderRejectsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Window(InsertWindow([]byte("some literal content here"))))
	require.NoError(t, w.Finish())

	full := buf.Bytes()
	for cut := 1; cut < len(full)-1; cut += 3 {
		r := NewReader(bytes.NewReader(full[:cut]))
		var err error
		for err == nil {
			_, err = r.Next()
		}
		if err == io.EOF {
			continue // truncation landed exactly on the end marker
		}
		assert.True(t, errors.IsKind(err, errors.KindDecode),
			"cut at %d: want decode error, got %v", cut, err)
	}
}

func TestReaderBoundsDeclaredInstructionCount(t *testing.T) {
	// A few bytes of framing declaring an enormous instruction list must
	// fail on the missing instructions, not allocate for the declaration.
	var buf bytes.Buffer
	buf.Write(streamMagic)
	buf.WriteByte(windowMarker)
	var scratch [binary.MaxVarintLen64]byte
	for _, v := range []uint64{0, 0, 0, MaxTargetLen} {
		n := binary.PutUvarint(scratch[:], v)
		buf.Write(scratch[:n])
	}

	_, err := NewReader(&buf).Next()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDecode), "want decode error, got %v", err)
}

func TestWriterRefusesUseAfterFinish(t *testing.T) {
	w := NewWriter(io.Discard)
	require.NoError(t, w.Finish())

	err := w.Window(InsertWindow([]byte("late")))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProtocol))
	assert.Error(t, w.Finish())
}

func TestDrainIntoNopSink(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, Send(w,
		InsertWindow([]byte("one")),
		InsertWindow([]byte("two")),
	))

	require.NoError(t, NewReader(&buf).Drain(NopSink()))
}
