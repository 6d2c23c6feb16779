package gomp3

import (
	"testing"

	"github.com/dh1tw/gaplessAudio/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentFrame returns a 128 kbit/s 44.1 kHz stereo frame with empty side
// information, which decodes to digital silence.
func silentFrame() []byte {
	f := make([]byte, 417)
	copy(f, []byte{0xFF, 0xFB, 0x90, 0x64})
	return f
}

type harness struct {
	heap   *native.Heap
	src    native.Ptr
	dst    native.Ptr
	result native.Ptr
}

func newHarness(t *testing.T, srcSize int) *harness {
	h := native.NewHeap()
	src, err := h.Alloc(srcSize)
	require.NoError(t, err)
	dst, err := h.Alloc(1152 * 2 * 4)
	require.NoError(t, err)
	result, err := h.Alloc(native.ResultByteLength)
	require.NoError(t, err)
	return &harness{heap: h, src: src, dst: dst, result: result}
}

func (hs *harness) decode(m *Module, ctx native.Ctx, n int) error {
	src := native.Span{Ptr: hs.src, Len: n}
	dst := native.Span{Ptr: hs.dst, Len: 1152 * 2 * 4}
	return m.DecodeFrame(hs.heap, ctx, src, dst, hs.result)
}

func (hs *harness) results() (int, int) {
	r := hs.heap.Uint32s(hs.result, 2)
	return int(r[native.ResultBytesRead]), int(r[native.ResultFramesWritten])
}

func TestDecodeSilentFrame(t *testing.T) {
	m := New()
	ctx, err := m.NewContext()
	require.NoError(t, err)
	defer m.FreeContext(ctx)

	frame := silentFrame()
	hs := newHarness(t, len(frame))
	copy(hs.heap.Bytes(hs.src), frame)

	require.NoError(t, hs.decode(m, ctx, len(frame)))
	read, frames := hs.results()
	assert.Equal(t, 417, read)
	assert.Equal(t, 1152, frames)

	sr, chs := m.Info(ctx)
	assert.Equal(t, 44100, sr)
	assert.Equal(t, 2, chs)

	for _, s := range hs.heap.Float32s(hs.dst, frames*2) {
		if s != 0 {
			t.Fatalf("expected silence, got %v", s)
		}
	}
}

func TestIncompleteFrameIsNotConsumed(t *testing.T) {
	m := New()
	ctx, err := m.NewContext()
	require.NoError(t, err)

	frame := silentFrame()
	garbage := []byte{1, 2, 3, 4, 5}
	in := append(append([]byte{}, garbage...), frame[:200]...)
	hs := newHarness(t, len(in))
	copy(hs.heap.Bytes(hs.src), in)

	require.NoError(t, hs.decode(m, ctx, len(in)))
	read, frames := hs.results()
	assert.Equal(t, len(garbage), read)
	assert.Equal(t, 0, frames)
}

func TestGarbageKeepsTail(t *testing.T) {
	m := New()
	ctx, err := m.NewContext()
	require.NoError(t, err)

	hs := newHarness(t, 100)
	require.NoError(t, hs.decode(m, ctx, 100))
	read, frames := hs.results()
	assert.Equal(t, 97, read)
	assert.Equal(t, 0, frames)
}

func TestUnknownContext(t *testing.T) {
	m := New()
	hs := newHarness(t, 8)
	assert.Error(t, hs.decode(m, 42, 8))
	assert.Error(t, m.FreeContext(42))
	assert.Error(t, m.Reset(42))
}
