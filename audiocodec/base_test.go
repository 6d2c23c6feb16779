package audiocodec

import (
	"testing"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeInto emulates a native decoder writing frames mono audio frames
// with the values next, next+1, ... right behind the unflushed ones.
func decodeInto(b *Base, buf []float32, next *float32, frames int) {
	off := b.Unflushed() * b.Channels()
	for i := 0; i < frames; i++ {
		buf[off+i] = *next
		*next++
	}
}

func newMonoBase(t *testing.T, target int) *Base {
	b := NewBase("test", Options{TargetBufferLengthAudioFrames: target})
	require.NoError(t, b.Begin(nil, 3))
	require.NoError(t, b.BeginDecode())
	require.NoError(t, b.Establish(8000, 1))
	return &b
}

func TestAccumulateSkipsAndFlushes(t *testing.T) {
	b := newMonoBase(t, 8)
	buf := make([]float32, 32)
	var next float32
	var out [][]float32
	flush := func(s []float32) {
		out = append(out, append([]float32(nil), s...))
	}

	decodeInto(b, buf, &next, 5)
	assert.False(t, b.Accumulate(buf, 5, flush))
	assert.Equal(t, 2, b.Unflushed())
	assert.Equal(t, 3, b.Skipped())
	assert.Equal(t, 0, b.CurrentAudioFrame())

	decodeInto(b, buf, &next, 10)
	require.True(t, b.Accumulate(buf, 10, flush))
	require.Len(t, out, 1)
	assert.Equal(t, []float32{3, 4, 5, 6, 7, 8, 9, 10}, out[0])
	assert.Equal(t, 4, b.Unflushed())
	assert.Equal(t, []float32{11, 12, 13, 14}, buf[:4])
	assert.Equal(t, 8, b.CurrentAudioFrame())
}

func TestFlushCarryAfterTargetShrank(t *testing.T) {
	b := newMonoBase(t, 16)
	buf := make([]float32, 32)
	var next float32
	var out [][]float32
	flush := func(s []float32) {
		out = append(out, append([]float32(nil), s...))
	}

	decodeInto(b, buf, &next, 13)
	assert.False(t, b.Accumulate(buf, 13, flush))
	assert.Equal(t, 10, b.Unflushed())

	b.SetTarget(4)
	require.True(t, b.FlushCarry(buf, flush))
	assert.Equal(t, []float32{3, 4, 5, 6}, out[0])
	assert.Equal(t, 6, b.Unflushed())
	require.True(t, b.FlushCarry(buf, flush))
	assert.Equal(t, []float32{7, 8, 9, 10}, out[1])
	assert.False(t, b.FlushCarry(buf, flush))

	flushed, err := b.Finish(buf, flush)
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, []float32{11, 12}, out[2])
	assert.Equal(t, Ended, b.State())
}

func TestBaseLifecycle(t *testing.T) {
	b := NewBase("test", Options{})
	assert.Equal(t, NotStarted, b.State())

	err := b.BeginDecode()
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))

	require.NoError(t, b.Begin(nil, 0))
	require.NoError(t, b.Establish(44100, 2))
	err = b.Establish(44100, 2)
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))

	require.NoError(t, b.MarkDestroyed())
	err = b.MarkDestroyed()
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
	err = b.Begin(nil, 0)
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("mp3")
	assert.False(t, ok)

	r.Register("wav", func(...Option) (DecoderContext, error) { return nil, nil })
	r.Register("mp3", func(...Option) (DecoderContext, error) { return nil, nil })
	_, ok = r.Get("mp3")
	assert.True(t, ok)
	assert.Equal(t, []string{"mp3", "wav"}, r.Names())
}
