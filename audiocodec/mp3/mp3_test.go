package mp3

import (
	"testing"

	"github.com/dh1tw/gaplessAudio/audiocodec"
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/native"
	"github.com/dh1tw/gaplessAudio/native/nativetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushes [][]float32

func (f *flushes) collect(samples []float32) {
	c := make([]float32, len(samples))
	copy(c, samples)
	*f = append(*f, c)
}

func newContext(t *testing.T, target int, m *nativetest.ScriptedModule) (*Context, *native.Heap) {
	h := native.NewHeap()
	c, err := New(audiocodec.Heap(h), audiocodec.Module(m),
		audiocodec.TargetBufferLengthAudioFrames(target))
	require.NoError(t, err)
	return c, h
}

func framePerCall() *nativetest.ScriptedModule {
	m := nativetest.NewScriptedModule(44100, 2)
	m.Next = nativetest.FramePerCall(100, 1152)
	return m
}

func TestNewRequiresHeapAndModule(t *testing.T) {
	_, err := New()
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
}

func TestTargetIsClamped(t *testing.T) {
	c, _ := newContext(t, 10, framePerCall())
	assert.Equal(t, MaxAudioFramesPerFrame, c.TargetBufferLengthAudioFrames())

	require.NoError(t, c.SetTargetBufferLengthAudioFrames(10*MaxSampleRate))
	assert.Equal(t, maxTargetAudioFrames, c.TargetBufferLengthAudioFrames())
}

func TestFlushExactTargetAndCarry(t *testing.T) {
	c, _ := newContext(t, 2304, framePerCall())
	require.NoError(t, c.Start(nil))

	src := make([]byte, 2000)
	var out flushes

	n, err := c.DecodeUntilFlush(src, out.collect)
	require.NoError(t, err)
	assert.Equal(t, 300, n)
	require.Len(t, out, 1)
	require.Len(t, out[0], 2304*2)
	// the decoder delay is dropped from the front
	assert.Equal(t, float32(DecoderDelay), out[0][0])
	assert.Equal(t, float32(DecoderDelay), out[0][1])
	assert.Equal(t, float32(DecoderDelay+2303), out[0][2303*2])
	assert.Equal(t, 3*1152-DecoderDelay-2304, c.Unflushed())
	assert.Equal(t, 2304, c.CurrentAudioFrame())

	n, err = c.DecodeUntilFlush(src[300:], out.collect)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	require.Len(t, out, 2)
	// continues exactly where the previous flush stopped
	assert.Equal(t, float32(DecoderDelay+2304), out[1][0])
	assert.Equal(t, float32(DecoderDelay+2*2304-1), out[1][len(out[1])-1])
	assert.Equal(t, 4608, c.CurrentAudioFrame())
}

func TestInputExhaustedWithoutFlush(t *testing.T) {
	c, _ := newContext(t, 2304, framePerCall())
	require.NoError(t, c.Start(nil))

	var out flushes
	n, err := c.DecodeUntilFlush(make([]byte, 250), out.collect)
	require.NoError(t, err)
	// the trailing 50 bytes do not make up a frame
	assert.Equal(t, 200, n)
	assert.Empty(t, out)
	assert.Equal(t, 2*1152-DecoderDelay, c.Unflushed())

	flushed, err := c.End(out.collect)
	require.NoError(t, err)
	assert.True(t, flushed)
	require.Len(t, out, 1)
	assert.Len(t, out[0], (2*1152-DecoderDelay)*2)
	assert.Equal(t, audiocodec.Ended, c.State())
}

func TestEncoderDelayAndPadding(t *testing.T) {
	c, _ := newContext(t, 4608, framePerCall())
	d := &demuxer.Data{
		Frames:            100,
		EncoderDelay:      576,
		EncoderPadding:    1000,
		PaddingStartFrame: 2,
		SamplesPerFrame:   1152,
	}
	require.NoError(t, c.Start(d))

	var out flushes
	n, err := c.DecodeUntilFlush(make([]byte, 400), out.collect)
	require.NoError(t, err)
	assert.Equal(t, 400, n)
	assert.Empty(t, out)

	flushed, err := c.End(out.collect)
	require.NoError(t, err)
	require.True(t, flushed)

	skip := 576 + DecoderDelay
	first := 1152 - skip
	second := 1152 - 1000
	require.Len(t, out[0], (first+second)*2)
	assert.Equal(t, float32(skip), out[0][0])
	assert.Equal(t, float32(1152), out[0][first*2])
	// the third frame lies entirely in the padding
	assert.Equal(t, float32(1152+second-1), out[0][len(out[0])-1])
}

func TestStopsAtTotalFrames(t *testing.T) {
	c, _ := newContext(t, 4608, framePerCall())
	require.NoError(t, c.Start(&demuxer.Data{Frames: 2, PaddingStartFrame: -1, SamplesPerFrame: 1152}))

	var out flushes
	n, err := c.DecodeUntilFlush(make([]byte, 200), out.collect)
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	n, err = c.DecodeUntilFlush(make([]byte, 200), out.collect)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInvalidFrameBudget(t *testing.T) {
	below := 99*ResyncSkipBytes + MaxFrameByteLength

	m := nativetest.NewScriptedModule(44100, 2, nativetest.Repeat(nativetest.Step{}, 99)...)
	c, _ := newContext(t, 48000, m)
	require.Greater(t, c.srcCap, below)
	require.NoError(t, c.Start(nil))
	n, err := c.DecodeUntilFlush(make([]byte, below), func([]float32) {})
	require.NoError(t, err)
	assert.Equal(t, 99*ResyncSkipBytes, n)

	m = nativetest.NewScriptedModule(44100, 2, nativetest.Repeat(nativetest.Step{}, 100)...)
	c, _ = newContext(t, 48000, m)
	require.NoError(t, c.Start(nil))
	_, err = c.DecodeUntilFlush(make([]byte, below+1), func([]float32) {})
	assert.True(t, audioerr.Is(err, audioerr.CorruptStream))
}

func TestHeapInputIsAliased(t *testing.T) {
	m := framePerCall()
	c, h := newContext(t, 2304, m)
	require.NoError(t, c.Start(nil))

	p, err := h.Alloc(1000)
	require.NoError(t, err)
	src := h.Bytes(p)[10:]

	_, err = c.DecodeUntilFlush(src, func([]float32) {})
	require.NoError(t, err)
	require.NotEmpty(t, m.Srcs)
	assert.Equal(t, p, m.Srcs[0].Ptr)
	assert.Equal(t, 10, m.Srcs[0].Off)
	assert.Equal(t, p, m.Srcs[1].Ptr)
	assert.Equal(t, 110, m.Srcs[1].Off)

	_, err = c.DecodeUntilFlush(make([]byte, 300), func([]float32) {})
	require.NoError(t, err)
	assert.Equal(t, c.src, m.Srcs[len(m.Srcs)-1].Ptr)
}

func TestApplySeek(t *testing.T) {
	m := framePerCall()
	c, _ := newContext(t, 2304, m)
	require.NoError(t, c.Start(&demuxer.Data{Frames: 1000, PaddingStartFrame: -1, SamplesPerFrame: 1152}))

	_, err := c.DecodeUntilFlush(make([]byte, 500), func([]float32) {})
	require.NoError(t, err)
	resets := m.Resets

	require.NoError(t, c.ApplySeek(audiocodec.SeekResult{Frame: 10, SamplesToSkip: 9 * 1152}))
	assert.Equal(t, resets+1, m.Resets)
	assert.Equal(t, 0, c.Unflushed())
	assert.Equal(t, 19*1152, c.CurrentAudioFrame())

	var out flushes
	_, err = c.DecodeUntilFlush(make([]byte, 2000), out.collect)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 19*1152+2304, c.CurrentAudioFrame())

	require.NoError(t, c.ApplySeek(audiocodec.SeekResult{Frame: 0, SamplesToSkip: 576}))
	assert.Equal(t, 0, c.CurrentAudioFrame())
}

func TestApplySeekBeforeStart(t *testing.T) {
	c, _ := newContext(t, 2304, framePerCall())
	err := c.ApplySeek(audiocodec.SeekResult{Frame: 3})
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
}

func TestLifecycleErrors(t *testing.T) {
	c, _ := newContext(t, 2304, framePerCall())

	_, err := c.DecodeUntilFlush(make([]byte, 100), func([]float32) {})
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))

	_, err = c.End(func([]float32) {})
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))

	flushed, err := c.End(nil)
	require.NoError(t, err)
	assert.False(t, flushed)

	require.NoError(t, c.Start(nil))
	err = c.Start(nil)
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
}

func TestDestroyReleasesEverything(t *testing.T) {
	m := framePerCall()
	c, h := newContext(t, 2304, m)
	require.NoError(t, c.Start(nil))
	require.NoError(t, c.SetTargetBufferLengthAudioFrames(4608))
	assert.Equal(t, 3, h.Live())
	assert.Equal(t, 1, m.LiveContexts())

	require.NoError(t, c.Destroy())
	assert.Equal(t, 0, h.Live())
	assert.Equal(t, 0, m.LiveContexts())

	err := c.Destroy()
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
}

func TestReallocationKeepsCarry(t *testing.T) {
	c, h := newContext(t, 2304, framePerCall())
	require.NoError(t, c.Start(nil))

	var out flushes
	_, err := c.DecodeUntilFlush(make([]byte, 2000), out.collect)
	require.NoError(t, err)
	carry := c.Unflushed()
	require.Greater(t, carry, 0)

	used := h.Used()
	require.NoError(t, c.SetTargetBufferLengthAudioFrames(2304))
	assert.Equal(t, used, h.Used())

	require.NoError(t, c.SetTargetBufferLengthAudioFrames(4608))
	assert.Equal(t, carry, c.Unflushed())

	_, err = c.DecodeUntilFlush(make([]byte, 2000), out.collect)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Len(t, out[1], 4608*2)
	assert.Equal(t, float32(DecoderDelay+2304), out[1][0])
}

func TestAllocationFailure(t *testing.T) {
	h := native.NewHeap(native.Limit(1024))
	m := framePerCall()
	_, err := New(audiocodec.Heap(h), audiocodec.Module(m))
	assert.True(t, audioerr.Is(err, audioerr.Allocation))
	assert.Equal(t, 0, h.Live())
	assert.Equal(t, 0, m.LiveContexts())
}

func TestRegister(t *testing.T) {
	r := audiocodec.NewRegistry()
	Register(r)
	ctor, ok := r.Get(Name)
	require.True(t, ok)

	dc, err := ctor(audiocodec.Heap(native.NewHeap()), audiocodec.Module(framePerCall()))
	require.NoError(t, err)
	assert.Equal(t, Name, dc.Name())
	require.NoError(t, dc.Destroy())
}
