// Package mp3 implements the MPEG audio decoder context on top of a
// native single frame decoder.
package mp3

import (
	"math"

	"github.com/dh1tw/gaplessAudio/audiocodec"
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/native"
	"github.com/rs/zerolog"
)

// Name is the codec name the context is registered under.
const Name = "mp3"

const (
	DecoderDelay           = demuxer.DecoderDelay
	MaxSampleRate          = 48000
	MaxChannels            = 2
	MaxAudioFramesPerFrame = 1152
	MaxInvalidFrameCount   = 100
	MaxFrameByteLength     = 2881
	// ResyncSkipBytes are skipped over when a frame could not be decoded
	// although enough input was available.
	ResyncSkipBytes        = 419
	MaxBufferLengthSeconds = 5

	maxBytesPerAudioFrame = float64(MaxFrameByteLength) / (MaxAudioFramesPerFrame * MaxChannels)
	maxSamplesPerFrame    = MaxAudioFramesPerFrame * MaxChannels
	float32ByteLength     = 4
)

var (
	minTargetAudioFrames = MaxAudioFramesPerFrame
	maxTargetAudioFrames = int(math.Ceil(MaxBufferLengthSeconds*MaxSampleRate/
		float64(MaxAudioFramesPerFrame))) * MaxAudioFramesPerFrame
)

// Context is the mp3 decoder context. Its scratch, sample and result
// regions live on the native heap and are owned by a single handle.
type Context struct {
	audiocodec.Base

	log    zerolog.Logger
	heap   *native.Heap
	module native.Module
	ctx    native.Ctx

	buffers    *native.Handle
	src        native.Ptr
	srcCap     int
	samples    native.Ptr
	samplesCap int
	result     native.Ptr

	currentFrame int
	totalFrames  int
	invalidCount int
}

// New creates an mp3 decoder context. A heap and a module are required.
func New(opts ...audiocodec.Option) (*Context, error) {
	options := audiocodec.Options{
		TargetBufferLengthAudioFrames: MaxSampleRate,
		Logger:                        zerolog.Nop(),
	}

	for _, option := range opts {
		option(&options)
	}

	if options.Heap == nil || options.Module == nil {
		return nil, audioerr.Invariantf("mp3 decoder context needs a native heap and module")
	}

	c := &Context{
		Base:        audiocodec.NewBase(Name, options),
		log:         options.Logger.With().Str("codec", Name).Logger(),
		heap:        options.Heap,
		module:      options.Module,
		totalFrames: math.MaxInt32,
	}

	ctx, err := c.module.NewContext()
	if err != nil {
		return nil, audioerr.Allocationf("unable to create native mp3 context: %v", err)
	}
	c.ctx = ctx

	if err := c.allocate(clampTarget(options.TargetBufferLengthAudioFrames)); err != nil {
		c.module.FreeContext(ctx)
		return nil, err
	}

	return c, nil
}

// Register adds the mp3 decoder context to r.
func Register(r *audiocodec.Registry) {
	r.Register(Name, func(opts ...audiocodec.Option) (audiocodec.DecoderContext, error) {
		c, err := New(opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

func clampTarget(n int) int {
	if n < minTargetAudioFrames {
		return minTargetAudioFrames
	}
	if n > maxTargetAudioFrames {
		return maxTargetAudioFrames
	}
	return n
}

// maxSamplesUntilFlush is the sample capacity needed to accumulate target
// audio frames plus the overflow of one more mp3 frame.
func maxSamplesUntilFlush(target int) int {
	return int(math.Ceil(float64(target*MaxChannels)/maxSamplesPerFrame))*maxSamplesPerFrame +
		maxSamplesPerFrame
}

// allocate (re)creates the native regions for target audio frames. The
// unflushed samples are carried over into the new sample region.
func (c *Context) allocate(target int) error {
	samplesCap := maxSamplesUntilFlush(target)
	if carry := (c.Unflushed() + MaxAudioFramesPerFrame) * MaxChannels; carry > samplesCap {
		samplesCap = carry
	}
	srcCap := int(math.Ceil(maxBytesPerAudioFrame * float64(samplesCap/MaxChannels)))

	scope := c.heap.NewScope()
	defer scope.Close()

	result, err := scope.Alloc(native.ResultByteLength)
	if err != nil {
		return err
	}
	src, err := scope.Alloc(srcCap)
	if err != nil {
		return err
	}
	samples, err := scope.Alloc(samplesCap * float32ByteLength)
	if err != nil {
		return err
	}
	buffers := scope.Keep()

	if c.buffers != nil {
		if n := c.Unflushed() * c.Channels(); n > 0 {
			copy(c.heap.Float32s(samples, samplesCap), c.sampleBuffer()[:n])
		}
		if err := c.buffers.Release(); err != nil {
			buffers.Release()
			return err
		}
	}

	c.buffers = buffers
	c.result = result
	c.src = src
	c.srcCap = srcCap
	c.samples = samples
	c.samplesCap = samplesCap
	c.SetTarget(target)

	c.log.Debug().
		Int("target", target).
		Int("src_bytes", srcCap).
		Int("samples", samplesCap).
		Msg("allocated native buffers")
	return nil
}

func (c *Context) sampleBuffer() []float32 {
	return c.heap.Float32s(c.samples, c.samplesCap)
}

// SetTargetBufferLengthAudioFrames sets the flush length. The native
// buffers are only reallocated when the clamped length changes.
func (c *Context) SetTargetBufferLengthAudioFrames(n int) error {
	if c.Destroyed() {
		return audioerr.Invariantf("mp3 decoder context has been destroyed")
	}
	n = clampTarget(n)
	if n == c.TargetBufferLengthAudioFrames() {
		return nil
	}
	return c.allocate(n)
}

// Start begins a decoding session.
func (c *Context) Start(d *demuxer.Data) error {
	skip := DecoderDelay
	totalFrames := math.MaxInt32
	if d != nil {
		skip += d.EncoderDelay
		totalFrames = d.Frames
	}
	if err := c.Begin(d, skip); err != nil {
		return err
	}
	c.totalFrames = totalFrames
	return c.resetDecoding()
}

// ApplySeek repositions the context without discarding the native
// decoder handle.
func (c *Context) ApplySeek(r audiocodec.SeekResult) error {
	skip := r.SamplesToSkip
	position := r.Frame * c.samplesPerFrame()
	if r.Frame == 0 {
		skip += DecoderDelay
		position = -skip
	}
	if err := c.Reposition(position, skip); err != nil {
		return err
	}
	if err := c.resetDecoding(); err != nil {
		return err
	}
	c.currentFrame = r.Frame
	return nil
}

func (c *Context) samplesPerFrame() int {
	if d := c.Data(); d != nil && d.SamplesPerFrame > 0 {
		return d.SamplesPerFrame
	}
	return MaxAudioFramesPerFrame
}

func (c *Context) resetDecoding() error {
	c.currentFrame = 0
	c.invalidCount = 0
	return c.module.Reset(c.ctx)
}

// End flushes the accumulated audio frames and ends the session.
func (c *Context) End(flush audiocodec.FlushFunc) (bool, error) {
	if c.Destroyed() {
		return false, audioerr.Invariantf("mp3 decoder context has been destroyed")
	}
	flushed, err := c.Finish(c.sampleBuffer(), flush)
	if err != nil {
		return false, err
	}
	c.totalFrames = math.MaxInt32
	return flushed, c.resetDecoding()
}

// Destroy releases the native decoder and all native regions.
func (c *Context) Destroy() error {
	if err := c.MarkDestroyed(); err != nil {
		return err
	}

	var firstErr error
	if err := c.module.FreeContext(c.ctx); err != nil {
		firstErr = err
	}
	if err := c.buffers.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.src, c.samples, c.result = 0, 0, 0
	return firstErr
}

// DecodeUntilFlush decodes mp3 frames out of src until a buffer of the
// target length has been flushed or the input ran out.
func (c *Context) DecodeUntilFlush(src []byte, flush audiocodec.FlushFunc) (int, error) {
	if err := c.BeginDecode(); err != nil {
		return 0, err
	}
	if c.currentFrame >= c.totalFrames {
		return 0, nil
	}

	samples := c.sampleBuffer()
	if c.FlushCarry(samples, flush) {
		return 0, nil
	}

	length := len(src)
	if length > c.srcCap {
		length = c.srcCap
	}
	if length == 0 {
		return 0, nil
	}

	// input which already lives on the heap is decoded in place
	in := native.Span{Ptr: c.src, Len: length}
	if p, off, ok := c.heap.Locate(src[:length]); ok {
		in = native.Span{Ptr: p, Off: off, Len: length}
	} else {
		copy(c.heap.Bytes(c.src), src[:length])
	}

	result := c.heap.Uint32s(c.result, 2)
	remaining := length
	offset := 0

	for remaining > 0 {
		channels := c.Channels()
		if channels <= 0 {
			channels = MaxChannels
		}
		outOffset := c.Unflushed() * channels * float32ByteLength
		out := native.Span{
			Ptr: c.samples,
			Off: outOffset,
			Len: c.samplesCap*float32ByteLength - outOffset,
		}
		frame := native.Span{Ptr: in.Ptr, Off: in.Off + offset, Len: remaining}

		if err := c.module.DecodeFrame(c.heap, c.ctx, frame, out, c.result); err != nil {
			return length - remaining, err
		}

		bytesRead := int(result[native.ResultBytesRead])
		audioFrames := int(result[native.ResultFramesWritten])
		if bytesRead > remaining {
			bytesRead = remaining
		}
		if bytesRead > 0 {
			remaining -= bytesRead
			offset += bytesRead
		}

		switch {
		case audioFrames > 0:
			if !c.HasEstablishedMetadata() {
				sampleRate, channels := c.module.Info(c.ctx)
				if err := c.Establish(sampleRate, channels); err != nil {
					return length - remaining, err
				}
			}
			c.currentFrame++
			if c.frameDecoded(samples, audioFrames, flush) {
				c.invalidCount = 0
				return length - remaining, nil
			}

		case remaining > MaxFrameByteLength:
			c.invalidCount++
			if c.invalidCount >= MaxInvalidFrameCount {
				return length - remaining, audioerr.CorruptStreamf(
					"too many invalid mp3 frames (%d)", c.invalidCount)
			}
			skip := ResyncSkipBytes
			if remaining < skip {
				skip = remaining
			}
			remaining -= skip
			offset += skip

		default:
			return length - remaining, nil
		}
	}
	return length - remaining, nil
}

// frameDecoded trims the encoder padding of the final frames before the
// audio frames are accounted for.
func (c *Context) frameDecoded(samples []float32, audioFrames int, flush audiocodec.FlushFunc) bool {
	if d := c.Data(); d != nil && d.PaddingStartFrame != -1 && c.currentFrame >= d.PaddingStartFrame {
		if c.currentFrame != d.PaddingStartFrame {
			return false
		}
		audioFrames -= d.EncoderPadding % d.SamplesPerFrame
	}
	return c.Accumulate(samples, audioFrames, flush)
}
