// Package wav implements the decoder context for RIFF/WAVE PCM data.
package wav

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/dh1tw/gaplessAudio/audiocodec"
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

// Name is the codec name the context is registered under.
const Name = "wav"

// Context decodes integer PCM with 8, 16, 24 or 32 bits and 32 bit float
// PCM. Partial audio frames at the end of the input are left unconsumed.
type Context struct {
	audiocodec.Base

	log          zerolog.Logger
	samples      []float32
	ints         *audio.IntBuffer
	raw          []byte
	currentFrame int
	totalFrames  int
}

// New creates a wav decoder context.
func New(opts ...audiocodec.Option) (*Context, error) {
	options := audiocodec.Options{
		TargetBufferLengthAudioFrames: 48000,
		Logger:                        zerolog.Nop(),
	}

	for _, option := range opts {
		option(&options)
	}

	if options.TargetBufferLengthAudioFrames <= 0 {
		return nil, audioerr.Invariantf("invalid target buffer length %d",
			options.TargetBufferLengthAudioFrames)
	}

	return &Context{
		Base: audiocodec.NewBase(Name, options),
		log:  options.Logger.With().Str("codec", Name).Logger(),
		ints: &audio.IntBuffer{},
	}, nil
}

// Register adds the wav decoder context to r.
func Register(r *audiocodec.Registry) {
	r.Register(Name, func(opts ...audiocodec.Option) (audiocodec.DecoderContext, error) {
		c, err := New(opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Start begins a decoding session. Wav data can not be decoded without
// its format chunk, so d is mandatory.
func (c *Context) Start(d *demuxer.Data) error {
	if d == nil {
		return audioerr.Invariantf("wav decoder context needs demux data")
	}
	switch {
	case d.Float && d.BitDepth == 32:
	case !d.Float && (d.BitDepth == 8 || d.BitDepth == 16 || d.BitDepth == 24 || d.BitDepth == 32):
	default:
		return audioerr.UnsupportedFormatf("unsupported wav sample format: %d bit (float: %v)",
			d.BitDepth, d.Float)
	}
	if err := c.Begin(d, 0); err != nil {
		return err
	}
	if err := c.Establish(d.SampleRate, d.Channels); err != nil {
		return err
	}

	c.ints.Format = &audio.Format{NumChannels: d.Channels, SampleRate: d.SampleRate}
	c.ints.SourceBitDepth = d.BitDepth
	c.ints.Data = c.ints.Data[:0]
	c.currentFrame = 0
	c.totalFrames = d.Frames
	c.ensureCapacity()
	return nil
}

func (c *Context) ensureCapacity() {
	frames := c.TargetBufferLengthAudioFrames()
	if c.Unflushed() > frames {
		frames = c.Unflushed()
	}
	n := frames * c.Channels()
	if len(c.samples) >= n {
		return
	}
	samples := make([]float32, n)
	copy(samples, c.samples[:c.Unflushed()*c.Channels()])
	c.samples = samples
}

func (c *Context) SetTargetBufferLengthAudioFrames(n int) error {
	if c.Destroyed() {
		return audioerr.Invariantf("wav decoder context has been destroyed")
	}
	if n <= 0 {
		return audioerr.Invariantf("invalid target buffer length %d", n)
	}
	c.SetTarget(n)
	if c.HasEstablishedMetadata() {
		c.ensureCapacity()
	}
	return nil
}

// ApplySeek repositions the context. Wav seeks are sample exact.
func (c *Context) ApplySeek(r audiocodec.SeekResult) error {
	if err := c.Reposition(r.Frame, r.SamplesToSkip); err != nil {
		return err
	}
	c.currentFrame = r.Frame
	return nil
}

// DecodeUntilFlush converts whole audio frames of src until the target
// length has been flushed.
func (c *Context) DecodeUntilFlush(src []byte, flush audiocodec.FlushFunc) (int, error) {
	if err := c.BeginDecode(); err != nil {
		return 0, err
	}
	if c.FlushCarry(c.samples, flush) {
		return 0, nil
	}

	d := c.Data()
	frames := len(src) / d.BlockAlign
	if needed := c.TargetBufferLengthAudioFrames() - c.Unflushed(); frames > needed {
		frames = needed
	}
	if left := c.totalFrames - c.currentFrame; frames > left {
		frames = left
	}
	if frames <= 0 {
		return 0, nil
	}

	ch := c.Channels()
	off := c.Unflushed() * ch
	if err := c.convert(src, c.samples[off:off+frames*ch], d); err != nil {
		return 0, err
	}
	c.currentFrame += frames
	c.Accumulate(c.samples, frames, flush)
	return frames * d.BlockAlign, nil
}

// convert writes the interleaved samples of len(dst)/channels audio
// frames to dst. Integer PCM is decoded and scaled by go-audio.
func (c *Context) convert(src []byte, dst []float32, d *demuxer.Data) error {
	ch := d.Channels
	frames := len(dst) / ch
	bytesPerSample := d.BitDepth / 8

	if d.Float {
		for f := 0; f < frames; f++ {
			for i := 0; i < ch; i++ {
				b := src[f*d.BlockAlign+i*bytesPerSample:]
				dst[f*ch+i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
			}
		}
		return nil
	}

	if cap(c.ints.Data) < len(dst) {
		c.ints.Data = make([]int, len(dst))
	}
	c.ints.Data = c.ints.Data[:len(dst)]

	dec := gowav.NewDecoder(c.pcmFile(src[:frames*d.BlockAlign], d))
	n, err := dec.PCMBuffer(c.ints)
	if err != nil {
		return audioerr.CorruptStreamf("decode wav pcm: %v", err)
	}
	if n != len(dst) {
		return audioerr.CorruptStreamf("decoded %d of %d wav samples", n, len(dst))
	}
	if d.BitDepth == 8 {
		// 8 bit wav data is unsigned
		for i := range c.ints.Data {
			c.ints.Data[i] -= 128
		}
	}
	copy(dst, c.ints.AsFloat32Buffer().Data)
	return nil
}

// pcmFile frames the audio frames of src as a canonical wav file. Padding
// of wider sample containers is dropped.
func (c *Context) pcmFile(src []byte, d *demuxer.Data) *bytes.Reader {
	packed := d.Channels * d.BitDepth / 8
	size := len(src) / d.BlockAlign * packed

	b := c.raw[:0]
	b = append(b, "RIFF"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(36+size))
	b = append(b, "WAVEfmt "...)
	b = binary.LittleEndian.AppendUint32(b, 16)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, uint16(d.Channels))
	b = binary.LittleEndian.AppendUint32(b, uint32(d.SampleRate))
	b = binary.LittleEndian.AppendUint32(b, uint32(d.SampleRate*packed))
	b = binary.LittleEndian.AppendUint16(b, uint16(packed))
	b = binary.LittleEndian.AppendUint16(b, uint16(d.BitDepth))
	b = append(b, "data"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(size))
	if packed == d.BlockAlign {
		b = append(b, src...)
	} else {
		for off := 0; off+d.BlockAlign <= len(src); off += d.BlockAlign {
			b = append(b, src[off:off+packed]...)
		}
	}
	c.raw = b
	return bytes.NewReader(b)
}

func (c *Context) End(flush audiocodec.FlushFunc) (bool, error) {
	if c.Destroyed() {
		return false, audioerr.Invariantf("wav decoder context has been destroyed")
	}
	c.currentFrame = 0
	return c.Finish(c.samples, flush)
}

func (c *Context) Destroy() error {
	if err := c.MarkDestroyed(); err != nil {
		return err
	}
	c.samples = nil
	c.ints.Data = nil
	c.raw = nil
	return nil
}
