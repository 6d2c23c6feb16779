// Package gomp3 implements the native single-frame MP3 decode primitive
// on top of github.com/hajimehoshi/go-mp3. go-mp3 is a streaming decoder;
// every DecodeFrame call feeds it exactly one complete frame and drains
// exactly the PCM of that frame, which keeps its bit reservoir intact
// between calls.
package gomp3

import (
	"io"
	"sync"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/mpeg"
	"github.com/dh1tw/gaplessAudio/native"
	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always produces 16 bit little endian stereo
const bytesPerOutputFrame = 4

// Module is a native.Module backed by go-mp3.
type Module struct {
	sync.Mutex
	ctxs   map[native.Ctx]*context
	nextID native.Ctx
}

type context struct {
	feed       *feeder
	dec        *mp3.Decoder
	pcm        []byte
	sampleRate int
	channels   int
}

// feeder hands the bytes of the frames pushed into it to go-mp3 and
// reports io.EOF once drained.
type feeder struct {
	buf []byte
}

func (f *feeder) Read(p []byte) (int, error) {
	if len(f.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

func (f *feeder) push(b []byte) {
	f.buf = append(f.buf, b...)
}

// New returns a new go-mp3 backed module.
func New() *Module {
	return &Module{
		ctxs: make(map[native.Ctx]*context),
	}
}

func (m *Module) NewContext() (native.Ctx, error) {
	m.Lock()
	defer m.Unlock()
	m.nextID++
	m.ctxs[m.nextID] = &context{
		feed: &feeder{},
		pcm:  make([]byte, 1152*bytesPerOutputFrame),
	}
	return m.nextID, nil
}

func (m *Module) FreeContext(ctx native.Ctx) error {
	m.Lock()
	defer m.Unlock()
	if _, ok := m.ctxs[ctx]; !ok {
		return audioerr.Invariantf("unknown decoder context %d", ctx)
	}
	delete(m.ctxs, ctx)
	return nil
}

func (m *Module) context(ctx native.Ctx) (*context, error) {
	m.Lock()
	defer m.Unlock()
	c, ok := m.ctxs[ctx]
	if !ok {
		return nil, audioerr.Invariantf("unknown decoder context %d", ctx)
	}
	return c, nil
}

// Reset drops the go-mp3 decoder together with its bit reservoir. It is
// recreated with the next frame.
func (m *Module) Reset(ctx native.Ctx) error {
	c, err := m.context(ctx)
	if err != nil {
		return err
	}
	c.dec = nil
	c.feed.buf = c.feed.buf[:0]
	return nil
}

func (m *Module) Info(ctx native.Ctx) (int, int) {
	c, err := m.context(ctx)
	if err != nil {
		return 0, 0
	}
	return c.sampleRate, c.channels
}

func (m *Module) DecodeFrame(h *native.Heap, ctx native.Ctx, src native.Span,
	dst native.Span, result native.Ptr) error {

	c, err := m.context(ctx)
	if err != nil {
		return err
	}

	res := h.Uint32s(result, 2)
	if res == nil {
		return audioerr.Invariantf("invalid result pointer %d", result)
	}
	res[native.ResultBytesRead] = 0
	res[native.ResultFramesWritten] = 0

	in := h.View(src)
	if in == nil && src.Len > 0 {
		return audioerr.Invariantf("invalid source span %+v", src)
	}
	srcLen := len(in)

	off, hdr, ok := mpeg.Find(in)
	if !ok {
		// keep a possibly truncated header for the next call
		if srcLen > 3 {
			res[native.ResultBytesRead] = uint32(srcLen - 3)
		}
		return nil
	}

	if off+hdr.FrameSize > srcLen {
		res[native.ResultBytesRead] = uint32(off)
		return nil
	}

	frames := c.decode(in[off : off+hdr.FrameSize], hdr)
	res[native.ResultBytesRead] = uint32(off + hdr.FrameSize)
	if frames == 0 {
		return nil
	}

	out := h.Float32View(dst)
	if len(out) < frames*hdr.Channels {
		return audioerr.Invariantf("output buffer too small for %d frames", frames)
	}

	for i := 0; i < frames; i++ {
		l := int16(uint16(c.pcm[i*4]) | uint16(c.pcm[i*4+1])<<8)
		r := int16(uint16(c.pcm[i*4+2]) | uint16(c.pcm[i*4+3])<<8)
		if hdr.Channels == 1 {
			out[i] = float32(l) / 32768
			continue
		}
		out[i*2] = float32(l) / 32768
		out[i*2+1] = float32(r) / 32768
	}

	c.sampleRate = hdr.SampleRate
	c.channels = hdr.Channels
	res[native.ResultFramesWritten] = uint32(frames)
	return nil
}

// decode feeds one frame into go-mp3 and returns the amount of audio
// frames which were written to c.pcm. Decoder errors drop the decoder;
// the frame counts as consumed without output.
func (c *context) decode(frame []byte, hdr mpeg.Header) int {
	c.feed.push(frame)

	if c.dec == nil {
		dec, err := mp3.NewDecoder(c.feed)
		if err != nil {
			c.feed.buf = c.feed.buf[:0]
			return 0
		}
		c.dec = dec
	}

	want := hdr.SamplesPerFrame * bytesPerOutputFrame
	if want > len(c.pcm) {
		want = len(c.pcm)
	}

	n, err := io.ReadFull(c.dec, c.pcm[:want])
	if err != nil && err != io.ErrUnexpectedEOF {
		c.dec = nil
		c.feed.buf = c.feed.buf[:0]
		return 0
	}
	if err == io.ErrUnexpectedEOF {
		// the decoder ran dry inside of a frame; its state is unusable
		c.dec = nil
		c.feed.buf = c.feed.buf[:0]
	}
	return n / bytesPerOutputFrame
}
