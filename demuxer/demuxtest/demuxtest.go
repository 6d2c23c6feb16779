// Package demuxtest generates synthetic MPEG layer III streams. The frames
// carry valid headers and empty side information, so they decode to
// silence.
package demuxtest

import (
	"bytes"
	"encoding/binary"
)

const (
	// Header128 is a MPEG 1 layer III header: 128 kbit/s, 44.1 kHz, joint
	// stereo, 417 byte frames.
	Header128 = 0xFFFB9064
	// Header160 only differs in the bitrate: 160 kbit/s, 522 byte frames.
	Header160 = 0xFFFBA064
	// HeaderMono128 is the single channel variant of Header128.
	HeaderMono128 = 0xFFFB90C4

	FrameSize128    = 417
	FrameSize160    = 522
	SamplesPerFrame = 1152
	SampleRate      = 44100
)

// Options describe the stream to build.
type Options struct {
	Frames int
	// Headers are used round robin for the audio frames. Defaults to
	// Header128.
	Headers []uint32
	// ID3Size prepends an ID3v2 tag with that many bytes of payload.
	ID3Size int
	// Xing prepends a Xing frame with frame count and TOC.
	Xing bool
	// LAME adds a LAME tag to the Xing frame.
	LAME           bool
	EncoderDelay   int
	EncoderPadding int
}

// Frame returns an empty frame for header h.
func Frame(h uint32) []byte {
	size := FrameSize128
	switch h {
	case Header160:
		size = FrameSize160
	}
	f := make([]byte, size)
	binary.BigEndian.PutUint32(f, h)
	return f
}

// CBR returns frames constant bitrate frames without any tags.
func CBR(frames int) []byte {
	return Build(Options{Frames: frames})
}

// Build returns the stream described by o.
func Build(o Options) []byte {
	headers := o.Headers
	if len(headers) == 0 {
		headers = []uint32{Header128}
	}

	var buf bytes.Buffer
	if o.ID3Size > 0 {
		buf.Write([]byte{'I', 'D', '3', 4, 0, 0})
		s := o.ID3Size
		buf.Write([]byte{byte(s >> 21 & 0x7f), byte(s >> 14 & 0x7f), byte(s >> 7 & 0x7f), byte(s & 0x7f)})
		buf.Write(make([]byte, s))
	}

	if o.Xing {
		buf.Write(xingFrame(o))
	}

	for i := 0; i < o.Frames; i++ {
		buf.Write(Frame(headers[i%len(headers)]))
	}
	return buf.Bytes()
}

// XingTagOffset is the position of the Xing tag inside of its frame.
const XingTagOffset = 4 + 32

// XingDataStart is the offset following the LAME tag relative to the
// start of the Xing frame.
const XingDataStart = XingTagOffset + 4 + 4 + 4 + 100 + 21 + 3 + 12

func xingFrame(o Options) []byte {
	f := Frame(Header128)
	p := XingTagOffset
	copy(f[p:], "Xing")
	p += 4
	binary.BigEndian.PutUint32(f[p:], 0x1|0x4)
	p += 4
	binary.BigEndian.PutUint32(f[p:], uint32(o.Frames))
	p += 4
	for i := 0; i < 100; i++ {
		f[p+i] = byte(i * 256 / 100)
	}
	p += 100

	if o.LAME {
		copy(f[p:], "LAME3.99r")
		p += 21
		v := uint32(o.EncoderDelay&0xfff)<<12 | uint32(o.EncoderPadding&0xfff)
		f[p] = byte(v >> 16)
		f[p+1] = byte(v >> 8)
		f[p+2] = byte(v)
	}
	return f
}
