// Package mpeg parses MPEG audio layer III frame headers.
package mpeg

var freqTab = [3]int{44100, 48000, 32000}

var bitrateTab = [30]int{
	0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320,
	0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160,
}

// Header is a decoded frame header.
type Header struct {
	LSF             bool // MPEG 2 or 2.5
	SampleRate      int
	BitRate         int // bits per second
	Padding         int
	Channels        int
	SamplesPerFrame int
	FrameSize       int // bytes including the header
}

// ProbablyHeader checks the sync word, the layer bits and rejects the
// reserved bitrate and sample rate indices.
func ProbablyHeader(h uint32) bool {
	return h&0xffe00000 == 0xffe00000 &&
		h&(3<<17) == 1<<17 &&
		h&(0xf<<12) != 0xf<<12 &&
		h&(3<<10) != 3<<10
}

// ParseHeader decodes h. Free format frames (bitrate index 0) are reported
// as invalid since their size can't be derived from the header.
func ParseHeader(h uint32) (Header, bool) {
	if !ProbablyHeader(h) {
		return Header{}, false
	}

	var lsf, mpeg25 int
	if h&(1<<20) != 0 {
		if h&(1<<19) == 0 {
			lsf = 1
		}
	} else {
		lsf = 1
		mpeg25 = 1
	}

	sampleRate := freqTab[(h>>10)&3] >> uint(lsf+mpeg25)
	bitRate := bitrateTab[lsf*15+int((h>>12)&0xf)] * 1000
	if bitRate == 0 || sampleRate == 0 {
		return Header{}, false
	}

	padding := int((h >> 9) & 1)
	channels := 2
	if (h>>6)&3 == 3 {
		channels = 1
	}
	spf := 1152
	if lsf == 1 {
		spf = 576
	}

	return Header{
		LSF:             lsf == 1,
		SampleRate:      sampleRate,
		BitRate:         bitRate,
		Padding:         padding,
		Channels:        channels,
		SamplesPerFrame: spf,
		FrameSize:       (bitRate/1000)*144000/(sampleRate<<uint(lsf)) + padding,
	}, true
}

// MaxBytesPerAudioFrame returns the worst case amount of compressed bytes
// needed for one audio frame at the given sample rate.
func MaxBytesPerAudioFrame(sampleRate int, lsf bool) float64 {
	shift := uint(0)
	spf := 1152
	if lsf {
		shift = 1
		spf = 576
	}
	return float64(320*144000/(sampleRate<<shift)+1) / float64(spf)
}

// BE32 reads a big endian uint32 from b.
func BE32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Find returns the offset of the first header in b which is followed by
// another valid header (or by the end of b), the header and whether one
// was found.
func Find(b []byte) (int, Header, bool) {
	for i := 0; i+4 <= len(b); i++ {
		hdr, ok := ParseHeader(BE32(b[i:]))
		if !ok {
			continue
		}
		next := i + hdr.FrameSize
		if next+4 <= len(b) && !ProbablyHeader(BE32(b[next:])) {
			continue
		}
		return i, hdr, true
	}
	return 0, Header{}, false
}
