// Package pipeline reads encoded audio from a file view, decodes it and
// post-processes the decoded samples into planar destination buffers.
package pipeline

import (
	"math"

	"github.com/dh1tw/gaplessAudio/audiocodec"
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/loudness"
)

// BlockSize is the granularity in audio frames short buffers are padded
// to.
const BlockSize = 128

// Descriptor describes a filled buffer.
type Descriptor struct {
	Length      int           `json:"length"`
	StartTime   float64       `json:"startTime"`
	EndTime     float64       `json:"endTime"`
	Loudness    loudness.Info `json:"loudnessInfo"`
	ChannelData [][]float32   `json:"-"`
}

// Pipeline processes the flushes of a single decoder context. It is not
// safe for concurrent use.
type Pipeline struct {
	sampleRate            int
	channels              int
	duration              float64
	decoder               audiocodec.DecoderContext
	analyzer              *loudness.Analyzer
	bufferTime            float64
	bufferAudioFrameCount int
	filled                *Descriptor
	err                   error
}

// New returns a pipeline for a track with the given layout. analyzer may
// be nil.
func New(d *demuxer.Data, decoder audiocodec.DecoderContext,
	analyzer *loudness.Analyzer, bufferTime float64) (*Pipeline, error) {
	p := &Pipeline{
		sampleRate: d.SampleRate,
		channels:   d.Channels,
		duration:   d.Duration,
		decoder:    decoder,
		analyzer:   analyzer,
	}
	if err := p.SetBufferTime(bufferTime); err != nil {
		return nil, err
	}
	return p, nil
}

// SetBufferTime sets the target duration of a buffer in seconds and hands
// the resulting length to the decoder. A decoder may round the length to
// its frame granularity; the buffer length of the pipeline follows the
// length the decoder settled on.
func (p *Pipeline) SetBufferTime(bufferTime float64) error {
	target := int(bufferTime * float64(p.sampleRate))
	if p.decoder != nil {
		if err := p.decoder.SetTargetBufferLengthAudioFrames(target); err != nil {
			return err
		}
		target = p.decoder.TargetBufferLengthAudioFrames()
	}
	p.bufferTime = bufferTime
	p.bufferAudioFrameCount = target
	return nil
}

// BufferTime returns the target duration of a buffer in seconds.
func (p *Pipeline) BufferTime() float64 {
	return p.bufferTime
}

// BufferAudioFrameCount returns the target length of a buffer in audio
// frames.
func (p *Pipeline) BufferAudioFrameCount() int {
	return p.bufferAudioFrameCount
}

// DestinationLength returns the amount of audio frames a destination
// channel must hold, including the padding of a short buffer.
func (p *Pipeline) DestinationLength() int {
	return (p.bufferAudioFrameCount + BlockSize - 1) / BlockSize * BlockSize
}

// HasFilledBuffer reports whether a buffer is waiting to be consumed.
func (p *Pipeline) HasFilledBuffer() bool {
	return p.filled != nil
}

// ConsumeFilledBuffer returns the filled buffer and clears it.
func (p *Pipeline) ConsumeFilledBuffer() (*Descriptor, error) {
	if p.filled == nil {
		return nil, audioerr.Invariantf("buffer has not been filled")
	}
	d := p.filled
	p.filled = nil
	return d, nil
}

// DropFilledBuffer discards a filled buffer.
func (p *Pipeline) DropFilledBuffer() {
	p.filled = nil
}

// DecodeFromFileViewAtOffset decodes from the file position pos until the
// decoder flushes a buffer into dst or the data of the track is
// exhausted. It returns the amount of bytes consumed. At the end of the
// data the decoder is ended and the remaining byte count is returned, so
// that pos plus the result always reaches the data end.
func (p *Pipeline) DecodeFromFileViewAtOffset(v fileview.Reader, pos int64, d *demuxer.Data,
	token *cancellation.Token, dst [][]float32, paddingFactorHint float64) (int64, error) {

	if p.filled != nil {
		return 0, audioerr.Invariantf("previous buffer has not been consumed")
	}
	p.err = nil

	bytesToRead := int(float64(p.bufferAudioFrameCount) * math.Ceil(d.MaxBytesPerAudioFrame))
	startFrame := p.decoder.CurrentAudioFrame()
	onFlush := func(samples []float32) {
		p.processSamples(samples, dst, startFrame)
	}

	var total int64
	remaining := d.DataEnd - pos
	if remaining <= 0 && p.decoder.State() != audiocodec.Ended {
		// frames carried over the flush which consumed the last bytes
		return p.end(pos, d, onFlush)
	}
	for remaining > 0 {
		current := pos + total
		if err := v.ReadBlockOfSizeAt(bytesToRead, current, token, paddingFactorHint); err != nil {
			return total, err
		}
		if err := token.Check(); err != nil {
			return total, err
		}

		src := v.BlockAtOffset(int(current - v.Start()))
		n, err := p.decoder.DecodeUntilFlush(src, onFlush)
		if err != nil {
			return total, err
		}
		if p.err != nil {
			return total, p.err
		}
		total += int64(n)
		remaining = d.DataEnd - (pos + total)

		if p.filled != nil {
			return total, nil
		}
		if remaining > 0 && n > 0 {
			continue
		}
		return p.end(pos, d, onFlush)
	}
	return total, nil
}

// Exhausted reports whether all audio of the track has been delivered
// once the file position reached pos.
func (p *Pipeline) Exhausted(pos int64, d *demuxer.Data) bool {
	if pos < d.DataEnd {
		return false
	}
	return p.decoder.State() == audiocodec.Ended || p.decoder.Unflushed() == 0
}

func (p *Pipeline) end(pos int64, d *demuxer.Data, onFlush audiocodec.FlushFunc) (int64, error) {
	if _, err := p.decoder.End(onFlush); err != nil {
		return 0, err
	}
	if p.err != nil {
		return 0, p.err
	}
	return d.DataEnd - pos, nil
}

// processSamples turns the interleaved samples of one flush into the
// filled buffer.
func (p *Pipeline) processSamples(samples []float32, dst [][]float32, startFrame int) {
	ch := p.channels
	frames := len(samples) / ch
	info := loudness.DefaultInfo

	if p.analyzer != nil {
		var err error
		info, err = p.analyzer.Process(samples, frames)
		if err != nil {
			p.err = err
			return
		}
	}

	padding := 0
	if dst != nil {
		for c := 0; c < ch && c < len(dst); c++ {
			if len(dst[c]) < frames {
				p.err = audioerr.Invariantf("flush of %d audio frames exceeds the destination of %d",
					frames, len(dst[c]))
				return
			}
		}
		if frames < p.bufferAudioFrameCount {
			padding = (frames+BlockSize-1)/BlockSize*BlockSize - frames
		}
		for c := 0; c < ch && c < len(dst); c++ {
			out := dst[c]
			for i := 0; i < frames; i++ {
				out[i] = samples[i*ch+c]
			}
			for i := frames; i < frames+padding && i < len(out); i++ {
				out[i] = 0
			}
		}
	}

	length := frames + padding
	startTime := round9(float64(startFrame) / float64(p.sampleRate))
	p.filled = &Descriptor{
		Length:      length,
		StartTime:   startTime,
		EndTime:     round9(startTime + float64(length)/float64(p.sampleRate)),
		Loudness:    info,
		ChannelData: dst,
	}
}

func round9(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
