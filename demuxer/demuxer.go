// Package demuxer extracts the container level metadata of an audio file
// which is needed before decoding can start.
package demuxer

import (
	"math"

	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/dh1tw/gaplessAudio/fileview"
)

const (
	// MinimumDuration is the shortest accepted track length in seconds.
	MinimumDuration = 3.0
	// MinimumFileSize is the smallest accepted mp3 file.
	MinimumFileSize = 65536
	// DecoderDelay is the delay in audio frames the mp3 decoder adds.
	DecoderDelay = 529

	blockSize = 16384
	// mp3 files without a header within the first 5 MiB are rejected
	maxBytesUntilGiveUp = 5 << 20
)

// Data contains the demuxed metadata of a track.
type Data struct {
	Codec                 string     `json:"codec"`
	SampleRate            int        `json:"sampleRate"`
	Channels              int        `json:"channels"`
	BitRate               int        `json:"bitRate"`
	BitDepth              int        `json:"bitDepth,omitempty"`
	Float                 bool       `json:"float,omitempty"`
	BlockAlign            int        `json:"blockAlign,omitempty"`
	DataStart             int64      `json:"dataStart"`
	DataEnd               int64      `json:"dataEnd"`
	Frames                int        `json:"frames"`
	Duration              float64    `json:"duration"`
	EncoderDelay          int        `json:"encoderDelay"`
	EncoderPadding        int        `json:"encoderPadding"`
	PaddingStartFrame     int        `json:"paddingStartFrame"`
	SamplesPerFrame       int        `json:"samplesPerFrame"`
	LSF                   bool       `json:"lsf"`
	AverageFrameSize      float64    `json:"averageFrameSize"`
	MaxBytesPerAudioFrame float64    `json:"maxByteSizePerAudioFrame"`
	VBR                   bool       `json:"vbr"`
	TOC                   []byte     `json:"toc,omitempty"`
	SeekTable             *SeekTable `json:"-"`

	// EstablishedGain is the loudness normalization gain of the track once
	// it has been latched.
	EstablishedGain *float32 `json:"establishedGain,omitempty"`
}

// Demux parses the file behind view as codec. A nil Data together with a
// nil error means that the file is not a valid file of that codec.
func Demux(codec string, view fileview.Reader, token *cancellation.Token) (*Data, error) {
	switch codec {
	case "mp3":
		return demuxMp3(view, token)
	case "wav":
		return demuxWav(view)
	}
	return nil, nil
}

// SetEncoderPadding replaces the encoder padding of d, e.g. with a value
// known from the tags of the track, and recomputes the first frame which
// contains padding.
func (d *Data) SetEncoderPadding(padding int) {
	if d.Codec != "mp3" || d.Frames <= 0 || d.SamplesPerFrame <= 0 {
		d.EncoderPadding = padding
		return
	}
	padding -= DecoderDelay
	if padding < 0 {
		padding = 0
	}
	d.EncoderPadding = padding
	if padding == 0 {
		d.PaddingStartFrame = -1
		return
	}
	d.PaddingStartFrame = d.Frames - int(math.Ceil(float64(padding)/float64(d.SamplesPerFrame))) - 1
}
