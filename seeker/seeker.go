// Package seeker resolves a playback time into a file offset and the
// amount of audio frames the decoder has to drop after restarting there.
package seeker

import (
	"math"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/fileview"
)

// reservoirFrames is the amount of mp3 frames decoded ahead of the target
// to build up the bit reservoir.
const reservoirFrames = 9

// Result is the outcome of a seek.
type Result struct {
	// Time is the playback time of the first audio frame which will be
	// emitted after the seek.
	Time          float64 `json:"time"`
	Offset        int64   `json:"offset"`
	SamplesToSkip int     `json:"samplesToSkip"`
	Frame         int     `json:"frame"`
}

// Seek resolves time for a track of codec.
func Seek(codec string, time float64, d *demuxer.Data, v fileview.Reader,
	token *cancellation.Token) (Result, error) {
	switch codec {
	case "mp3":
		return seekMp3(time, d, v, token)
	case "wav":
		return seekWav(time, d), nil
	}
	return Result{}, audioerr.UnsupportedFormatf("seeking in %s files is not supported", codec)
}

func seekMp3(time float64, d *demuxer.Data, v fileview.Reader, token *cancellation.Token) (Result, error) {
	time = math.Min(d.Duration, math.Max(0, time))
	spf := d.SamplesPerFrame
	frameDuration := float64(spf) / float64(d.SampleRate)

	frames := int(d.Duration * float64(d.SampleRate) / float64(spf))
	frame := 0
	if d.Duration > 0 {
		frame = int(time / d.Duration * float64(frames))
	}
	currentTime := float64(frame) * frameDuration
	targetFrame := frame - reservoirFrames
	if targetFrame < 0 {
		targetFrame = 0
	}
	// the reservoir frames are decoded but never played back
	samplesToSkip := (frame - targetFrame) * spf

	var offset int64
	switch {
	case !d.VBR:
		offset = d.DataStart + int64(float64(targetFrame)*d.AverageFrameSize)

	case d.TOC != nil && frames > 0:
		frame = int(math.Round(float64(frame)/float64(frames)*100) / 100 * float64(frames))
		currentTime = float64(frame+1) * frameDuration
		samplesToSkip = spf
		targetFrame = frame
		index := int(math.Round(float64(frame) / float64(frames) * 100))
		if index > 99 {
			index = 99
		}
		percentage := float64(d.TOC[index]) / 256
		offset = d.DataStart + int64(percentage*float64(d.DataEnd-d.DataStart))

	default:
		if d.SeekTable == nil {
			d.SeekTable = &demuxer.SeekTable{FramesPerEntry: 1}
		}
		table := d.SeekTable
		if err := table.FillUntil(time+frameDuration, d, v, token); err != nil {
			return Result{}, err
		}
		if table.FromMetadata {
			// frames referenced by VBRI tables are trusted not to need
			// the bit reservoir
			frame = table.ClosestFrameOf(frame)
			currentTime = float64(frame+1) * frameDuration
			samplesToSkip = spf
			offset = table.OffsetOfFrame(frame)
			targetFrame = frame
		} else {
			offset = table.OffsetOfFrame(targetFrame)
		}
	}

	if targetFrame == 0 {
		samplesToSkip = d.EncoderDelay
	}

	if offset > d.DataEnd {
		offset = d.DataEnd
	}
	if offset < d.DataStart {
		offset = d.DataStart
	}

	return Result{
		Time:          currentTime,
		Offset:        offset,
		SamplesToSkip: samplesToSkip,
		Frame:         targetFrame,
	}, nil
}

// seekWav is sample exact.
func seekWav(time float64, d *demuxer.Data) Result {
	time = math.Min(d.Duration, math.Max(0, time))
	frame := int(time * float64(d.SampleRate))
	if frame > d.Frames {
		frame = d.Frames
	}
	return Result{
		Time:   float64(frame) / float64(d.SampleRate),
		Offset: d.DataStart + int64(frame*d.BlockAlign),
		Frame:  frame,
	}
}
