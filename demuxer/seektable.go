package demuxer

import (
	"math"

	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/mpeg"
)

// SeekTable maps mp3 frames to file offsets. It is either read from a
// VBRI header or built by scanning the frame headers of the file.
type SeekTable struct {
	Frames         int
	FilledUntil    float64 // seconds
	Table          []int64
	LastFrameSize  int
	FramesPerEntry int
	FromMetadata   bool
}

// ClosestFrameOf returns the frame closest to frame which has an entry.
func (t *SeekTable) ClosestFrameOf(frame int) int {
	if frame > t.Frames {
		frame = t.Frames
	}
	per := t.FramesPerEntry
	if per <= 0 {
		per = 1
	}
	return int(math.Round(float64(frame)/float64(per))) * per
}

// OffsetOfFrame returns the file offset of the entry closest to frame.
func (t *SeekTable) OffsetOfFrame(frame int) int64 {
	per := t.FramesPerEntry
	if per <= 0 {
		per = 1
	}
	index := t.ClosestFrameOf(frame) / per
	if index >= len(t.Table) {
		index = len(t.Table) - 1
	}
	if index < 0 {
		return 0
	}
	return t.Table[index]
}

// FillUntil scans frame headers until the table covers time seconds or
// the end of the data has been reached.
func (t *SeekTable) FillUntil(time float64, d *Data, v fileview.Reader, token *cancellation.Token) error {
	if t.FilledUntil >= time || t.FromMetadata {
		return nil
	}

	maxFrames := int(math.Ceil(time * float64(d.SampleRate) / float64(d.SamplesPerFrame)))
	end := d.DataEnd

	offset := d.DataStart
	frames := t.Frames
	if frames > 0 {
		offset = t.Table[frames-1] + int64(t.LastFrameSize)
	}

	for offset < end && frames < maxFrames {
		if err := v.ReadBlockOfSizeAt(blockSize, offset, token, 10); err != nil {
			return err
		}
		localEnd := offset + blockSize/2
		if localEnd > end {
			localEnd = end
		}

		for offset < localEnd && frames < maxFrames {
			hdr, ok := mpeg.ParseHeader(v.Uint32(offset, false))
			if !ok {
				offset++
				continue
			}
			t.Table = append(t.Table, offset)
			frames++
			t.LastFrameSize = hdr.FrameSize
			offset += int64(hdr.FrameSize)
		}
	}

	t.Frames = frames
	t.FilledUntil = float64(frames*d.SamplesPerFrame) / float64(d.SampleRate)
	return nil
}
