package demuxer

import (
	"math"

	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/mpeg"
)

const (
	tagRIFF = 0x52494646
	tagWAVE = 0x57415645
	tagID3  = 0x494433
	tagVBRI = 0x56425249
	tagXing = 0x58696e67
	tagInfo = 0x496e666f
	tagLAME = 0x4c414d45
	tagData = 0x64617461
	tagFact = 0x66616374
)

func demuxMp3(v fileview.Reader, token *cancellation.Token) (*Data, error) {
	size := v.Size()

	if err := v.ReadBlockOfSizeAt(MinimumFileSize, 0, token, 1); err != nil {
		return nil, err
	}
	if v.End() < MinimumFileSize {
		return nil, nil
	}

	var offset int64
	if v.Uint32(0, false)>>8 == tagID3 {
		footer := int64((v.Uint8(5)>>4)&1) * 10
		tagSize := int64(v.Uint8(6)&0x7f)<<21 |
			int64(v.Uint8(7)&0x7f)<<14 |
			int64(v.Uint8(8)&0x7f)<<7 |
			int64(v.Uint8(9)&0x7f)
		offset = tagSize + 10 + footer
	}

	if err := v.ReadBlockOfSizeAt(blockSize, offset, token, 4); err != nil {
		return nil, err
	}

	if v.Uint32(offset, false) == tagRIFF && v.Uint32(offset+8, false) == tagWAVE {
		return demuxMp3FromWav(offset, v), nil
	}

	max := size
	if max > maxBytesUntilGiveUp {
		max = maxBytesUntilGiveUp
	}

	var d *Data
	headersFound := 0
	done := false

	for !done {
		n := max - offset
		if n > blockSize/2 {
			n = blockSize / 2
		}
		if n <= 0 {
			break
		}

		var i int64
	scan:
		for ; i < n; i++ {
			pos := offset + i
			h := v.Uint32(pos, false)

			switch {
			case mpeg.ProbablyHeader(h):
				if headersFound > 4 {
					done = true
					break scan
				}
				var skip int64
				var found bool
				d, skip, found = parseProbableHeader(d, h, pos, size, v)
				if found {
					headersFound++
					i += skip
				}
			case d != nil && h == tagVBRI:
				parseVbri(d, pos, v)
				done = true
				break scan
			case d != nil && (h == tagXing || h == tagInfo):
				parseXing(d, h, pos, v)
				done = true
				break scan
			}
		}

		if done {
			break
		}
		offset += i
		if err := v.ReadBlockOfSizeAt(blockSize, offset, token, 4); err != nil {
			return nil, err
		}
	}

	if d == nil {
		return nil, nil
	}

	if d.Duration == 0 {
		if !d.VBR {
			dataSize := d.DataEnd - d.DataStart
			if dataSize < 0 {
				dataSize = 0
			}
			d.Duration = float64(dataSize*8) / float64(d.BitRate)
			d.Frames = int(float64(d.SampleRate) * d.Duration / float64(d.SamplesPerFrame))
		} else {
			// no Xing or VBRI header, the whole file has to be scanned
			d.SeekTable = &SeekTable{FramesPerEntry: 1}
			if err := d.SeekTable.FillUntil(30*60, d, v, token); err != nil {
				return nil, err
			}
			d.Frames = d.SeekTable.Frames
			d.Duration = float64(d.Frames*d.SamplesPerFrame) / float64(d.SampleRate)
		}
	}

	if d.Duration < MinimumDuration {
		return nil, nil
	}
	return d, nil
}

// parseProbableHeader validates the header h at pos by checking that
// another header follows. The first valid header establishes d; later
// ones only detect variable bitrates. skip is the amount of bytes the
// scan may jump forward.
func parseProbableHeader(d *Data, h uint32, pos, size int64, v fileview.Reader) (*Data, int64, bool) {
	hdr, ok := mpeg.ParseHeader(h)
	if !ok {
		return d, 0, false
	}

	var skip int64
	if !mpeg.ProbablyHeader(v.Uint32(pos+int64(hdr.FrameSize), false)) {
		if v.Uint32(pos+4+32, false) != tagVBRI {
			return d, 0, false
		}
		skip = 4 + 32 - 1
	}

	if d != nil {
		if d.BitRate != hdr.BitRate {
			d.BitRate = hdr.BitRate
			d.VBR = true
		}
		return d, skip + int64(hdr.FrameSize) - 1, true
	}

	lsf := 0
	if hdr.LSF {
		lsf = 1
	}
	return &Data{
		Codec:                 "mp3",
		EncoderDelay:          576,
		PaddingStartFrame:     -1,
		LSF:                   hdr.LSF,
		SampleRate:            hdr.SampleRate,
		Channels:              hdr.Channels,
		BitRate:               hdr.BitRate,
		DataStart:             pos,
		DataEnd:               size,
		AverageFrameSize:      float64(hdr.BitRate/1000*144000) / float64(hdr.SampleRate<<uint(lsf)),
		SamplesPerFrame:       hdr.SamplesPerFrame,
		MaxBytesPerAudioFrame: mpeg.MaxBytesPerAudioFrame(hdr.SampleRate, hdr.LSF),
	}, skip, true
}

func parseVbri(d *Data, pos int64, v fileview.Reader) {
	d.VBR = true
	p := pos + 4 + 10
	frames := int(v.Uint32(p, false))
	d.Frames = frames
	d.Duration = float64(frames*d.SamplesPerFrame) / float64(d.SampleRate)
	p += 4
	entries := int(v.Uint16(p, false))
	p += 2
	scale := int64(v.Uint16(p, false))
	p += 2
	sizePerEntry := int(v.Uint16(p, false))
	p += 2
	framesPerEntry := int(v.Uint16(p, false))
	p += 2

	var read func(off int64) int64
	switch sizePerEntry {
	case 4:
		read = func(off int64) int64 { return int64(v.Uint32(off, false)) }
	case 3:
		read = func(off int64) int64 { return int64(v.Uint32(off, false) >> 8) }
	case 2:
		read = func(off int64) int64 { return int64(v.Uint16(off, false)) }
	case 1:
		read = func(off int64) int64 { return int64(v.Uint8(off)) }
	default:
		return
	}
	if framesPerEntry <= 0 {
		framesPerEntry = 1
	}

	dataStart := p + int64(entries*sizePerEntry)
	table := make([]int64, entries+1)
	table[0] = dataStart
	entryOffset := dataStart
	for j := 0; j < entries; j++ {
		entryOffset += read(p+int64(j*sizePerEntry)) * scale
		table[j+1] = entryOffset
	}

	d.SeekTable = &SeekTable{
		Frames:         frames,
		FilledUntil:    d.Duration,
		Table:          table,
		FramesPerEntry: framesPerEntry,
		FromMetadata:   true,
	}
	// 1159, 864 or 529 depending on the encoder
	d.EncoderDelay = 1159
	d.DataStart = dataStart
}

func parseXing(d *Data, h uint32, pos int64, v fileview.Reader) {
	if h == tagXing {
		d.VBR = true
	}

	p := pos + 4
	fields := v.Uint32(p, false)
	p += 4

	frames := -1
	if fields&0x1 != 0 {
		frames = int(v.Uint32(p, false))
		d.Frames = frames
		d.Duration = float64(frames*d.SamplesPerFrame) / float64(d.SampleRate)
		p += 4
	}
	if fields&0x2 != 0 {
		p += 4
	}
	if fields&0x4 != 0 {
		toc := make([]byte, 100)
		for j := range toc {
			toc[j] = v.Uint8(p + int64(j))
		}
		d.TOC = toc
		p += 100
	}
	if fields&0x8 != 0 {
		p += 4
	}

	if v.Uint32(p, false) == tagLAME {
		p += 9 + 1 + 1 + 8 + 1 + 1
		delays := v.Uint32(p, false) >> 8
		d.EncoderDelay = int(delays >> 12)
		padding := int(delays & 0xfff)
		if frames != -1 && padding > 0 {
			padding -= DecoderDelay
			if padding < 0 {
				padding = 0
			}
			d.PaddingStartFrame = frames - int(math.Ceil(float64(padding)/float64(d.SamplesPerFrame))) - 1
			d.EncoderPadding = padding
		}
		p += 3 + 1 + 1 + 2 + 4 + 2 + 2
	}

	d.DataStart = p
}

// demuxMp3FromWav parses an mp3 stream wrapped into a RIFF container
// (format tag 0x55).
func demuxMp3FromWav(offset int64, v fileview.Reader) *Data {
	end := offset + 4096
	if end > v.End() {
		end = v.End()
	}

	dataEnd := offset + int64(v.Uint32(offset+4, true)) + 8
	if dataEnd > v.Size() {
		dataEnd = v.Size()
	}
	fmtSize := int64(v.Uint32(offset+16, true))
	channels := int(v.Uint16(offset+22, true))
	sampleRate := int(v.Uint32(offset+24, true))
	byteRate := int(v.Uint32(offset+28, true))
	frameBlock := int(v.Uint16(offset+44, true))
	encoderDelay := int(v.Uint16(offset+48, true))
	if sampleRate <= 0 || byteRate <= 0 || channels <= 0 {
		return nil
	}

	lsf := sampleRate < 32000
	spf := 1152
	if lsf {
		spf = 576
	}

	var frames int
	var duration float64
	p := offset + 20 + fmtSize
	for p+8 <= end {
		id := v.Uint32(p, false)
		chunkSize := int64(v.Uint32(p+4, true))
		p += 8
		switch id {
		case tagFact:
			samples := int(v.Uint32(p, true))
			duration = float64(samples) / float64(sampleRate)
			frames = samples / spf
		case tagData:
			dataStart := p
			if duration == 0 {
				dataSize := dataEnd - dataStart
				if dataSize < 0 {
					dataSize = 0
				}
				duration = float64(dataSize) / float64(byteRate)
				frames = int(duration * float64(sampleRate) / float64(spf))
			}
			if duration < MinimumDuration {
				return nil
			}
			return &Data{
				Codec:                 "mp3",
				Frames:                frames,
				EncoderDelay:          encoderDelay,
				PaddingStartFrame:     -1,
				LSF:                   lsf,
				SampleRate:            sampleRate,
				Channels:              channels,
				BitRate:               byteRate * 8,
				DataStart:             dataStart,
				DataEnd:               dataEnd,
				AverageFrameSize:      float64(frameBlock),
				Duration:              duration,
				SamplesPerFrame:       spf,
				MaxBytesPerAudioFrame: mpeg.MaxBytesPerAudioFrame(sampleRate, lsf),
			}
		}
		p += chunkSize + chunkSize&1
	}
	return nil
}
