package demuxer

import (
	"io"

	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// demuxWav locates the PCM chunk of a RIFF/WAVE file.
func demuxWav(v fileview.Reader) (*Data, error) {
	r := io.NewSectionReader(v.ReaderAt(), 0, v.Size())
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, nil
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, nil
	}
	dataStart, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, nil
	}

	bitDepth := int(dec.BitDepth)
	switch {
	case dec.WavAudioFormat == wavFormatPCM &&
		(bitDepth == 8 || bitDepth == 16 || bitDepth == 24 || bitDepth == 32):
	case dec.WavAudioFormat == wavFormatFloat && bitDepth == 32:
	default:
		return nil, nil
	}

	channels := int(dec.NumChans)
	sampleRate := int(dec.SampleRate)
	if channels <= 0 || sampleRate <= 0 {
		return nil, nil
	}
	blockAlign := channels * bitDepth / 8

	dataEnd := dataStart + dec.PCMLen()
	if dataEnd > v.Size() {
		dataEnd = v.Size()
	}
	frames := int((dataEnd - dataStart) / int64(blockAlign))
	if frames <= 0 {
		return nil, nil
	}
	dataEnd = dataStart + int64(frames*blockAlign)

	return &Data{
		Codec:                 "wav",
		SampleRate:            sampleRate,
		Channels:              channels,
		BitRate:               sampleRate * blockAlign * 8,
		BitDepth:              bitDepth,
		Float:                 dec.WavAudioFormat == wavFormatFloat,
		BlockAlign:            blockAlign,
		DataStart:             dataStart,
		DataEnd:               dataEnd,
		Frames:                frames,
		Duration:              float64(frames) / float64(sampleRate),
		PaddingStartFrame:     -1,
		SamplesPerFrame:       1,
		AverageFrameSize:      float64(blockAlign),
		MaxBytesPerAudioFrame: float64(blockAlign),
	}, nil
}
