// Package sniffer guesses the codec of a file from its leading bytes,
// falling back to the declared mime type and the file extension.
package sniffer

import (
	"encoding/binary"
	"path/filepath"
	"strings"

	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/mpeg"
)

// SniffLength is the amount of leading bytes inspected.
const SniffLength = 8192

const (
	tagRIFF = 0x52494646
	tagWAVE = 0x57415645
	tagID3  = 0x494433
	tagOggS = 0x4f676753
	tagWebM = 0x1a45dfa3
	tagAAC1 = 0xfff1
	tagAAC2 = 0xfff9
)

var mimeTypes = map[string]string{
	"audio/mpeg":     "mp3",
	"audio/mp3":      "mp3",
	"audio/wav":      "wav",
	"audio/x-wav":    "wav",
	"audio/wave":     "wav",
	"audio/vnd.wave": "wav",
	"audio/aac":      "aac",
	"audio/ogg":      "ogg",
	"audio/webm":     "webm",
}

var extensions = map[string]string{
	".mp3":  "mp3",
	".wav":  "wav",
	".wave": "wav",
	".aac":  "aac",
	".ogg":  "ogg",
	".oga":  "ogg",
	".webm": "webm",
}

// CodecName returns the codec of the file behind v or "" if it could not
// be determined.
func CodecName(v fileview.Reader, token *cancellation.Token) (string, error) {
	if err := v.ReadBlockOfSizeAt(SniffLength, 0, token, 1); err != nil {
		return "", err
	}

	if name := FromContents(v.Block()); name != "" {
		return name, nil
	}

	if name, ok := mimeTypes[strings.ToLower(v.MimeType())]; ok {
		return name, nil
	}

	return FromFileName(v.Name()), nil
}

// FromContents inspects the magic numbers in b.
func FromContents(b []byte) string {
	n := len(b)
	if n > SniffLength {
		n = SniffLength
	}

	for i := 0; i+4 <= n; i++ {
		value := binary.BigEndian.Uint32(b[i:])

		switch {
		case value == tagRIFF && i+12 <= n && binary.BigEndian.Uint32(b[i+8:]) == tagWAVE:
			return refineWav(b[:n], i)
		case value>>16 == tagAAC1 || value>>16 == tagAAC2:
			return "aac"
		case value == tagWebM:
			return "webm"
		case value == tagOggS:
			return "ogg"
		case value>>8 == tagID3 || mpeg.ProbablyHeader(value):
			return "mp3"
		}
	}
	return ""
}

// refineWav looks at the format tag of a RIFF/WAVE file. Mp3 data may be
// wrapped into RIFF as well.
func refineWav(b []byte, index int) string {
	if index+22 > len(b) {
		return "wav"
	}
	switch binary.LittleEndian.Uint16(b[index+20:]) {
	case 0x0055:
		return "mp3"
	case 0x0001, 0x0003:
		return "wav"
	}
	return ""
}

// FromFileName maps the extension of name to a codec.
func FromFileName(name string) string {
	return extensions[strings.ToLower(filepath.Ext(name))]
}
