package source

import (
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/loudness"
)

// Names of the outbound messages.
const (
	MsgInitialAudioDataLoaded = "_initialAudioDataLoaded"
	MsgBufferFilled           = "_bufferFilled"
	MsgIdle                   = "_idle"
	MsgError                  = "_error"
)

// FillType tells the receiver of a filled buffer why it was decoded.
type FillType string

const (
	FillNormal      FillType = "NORMAL"
	FillSeek        FillType = "SEEK"
	FillReplacement FillType = "REPLACEMENT"
)

// Message is an outbound message of an actor. The channel data of a
// filled buffer is owned by the receiver once the message was sent.
type Message struct {
	Name        string      `json:"type"`
	Args        interface{} `json:"args"`
	ChannelData [][]float32 `json:"-"`
}

// InitialAudioDataLoaded is sent once a track has been loaded.
type InitialAudioDataLoaded struct {
	RequestID int64         `json:"requestId"`
	DemuxData *demuxer.Data `json:"demuxData"`
	BaseTime  float64       `json:"baseTime"`
}

// BufferFilled carries a decoded buffer. Descriptor is nil when a fill
// was requested after the end of the track.
type BufferFilled struct {
	RequestID      int64             `json:"requestId"`
	Descriptor     *BufferDescriptor `json:"descriptor"`
	IsLastBuffer   bool              `json:"isLastBuffer"`
	BufferFillType FillType          `json:"bufferFillType"`
}

// IdleArgs is the payload of an _idle message.
type IdleArgs struct{}

// BufferDescriptor describes the planar channel data of a filled buffer.
type BufferDescriptor struct {
	Length       int           `json:"length"`
	StartTime    float64       `json:"startTime"`
	EndTime      float64       `json:"endTime"`
	Loudness     loudness.Info `json:"loudnessInfo"`
	SampleRate   int           `json:"sampleRate"`
	ChannelCount int           `json:"channelCount"`
	// DecodingLatency is the time in milliseconds it took to decode the
	// buffer.
	DecodingLatency float64       `json:"decodingLatency"`
	FillTypeData    *FillTypeData `json:"fillTypeData"`
}

// FillTypeData is attached to the first buffer of a seek or replacement
// fill.
type FillTypeData struct {
	BaseTime   float64 `json:"baseTime"`
	IsUserSeek bool    `json:"isUserSeek,omitempty"`
	RequestID  int64   `json:"requestId"`

	// only set for replacement fills
	Metadata       *demuxer.Data `json:"metadata,omitempty"`
	GaplessPreload bool          `json:"gaplessPreload,omitempty"`
}
