package source

import (
	"github.com/dh1tw/gaplessAudio/fileview"
)

// Command is a message to an Actor. The set of commands is closed;
// every variant reports statically whether it is queued behind the
// commands in flight and whether it overrides them.
type Command interface {
	// Queued commands are appended to the queue of the actor, all other
	// commands run immediately.
	Queued() bool
	// Overriding commands cancel every operation of the actor and clear
	// its queue before they take effect.
	Overriding() bool
	command()
}

// PlayerMetadata carries track information known to the caller. A value
// of -1 means that the demuxed value is kept.
type PlayerMetadata struct {
	EncoderDelay   int `json:"encoderDelay"`
	EncoderPadding int `json:"encoderPadding"`
}

// LoadInitialAudioData loads the track behind FileRef. When Progress is
// greater than zero, the track is positioned at that fraction of its
// duration.
type LoadInitialAudioData struct {
	RequestID int64              `json:"requestId"`
	FileRef   fileview.Reference `json:"fileReference"`
	Metadata  *PlayerMetadata    `json:"metadata,omitempty"`
	Progress  float64            `json:"progress,omitempty"`
}

// Seek repositions the track at Time seconds and fills Count buffers.
type Seek struct {
	RequestID  int64   `json:"requestId"`
	Count      int     `json:"count"`
	Time       float64 `json:"time"`
	IsUserSeek bool    `json:"isUserSeek"`
}

// FillBuffers decodes up to Count buffers at the current position.
type FillBuffers struct {
	Count int `json:"count"`
}

// LoadReplacement preloads the track behind FileRef in a child actor.
// Once the child has decoded its first buffer at SeekTime, the child
// takes over the identity of the actor.
type LoadReplacement struct {
	RequestID      int64              `json:"requestId"`
	FileRef        fileview.Reference `json:"fileReference"`
	SeekTime       float64            `json:"seekTime"`
	Count          int                `json:"count"`
	GaplessPreload bool               `json:"gaplessPreload"`
	Metadata       *PlayerMetadata    `json:"metadata,omitempty"`
}

// Destroy releases every resource of the actor.
type Destroy struct{}

// messageFromReplacement forwards an outbound message of a replacement
// child to its parent.
type messageFromReplacement struct {
	sender Index
	msg    Message
}

func (LoadInitialAudioData) Queued() bool     { return true }
func (LoadInitialAudioData) Overriding() bool { return true }
func (LoadInitialAudioData) command()         {}

func (Seek) Queued() bool     { return true }
func (Seek) Overriding() bool { return true }
func (Seek) command()         {}

func (FillBuffers) Queued() bool     { return true }
func (FillBuffers) Overriding() bool { return false }
func (FillBuffers) command()         {}

func (LoadReplacement) Queued() bool     { return true }
func (LoadReplacement) Overriding() bool { return true }
func (LoadReplacement) command()         {}

func (Destroy) Queued() bool     { return false }
func (Destroy) Overriding() bool { return false }
func (Destroy) command()         {}

func (messageFromReplacement) Queued() bool     { return false }
func (messageFromReplacement) Overriding() bool { return false }
func (messageFromReplacement) command()         {}
