package source

import (
	"time"

	"github.com/dh1tw/gaplessAudio/audiocodec"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/loudness"
	"github.com/dh1tw/gaplessAudio/metadata"
	"github.com/rs/zerolog"
)

// Preferences are read by the fill loop on every iteration, so they may
// change while a track is playing.
type Preferences struct {
	BufferTime            time.Duration `json:"bufferTime"`
	LoudnessNormalization bool          `json:"loudnessNormalization"`
	SilenceTrimming       bool          `json:"silenceTrimming"`
}

// DefaultPreferences are used when nothing else is configured.
var DefaultPreferences = Preferences{
	BufferTime:            time.Second,
	LoudnessNormalization: true,
	SilenceTrimming:       true,
}

// Host provides the collaborators of an actor and receives the outbound
// messages of root actors.
type Host interface {
	Preferences() Preferences
	Resolve(ref fileview.Reference) (*fileview.FileView, error)
	HasCodec(name string) bool
	NewDecoder(name string, targetBufferLengthAudioFrames int) (audiocodec.DecoderContext, error)
	Analyzers() *loudness.Pool
	Store() *metadata.Store
	Send(id SourceID, m Message)
}

// Option is the type for a function option
type Option func(*Options)

// Options of an Actor.
type Options struct {
	Logger zerolog.Logger
	// ListenerCapacity is the buffer size of listener channels.
	ListenerCapacity int
}

// Logger sets the logger of the actor.
func Logger(l zerolog.Logger) Option {
	return func(args *Options) {
		args.Logger = l
	}
}

// ListenerCapacity sets the buffer size of the channels returned by
// Listen.
func ListenerCapacity(n int) Option {
	return func(args *Options) {
		args.ListenerCapacity = n
	}
}
