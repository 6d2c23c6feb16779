// Package audiocodec contains the decoder context abstraction. A decoder
// context turns the compressed bytes of one track into interleaved float32
// buffers of a configurable length and takes care of the sample accurate
// bookkeeping (encoder delay, padding, carried over samples) that comes
// with codec frames which never line up with buffer boundaries.
package audiocodec

import (
	"sort"
	"sync"

	"github.com/dh1tw/gaplessAudio/demuxer"
)

// State is the lifecycle state of a decoder context.
type State int

const (
	NotStarted State = iota
	Started
	Iterating
	Ended
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Started:
		return "started"
	case Iterating:
		return "iterating"
	case Ended:
		return "ended"
	}
	return "unknown"
}

// FlushFunc receives interleaved samples. The slice is only valid for the
// duration of the call.
type FlushFunc func(samples []float32)

// SeekResult positions a decoder context.
type SeekResult struct {
	Frame         int
	SamplesToSkip int
}

// DecoderContext is the per track decoder state machine.
type DecoderContext interface {
	Name() string
	State() State

	// Start begins a decoding session. d may be nil when no container
	// metadata is known.
	Start(d *demuxer.Data) error
	ApplySeek(r SeekResult) error
	// DecodeUntilFlush decodes src until a full buffer has been flushed
	// or the input is exhausted. It returns the amount of consumed bytes.
	DecodeUntilFlush(src []byte, flush FlushFunc) (int, error)
	// End flushes samples which have been accumulated but not flushed
	// yet and reports whether flush was called.
	End(flush FlushFunc) (bool, error)
	Destroy() error

	SetTargetBufferLengthAudioFrames(n int) error
	TargetBufferLengthAudioFrames() int
	// CurrentAudioFrame is the timeline position of the first audio
	// frame of the next flush.
	CurrentAudioFrame() int
	// Unflushed is the amount of decoded audio frames waiting for the
	// next flush.
	Unflushed() int

	HasEstablishedMetadata() bool
	SampleRate() int
	Channels() int
}

// Constructor creates a decoder context.
type Constructor func(opts ...Option) (DecoderContext, error)

// Registry maps codec names to decoder context constructors.
type Registry struct {
	sync.RWMutex
	codecs map[string]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[string]Constructor),
	}
}

// Register adds a codec under name, replacing any previous entry.
func (r *Registry) Register(name string, c Constructor) {
	r.Lock()
	defer r.Unlock()
	r.codecs[name] = c
}

// Get returns the constructor registered under name.
func (r *Registry) Get(name string) (Constructor, bool) {
	r.RLock()
	defer r.RUnlock()
	c, ok := r.codecs[name]
	return c, ok
}

// Names returns the sorted names of all registered codecs.
func (r *Registry) Names() []string {
	r.RLock()
	defer r.RUnlock()
	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
