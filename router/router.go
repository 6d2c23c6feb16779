// Package router fans the buffers filled by the sources out to audio
// sinks.
package router

import (
	"sort"
	"sync"

	"github.com/dh1tw/gaplessAudio/audio"
	"github.com/dh1tw/gaplessAudio/source"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type sink struct {
	audio.Sink
	active bool
}

// Router writes every buffer to all of its active sinks.
type Router struct {
	sync.RWMutex // for map & variables
	sinks        map[string]*sink
	log          zerolog.Logger
}

// Option is the type for a function option
type Option func(*Options)

// Options contains the parameters for initializing a Router.
type Options struct {
	Logger zerolog.Logger
}

// Logger sets the logger of the router.
func Logger(l zerolog.Logger) Option {
	return func(args *Options) {
		args.Logger = l
	}
}

// NewRouter returns a Router without sinks.
func NewRouter(opts ...Option) (*Router, error) {

	options := Options{
		Logger: zerolog.Nop(),
	}
	for _, option := range opts {
		option(&options)
	}

	r := &Router{
		sinks: make(map[string]*sink),
		log:   options.Logger.With().Str("component", "router").Logger(),
	}

	return r, nil
}

// AddSink adds s under name. An existing sink with the same name is
// replaced.
func (r *Router) AddSink(name string, s audio.Sink, active bool) {
	r.Lock()
	defer r.Unlock()
	r.sinks[name] = &sink{s, active}
}

// RemoveSink removes the sink called name.
func (r *Router) RemoveSink(name string) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.sinks[name]; !ok {
		return errors.Errorf("unknown sink %s", name)
	}
	delete(r.sinks, name)
	return nil
}

// Sink returns the sink called name and whether it is active.
func (r *Router) Sink(name string) (audio.Sink, bool, error) {
	r.RLock()
	defer r.RUnlock()
	s, ok := r.sinks[name]
	if !ok {
		return nil, false, errors.Errorf("unknown sink %s", name)
	}
	return s.Sink, s.active, nil
}

// Sinks returns the names of all sinks.
func (r *Router) Sinks() []string {
	r.RLock()
	defer r.RUnlock()
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnableSink activates or deactivates the sink called name.
func (r *Router) EnableSink(name string, active bool) error {
	r.Lock()
	defer r.Unlock()
	s, ok := r.sinks[name]
	if !ok {
		return errors.Errorf("unknown sink %s", name)
	}
	s.active = active
	return nil
}

// Write hands a copy of msg to every active sink. All sinks are written
// even if one of them fails; the first error is returned.
func (r *Router) Write(msg audio.Msg) error {
	r.RLock()
	defer r.RUnlock()

	var first error
	for name, s := range r.sinks {
		if !s.active {
			continue
		}
		m := msg
		m.Data = append([]float32(nil), msg.Data...)
		if err := s.Write(m); err != nil {
			r.log.Error().Err(err).Str("sink", name).Msg("write failed")
			if first == nil {
				first = errors.Wrapf(err, "sink %s", name)
			}
		}
	}
	return first
}

// Route writes the audio of a _bufferFilled message to the sinks. Audio
// queued before a user seek is flushed first. It reports whether m
// carried the last buffer of its track.
func (r *Router) Route(m source.Message) (bool, error) {
	if m.Name != source.MsgBufferFilled {
		return false, nil
	}
	filled, ok := m.Args.(source.BufferFilled)
	if !ok {
		return false, errors.Errorf("unexpected arguments %T", m.Args)
	}

	desc := filled.Descriptor
	if desc == nil {
		return filled.IsLastBuffer, nil
	}
	if len(m.ChannelData) != desc.ChannelCount {
		return filled.IsLastBuffer, errors.Errorf("buffer with %d channels announces %d",
			len(m.ChannelData), desc.ChannelCount)
	}

	if filled.BufferFillType == source.FillSeek && desc.FillTypeData != nil &&
		desc.FillTypeData.IsUserSeek {
		r.Flush()
	}

	err := r.Write(audio.Msg{
		Data:       audio.Interleave(m.ChannelData, desc.Length),
		Samplerate: float64(desc.SampleRate),
		Channels:   desc.ChannelCount,
		Frames:     desc.Length,
		EOF:        filled.IsLastBuffer,
	})
	return filled.IsLastBuffer, err
}

// Flush clears the buffers of all active sinks.
func (r *Router) Flush() {
	r.RLock()
	defer r.RUnlock()
	for _, s := range r.sinks {
		if s.active {
			s.Flush()
		}
	}
}

// Close closes all sinks.
func (r *Router) Close() error {
	r.Lock()
	defer r.Unlock()
	var first error
	for name, s := range r.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "sink %s", name)
		}
		delete(r.sinks, name)
	}
	return first
}
