// Package backend hosts the audio sources of one player. It owns the
// resources shared between the sources and routes commands and outbound
// messages between them and a transport.
package backend

import (
	"sync"
	"time"

	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/audiocodec"
	"github.com/dh1tw/gaplessAudio/audiocodec/mp3"
	"github.com/dh1tw/gaplessAudio/audiocodec/wav"
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/events"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/loudness"
	"github.com/dh1tw/gaplessAudio/metadata"
	"github.com/dh1tw/gaplessAudio/native"
	"github.com/dh1tw/gaplessAudio/native/gomp3"
	"github.com/dh1tw/gaplessAudio/source"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Limits of the buffer time preference.
const (
	MinBufferTime = 50 * time.Millisecond
	MaxBufferTime = 10 * time.Second
)

// Backend implements source.Host for all of its sources.
type Backend struct {
	sync.RWMutex
	options  Options
	id       string
	log      zerolog.Logger
	prefs    source.Preferences
	resolver *fileview.Resolver
	store    *metadata.Store
	pool     *loudness.Pool
	heap     *native.Heap
	module   native.Module
	registry *audiocodec.Registry
	arena    *source.Arena
	events   *pubsub.PubSub
	ownsPS   bool
}

// SourceInfo describes a source for the REST api.
type SourceInfo struct {
	ID source.SourceID `json:"id"`
	source.Info
}

// New returns a Backend. Its outbound messages are published on the
// events.SourceMessage topic of the configured pubsub.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{
		options: Options{
			Logger:      zerolog.Nop(),
			LibraryRoot: ".",
			Preferences: source.DefaultPreferences,
			HeapLimit:   native.DefaultLimit,
		},
		id:       uuid.New().String(),
		store:    metadata.NewStore(),
		pool:     loudness.NewPool(),
		registry: audiocodec.NewRegistry(),
		arena:    source.NewArena(),
	}

	for _, option := range opts {
		option(&b.options)
	}

	if err := validatePreferences(b.options.Preferences); err != nil {
		return nil, err
	}
	b.prefs = b.options.Preferences

	b.log = b.options.Logger.With().
		Str("component", "backend").
		Str("backend", b.id).
		Logger()

	b.module = b.options.Module
	if b.module == nil {
		b.module = gomp3.New()
	}
	b.heap = native.NewHeap(native.Limit(b.options.HeapLimit))
	b.resolver = fileview.NewResolver(b.options.LibraryRoot,
		fileview.Retries(3), fileview.RetryDelay(10*time.Millisecond))

	mp3.Register(b.registry)
	wav.Register(b.registry)

	b.events = b.options.Events
	if b.events == nil {
		b.events = pubsub.New(64)
		b.ownsPS = true
	}

	if b.options.StoreFile != "" {
		if err := b.store.Load(b.options.StoreFile); err != nil {
			return nil, err
		}
		b.log.Info().Int("tracks", b.store.Len()).Str("file", b.options.StoreFile).
			Msg("track info loaded")
	}

	return b, nil
}

func validatePreferences(p source.Preferences) error {
	if p.BufferTime < MinBufferTime || p.BufferTime > MaxBufferTime {
		return errors.Errorf("buffer time %v out of range (%v-%v)",
			p.BufferTime, MinBufferTime, MaxBufferTime)
	}
	return nil
}

// ID returns the random id of the backend instance.
func (b *Backend) ID() string {
	return b.id
}

// Events returns the pubsub the outbound messages are published on.
func (b *Backend) Events() *pubsub.PubSub {
	return b.events
}

// Codecs returns the names of the supported codecs.
func (b *Backend) Codecs() []string {
	return b.registry.Names()
}

// Preferences implements source.Host.
func (b *Backend) Preferences() source.Preferences {
	b.RLock()
	defer b.RUnlock()
	return b.prefs
}

// SetPreferences replaces the live preferences. Sources pick them up with
// their next buffer.
func (b *Backend) SetPreferences(p source.Preferences) error {
	if err := validatePreferences(p); err != nil {
		return err
	}
	b.Lock()
	b.prefs = p
	b.Unlock()

	b.log.Info().
		Dur("buffer-time", p.BufferTime).
		Bool("loudness-normalization", p.LoudnessNormalization).
		Bool("silence-trimming", p.SilenceTrimming).
		Msg("preferences changed")
	b.events.Pub(p, events.PreferencesChanged)
	return nil
}

// Resolve implements source.Host.
func (b *Backend) Resolve(ref fileview.Reference) (*fileview.FileView, error) {
	return b.resolver.Resolve(ref)
}

// HasCodec implements source.Host.
func (b *Backend) HasCodec(name string) bool {
	_, ok := b.registry.Get(name)
	return ok
}

// NewDecoder implements source.Host.
func (b *Backend) NewDecoder(name string, target int) (audiocodec.DecoderContext, error) {
	c, ok := b.registry.Get(name)
	if !ok {
		return nil, audioerr.UnsupportedFormatf("no decoder found for the codec: %s", name)
	}
	return c(
		audiocodec.Heap(b.heap),
		audiocodec.Module(b.module),
		audiocodec.TargetBufferLengthAudioFrames(target),
		audiocodec.Logger(b.log),
	)
}

// Analyzers implements source.Host.
func (b *Backend) Analyzers() *loudness.Pool {
	return b.pool
}

// Store implements source.Host.
func (b *Backend) Store() *metadata.Store {
	return b.store
}

// Send implements source.Host by publishing m on the events.SourceMessage
// topic.
func (b *Backend) Send(id source.SourceID, m source.Message) {
	b.events.Pub(events.Outbound{ID: id, Message: m}, events.SourceMessage)
}

// Post hands cmd to the source bound to id. Loading a track under an
// unknown id creates the source.
func (b *Backend) Post(id source.SourceID, cmd source.Command) {
	a, ok := b.arena.Lookup(id)
	if ok && a.State() == source.Destroyed {
		// the arena drops destroyed sources asynchronously
		b.arena.Remove(a.Index())
		ok = false
	}
	if !ok {
		if _, load := cmd.(source.LoadInitialAudioData); !load {
			b.reportError(id, errors.Errorf("unknown source %d", id))
			return
		}
		var err error
		a, err = source.New(id, b, b.arena, source.Logger(b.log))
		if err != nil {
			b.reportError(id, err)
			return
		}
		b.log.Debug().Int64("id", int64(id)).Msg("source created")
	}
	a.NewMessage(cmd)
}

func (b *Backend) reportError(id source.SourceID, err error) {
	b.log.Error().Err(err).Int64("id", int64(id)).Msg("command rejected")
	b.Send(id, source.Message{Name: source.MsgError, Args: audioerr.ToReport(err)})
}

// Source returns the source bound to id.
func (b *Backend) Source(id source.SourceID) (SourceInfo, bool) {
	a, ok := b.arena.Lookup(id)
	if !ok {
		return SourceInfo{}, false
	}
	return SourceInfo{ID: id, Info: a.Info()}, true
}

// Sources lists all sources bound to an id, ordered by id.
func (b *Backend) Sources() []SourceInfo {
	ids := b.arena.Bound()
	infos := make([]SourceInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := b.Source(id); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// Len returns the number of live sources including pending replacements.
func (b *Backend) Len() int {
	return b.arena.Len()
}

// Close destroys all sources and persists the track info store.
func (b *Backend) Close() error {
	for _, id := range b.arena.Bound() {
		if a, ok := b.arena.Lookup(id); ok {
			a.Destroy()
		}
	}

	var err error
	if b.options.StoreFile != "" {
		err = b.store.Save(b.options.StoreFile)
	}
	if b.ownsPS {
		b.events.Shutdown()
	}
	b.log.Info().Msg("backend closed")
	return err
}
