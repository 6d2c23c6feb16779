// Package source implements the per track audio source. An Actor loads a
// track, decodes it into fixed size planar buffers on request, seeks, and
// preloads the next track for a gapless transition.
//
// An actor processes one queued command at a time. Its lock is held
// while a command or the buffer fill loop runs and is only released at
// suspension points (file reads, demuxing, seek resolution and while
// waiting for a cancelled fill loop to unwind), so commands which run
// immediately, like Destroy, can only interleave at those points.
package source

import (
	"sync"
	"sync/atomic"

	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/audiocodec"
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/loudness"
	"github.com/dh1tw/gaplessAudio/pipeline"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TopicDestroy is the listener topic on which the single DestroyEvent of
// an actor is published.
const TopicDestroy = "destroy"

// DestroyEvent is published once an actor has been destroyed.
type DestroyEvent struct {
	Index Index
}

var errDestroyed = errors.New("source has been destroyed")

// Actor is the audio source of a single track.
type Actor struct {
	sync.Mutex
	options Options
	log     zerolog.Logger
	host    Host
	arena   *Arena
	index   Index
	parent  atomic.Uint64

	state     State
	queue     []Command
	wake      chan struct{}
	quit      chan struct{}
	ops       cancellation.Operations
	fillToken *cancellation.Token

	ref      fileview.Reference
	uid      string
	view     *fileview.FileView
	reader   fileview.Reader
	codec    string
	data     *demuxer.Data
	decoder  audiocodec.DecoderContext
	analyzer *loudness.Analyzer
	pipeline *pipeline.Pipeline
	position int64
	ended    bool

	replacement *replacement

	destroyAfterFill bool
	endedWaiters     []chan error

	listeners *pubsub.PubSub
	outbox    *outbox
}

// New creates a root actor which sends its messages to the host under id.
func New(id SourceID, host Host, arena *Arena, opts ...Option) (*Actor, error) {
	a := newActor(host, arena, 0, opts...)
	if err := arena.Bind(id, a.index); err != nil {
		a.Destroy()
		return nil, err
	}
	return a, nil
}

func newActor(host Host, arena *Arena, parent Index, opts ...Option) *Actor {
	options := Options{
		Logger:           zerolog.Nop(),
		ListenerCapacity: 1,
	}

	for _, option := range opts {
		option(&options)
	}

	if options.ListenerCapacity < 1 {
		options.ListenerCapacity = 1
	}

	a := &Actor{
		options:   options,
		host:      host,
		arena:     arena,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		listeners: pubsub.New(options.ListenerCapacity),
	}
	a.parent.Store(uint64(parent))
	a.index = arena.insert(a)
	a.log = options.Logger.With().
		Str("component", "source").
		Uint64("source", uint64(a.index)).
		Logger()
	arena.watch(a.index, a.listeners.Sub(TopicDestroy))
	a.outbox = newOutbox(a.route)

	go a.drain()
	return a
}

// Index returns the arena index of the actor.
func (a *Actor) Index() Index {
	return a.index
}

// Parent returns the index of the parent of a replacement actor, or zero.
func (a *Actor) Parent() Index {
	return Index(a.parent.Load())
}

// State returns the lifecycle state of the actor.
func (a *Actor) State() State {
	a.Lock()
	defer a.Unlock()
	return a.state
}

// Info is a snapshot of an actor.
type Info struct {
	Index    Index              `json:"index"`
	State    State              `json:"state"`
	FileRef  fileview.Reference `json:"fileReference"`
	Codec    string             `json:"codec,omitempty"`
	Position int64              `json:"position"`
	Ended    bool               `json:"ended"`
	Duration float64            `json:"duration"`

	ReplacementPending bool `json:"replacementPending"`
}

// Info returns a snapshot of the actor.
func (a *Actor) Info() Info {
	a.Lock()
	defer a.Unlock()
	info := Info{
		Index:    a.index,
		State:    a.state,
		FileRef:  a.ref,
		Codec:    a.codec,
		Position: a.position,
		Ended:    a.ended,

		ReplacementPending: a.replacement != nil,
	}
	if a.data != nil {
		info.Duration = a.data.Duration
	}
	return info
}

// Listen subscribes to topic. The returned channel is closed when the
// actor has been destroyed.
func (a *Actor) Listen(topic string) <-chan interface{} {
	a.Lock()
	defer a.Unlock()
	if a.state == Destroyed {
		ch := make(chan interface{})
		close(ch)
		return ch
	}
	return a.listeners.Sub(topic)
}

// NewMessage hands cmd to the actor. Overriding commands cancel all
// operations and clear the queue first; queued commands are processed
// one at a time in the order they arrived; all others run immediately.
func (a *Actor) NewMessage(cmd Command) {
	a.Lock()
	defer a.Unlock()

	if a.state == Destroyed {
		return
	}

	if cmd.Overriding() {
		a.cancelAllOperations()
		a.queue = nil
	}

	if cmd.Queued() {
		a.queue = append(a.queue, cmd)
		select {
		case a.wake <- struct{}{}:
		default:
		}
		return
	}
	a.dispatch(cmd)
}

// Destroy destroys the actor. Calling Destroy more than once has no
// effect.
func (a *Actor) Destroy() {
	a.NewMessage(Destroy{})
}

// Pending returns the number of queued commands.
func (a *Actor) Pending() int {
	a.Lock()
	defer a.Unlock()
	return len(a.queue)
}

func (a *Actor) drain() {
	for {
		select {
		case <-a.wake:
		case <-a.quit:
			return
		}

		for {
			a.Lock()
			if len(a.queue) == 0 || a.state == Destroyed {
				a.Unlock()
				break
			}
			cmd := a.queue[0]
			a.queue = a.queue[1:]
			a.dispatch(cmd)
			a.Unlock()
		}
	}
}

// dispatch runs cmd. The caller must hold the lock.
func (a *Actor) dispatch(cmd Command) {
	var err error

	switch c := cmd.(type) {
	case LoadInitialAudioData:
		err = a.loadInitialAudioData(c)
	case Seek:
		err = a.seek(c)
	case FillBuffers:
		err = a.fillBuffers(c)
	case LoadReplacement:
		err = a.loadReplacement(c)
	case Destroy:
		a.destroyLocked()
	case messageFromReplacement:
		err = a.messageFromReplacement(c)
	default:
		err = audioerr.Invariantf("unknown command %T", cmd)
	}

	if err != nil {
		a.passError(err)
	}
}

// suspend releases the lock while blocking runs.
func (a *Actor) suspend(blocking func() error) error {
	a.Unlock()
	defer a.Lock()
	return blocking()
}

func (a *Actor) await(ch <-chan struct{}) {
	a.suspend(func() error {
		<-ch
		return nil
	})
}

func (a *Actor) cancelAllOperations() {
	a.destroyReplacement()
	a.ops.CancelAll()
}

// send queues m for delivery. Destroyed actors don't send anything.
func (a *Actor) send(m Message) {
	if a.state == Destroyed {
		return
	}
	a.outbox.push(m)
}

func (a *Actor) passError(err error) {
	if cancellation.IsCancelled(err) {
		return
	}
	a.log.Error().Err(err).Msg("operation failed")
	a.send(Message{Name: MsgError, Args: audioerr.ToReport(err)})
}

// route delivers m to the parent of a replacement actor, or to the host
// under the SourceID of the actor.
func (a *Actor) route(m Message) {
	if parent := a.Parent(); parent != 0 {
		if p, ok := a.arena.Get(parent); ok {
			p.NewMessage(messageFromReplacement{sender: a.index, msg: m})
		}
		return
	}
	if id, ok := a.arena.IDOf(a.index); ok {
		a.host.Send(id, m)
	}
}

// releaseTrack frees the decoder and the analyzer and releases the file
// view of the current track.
func (a *Actor) releaseTrack() {
	if a.decoder != nil {
		if err := a.decoder.Destroy(); err != nil {
			a.log.Error().Err(err).Msg("destroy decoder")
		}
		a.decoder = nil
	}
	if a.analyzer != nil {
		if err := a.host.Analyzers().Free(a.analyzer); err != nil {
			a.log.Error().Err(err).Msg("free loudness analyzer")
		}
		a.analyzer = nil
	}
	if a.view != nil {
		a.view.Release()
		a.view = nil
	}
	a.reader = nil
	a.pipeline = nil
	a.data = nil
	a.codec = ""
	a.uid = ""
	a.position = 0
	a.ended = false
}

func (a *Actor) destroyLocked() {
	if a.state == Destroyed {
		return
	}
	a.log.Info().Msg("destroy")

	// the transition table allows Destroyed from every state
	a.state = Destroyed
	a.queue = nil
	ack := cancellation.AcknowledgedOrResolved(a.fillToken)
	a.cancelAllOperations()
	a.await(ack)

	a.destroyReplacement()
	a.parent.Store(0)
	a.releaseTrack()
	a.fillToken = nil
	a.destroyAfterFill = false

	for _, w := range a.endedWaiters {
		w <- errDestroyed
	}
	a.endedWaiters = nil

	a.outbox.close()
	close(a.quit)
	a.listeners.Pub(DestroyEvent{Index: a.index}, TopicDestroy)
	a.listeners.Shutdown()
}

// DestroyAfterBuffersFilled destroys the actor as soon as the fill loop
// in flight has finished, or right away if none is running.
func (a *Actor) DestroyAfterBuffersFilled() {
	a.Lock()
	defer a.Unlock()
	if a.state == Destroyed {
		return
	}
	if a.fillToken != nil {
		a.destroyAfterFill = true
		return
	}
	a.destroyLocked()
}

// FillInFlight reports whether a fill loop holds a token.
func (a *Actor) FillInFlight() bool {
	a.Lock()
	defer a.Unlock()
	return a.fillToken != nil
}

// outbox delivers the messages of an actor in the order they were sent,
// without holding the lock of the actor.
type outbox struct {
	sync.Mutex
	queue   []Message
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	deliver func(Message)
}

func newOutbox(deliver func(Message)) *outbox {
	o := &outbox{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		deliver: deliver,
	}
	go o.run()
	return o
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) push(m Message) {
	o.Lock()
	if o.closed {
		o.Unlock()
		return
	}
	o.queue = append(o.queue, m)
	o.Unlock()
	o.signal()
}

// close stops the outbox once the messages sent so far are delivered.
func (o *outbox) close() {
	o.Lock()
	o.closed = true
	o.Unlock()
	o.signal()
}

func (o *outbox) run() {
	defer close(o.done)
	for range o.wake {
		for {
			o.Lock()
			if len(o.queue) == 0 {
				closed := o.closed
				o.Unlock()
				if closed {
					return
				}
				break
			}
			m := o.queue[0]
			o.queue[0] = Message{}
			o.queue = o.queue[1:]
			o.Unlock()
			o.deliver(m)
		}
	}
}
