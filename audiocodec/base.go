package audiocodec

import (
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/demuxer"
)

// Base carries the lifecycle and the skip / flush accounting which is
// shared by all decoder contexts. Concrete contexts embed it and own the
// interleaved sample buffer; methods touching samples receive it as an
// argument. Decoded audio frames are always written right behind the
// unflushed ones.
type Base struct {
	opts Options

	name       string
	state      State
	destroyed  bool
	sampleRate int
	channels   int
	data       *demuxer.Data

	// toSkip audio frames are dropped before any frame becomes visible
	toSkip    int
	skipped   int
	unflushed int
	// position is the timeline frame of the next decoded audio frame;
	// it is negative while encoder delay is being skipped
	position int
}

// NewBase returns a Base for the codec name.
func NewBase(name string, opts Options) Base {
	return Base{
		opts: opts,
		name: name,
	}
}

// Name returns the name of the codec.
func (b *Base) Name() string {
	return b.name
}

// State returns the lifecycle state.
func (b *Base) State() State {
	return b.state
}

// Destroyed reports whether the context has been destroyed.
func (b *Base) Destroyed() bool {
	return b.destroyed
}

// Opts returns a copy of the options the context was created with.
func (b *Base) Opts() Options {
	return b.opts
}

// Data returns the container metadata of the current session.
func (b *Base) Data() *demuxer.Data {
	return b.data
}

func (b *Base) HasEstablishedMetadata() bool {
	return b.channels > 0
}

func (b *Base) SampleRate() int {
	return b.sampleRate
}

func (b *Base) Channels() int {
	return b.channels
}

func (b *Base) TargetBufferLengthAudioFrames() int {
	return b.opts.TargetBufferLengthAudioFrames
}

// Unflushed returns the amount of accumulated audio frames which have not
// been flushed yet.
func (b *Base) Unflushed() int {
	return b.unflushed
}

// Skipped returns the amount of audio frames dropped in this session.
func (b *Base) Skipped() int {
	return b.skipped
}

func (b *Base) CurrentAudioFrame() int {
	pos := b.position + b.toSkip - b.unflushed
	if pos < 0 {
		return 0
	}
	return pos
}

// Active reports whether a session is in progress.
func (b *Base) Active() bool {
	return b.state == Started || b.state == Iterating
}

// Begin starts a session which drops skip audio frames before the first
// visible one.
func (b *Base) Begin(d *demuxer.Data, skip int) error {
	if b.destroyed {
		return audioerr.Invariantf("%s decoder context has been destroyed", b.name)
	}
	if b.Active() {
		return audioerr.Invariantf("previous %s decoding in session, call End()", b.name)
	}
	b.resetDecoding()
	b.data = d
	b.toSkip = skip
	b.position = -skip
	b.state = Started
	return nil
}

// Reposition discards the accumulated state after a seek. position is the
// timeline frame of the first audio frame decoded afterwards.
func (b *Base) Reposition(position, skip int) error {
	if b.destroyed {
		return audioerr.Invariantf("%s decoder context has been destroyed", b.name)
	}
	if !b.Active() {
		return audioerr.Invariantf("cannot apply seek to unstarted %s context", b.name)
	}
	b.resetDecoding()
	b.toSkip = skip
	b.position = position
	b.state = Started
	return nil
}

// BeginDecode must be called on entry of DecodeUntilFlush.
func (b *Base) BeginDecode() error {
	if b.destroyed {
		return audioerr.Invariantf("%s decoder context has been destroyed", b.name)
	}
	if !b.Active() {
		return audioerr.Invariantf("call Start() before decoding with %s", b.name)
	}
	b.state = Iterating
	return nil
}

// Establish records the stream parameters reported by the first decoded
// frame.
func (b *Base) Establish(sampleRate, channels int) error {
	if b.channels > 0 {
		return audioerr.Invariantf("%s stream metadata already established", b.name)
	}
	if sampleRate <= 0 || channels <= 0 {
		return audioerr.Invariantf("invalid %s stream metadata: %d Hz, %d channels",
			b.name, sampleRate, channels)
	}
	b.sampleRate = sampleRate
	b.channels = channels
	return nil
}

// SetTarget stores the flush length.
func (b *Base) SetTarget(n int) {
	b.opts.TargetBufferLengthAudioFrames = n
}

// Accumulate accounts for frames freshly decoded audio frames in buf.
// Pending skip is consumed from their front; once the target length is
// reached exactly that many audio frames are flushed and the overflow is
// moved to the front of buf. It reports whether flush was called.
func (b *Base) Accumulate(buf []float32, frames int, flush FlushFunc) bool {
	if frames <= 0 {
		return false
	}
	ch := b.channels
	cur := b.unflushed
	b.position += frames

	skipped := frames
	if b.toSkip < skipped {
		skipped = b.toSkip
	}
	if skipped > 0 {
		frames -= skipped
		b.toSkip -= skipped
		b.skipped += skipped
		if frames > 0 {
			copy(buf[cur*ch:], buf[(cur+skipped)*ch:(cur+skipped+frames)*ch])
		}
	}
	if frames == 0 {
		return false
	}

	total := cur + frames
	target := b.TargetBufferLengthAudioFrames()
	if target <= 0 || total < target {
		b.unflushed = total
		return false
	}

	b.unflushed = 0
	flush(buf[:target*ch])
	overflow := total - target
	if overflow > 0 {
		copy(buf, buf[target*ch:total*ch])
	}
	b.unflushed = overflow
	return true
}

// FlushCarry flushes a full buffer out of the accumulated audio frames.
// This happens when the target length shrank below the carried overflow.
func (b *Base) FlushCarry(buf []float32, flush FlushFunc) bool {
	target := b.TargetBufferLengthAudioFrames()
	if target <= 0 || b.channels <= 0 || b.unflushed < target {
		return false
	}
	ch := b.channels
	total := b.unflushed
	b.unflushed = 0
	flush(buf[:target*ch])
	copy(buf, buf[target*ch:total*ch])
	b.unflushed = total - target
	return true
}

// Finish ends the session, flushing the accumulated audio frames if flush
// is not nil.
func (b *Base) Finish(buf []float32, flush FlushFunc) (bool, error) {
	if !b.Active() {
		if flush != nil {
			return false, audioerr.Invariantf("%s decoder context has not been started", b.name)
		}
		b.reset()
		return false, nil
	}

	flushed := false
	if flush != nil && b.unflushed > 0 && b.channels > 0 {
		n := b.unflushed * b.channels
		b.unflushed = 0
		flush(buf[:n])
		flushed = true
	}
	b.reset()
	b.state = Ended
	return flushed, nil
}

// MarkDestroyed flags the context as destroyed. Destroying twice is a
// programmer error.
func (b *Base) MarkDestroyed() error {
	if b.destroyed {
		return audioerr.Invariantf("%s decoder context destroyed twice", b.name)
	}
	b.reset()
	b.destroyed = true
	b.state = NotStarted
	return nil
}

func (b *Base) resetDecoding() {
	b.toSkip = 0
	b.skipped = 0
	b.unflushed = 0
	b.position = 0
}

func (b *Base) reset() {
	b.resetDecoding()
	b.data = nil
	b.sampleRate = 0
	b.channels = 0
}
