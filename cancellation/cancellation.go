// Package cancellation implements cooperative, single-shot cancellation
// tokens. A token never interrupts work; the holder polls it at its own
// suspension points and acknowledges once it has unwound.
package cancellation

import (
	"sync"

	"github.com/pkg/errors"
)

// Kind identifies an independently cancellable operation.
type Kind int

const (
	Fill Kind = iota
	Seek
	Replacement
	numKinds
)

var kindNames = [numKinds]string{"fill", "seek", "replacement"}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// ErrCancelled is returned by Token.Check once the token has been
// cancelled. It is not an error condition which needs reporting.
var ErrCancelled = errors.New("operation cancelled")

// IsCancelled reports whether err originates from a cancelled token.
func IsCancelled(err error) bool {
	return errors.Cause(err) == ErrCancelled
}

// Operations holds the per kind id counters of an owner. A token is live
// as long as the counter of its kind still equals the id it was minted
// with; minting or cancelling advances the counter.
type Operations struct {
	mu  sync.Mutex
	ids [numKinds]uint64
}

// TokenFor mints a new token for kind. Any previously minted token of the
// same kind is cancelled.
func (o *Operations) TokenFor(kind Kind) *Token {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ids[kind]++
	return &Token{
		kind: kind,
		id:   o.ids[kind],
		ops:  o,
		ack:  make(chan struct{}),
	}
}

// Cancel cancels the live token of kind, if any.
func (o *Operations) Cancel(kind Kind) {
	o.mu.Lock()
	o.ids[kind]++
	o.mu.Unlock()
}

// CancelAll cancels the live tokens of every kind.
func (o *Operations) CancelAll() {
	o.mu.Lock()
	for k := range o.ids {
		o.ids[k]++
	}
	o.mu.Unlock()
}

func (o *Operations) current(kind Kind) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ids[kind]
}

// Token is a single-shot cancellation flag paired with a oneshot
// acknowledgment signal.
type Token struct {
	kind Kind
	id   uint64
	ops  *Operations
	once sync.Once
	ack  chan struct{}
}

// Kind returns the operation kind the token was minted for.
func (t *Token) Kind() Kind {
	return t.kind
}

// IsCancelled reports whether the token has been cancelled.
func (t *Token) IsCancelled() bool {
	return t.ops.current(t.kind) != t.id
}

// Check returns ErrCancelled if the token has been cancelled.
func (t *Token) Check() error {
	if t.IsCancelled() {
		return errors.Wrapf(ErrCancelled, "%s token", t.kind)
	}
	return nil
}

// Signal acknowledges that the holder of the token has observed the
// cancellation and finished unwinding. Calling Signal more than once has
// no effect.
func (t *Token) Signal() {
	t.once.Do(func() { close(t.ack) })
}

// Acknowledged returns a channel which is closed once Signal was called.
func (t *Token) Acknowledged() <-chan struct{} {
	return t.ack
}

var resolved = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// AcknowledgedOrResolved returns the acknowledgment channel of t, or an
// already closed channel if t is nil.
func AcknowledgedOrResolved(t *Token) <-chan struct{} {
	if t == nil {
		return resolved
	}
	return t.Acknowledged()
}
