package source

import (
	"fmt"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/pkg/errors"
)

// State is the lifecycle state of an Actor.
type State int

const (
	// Idle is the state of an actor which has nothing in progress. The
	// track may or may not be loaded.
	Idle State = iota
	Loading
	Decoding
	Seeking
	Destroyed
)

var stateNames = map[State]string{
	Idle:      "idle",
	Loading:   "loading",
	Decoding:  "decoding",
	Seeking:   "seeking",
	Destroyed: "destroyed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for st, n := range stateNames {
		if n == string(b) {
			*s = st
			return nil
		}
	}
	return errors.Errorf("unknown state %q", b)
}

// transitions lists the valid successors of every state. Destroy may
// interleave at any suspension point, so every state may be left towards
// Destroyed.
var transitions = map[State]map[State]bool{
	Idle:      {Loading: true, Seeking: true, Decoding: true, Destroyed: true},
	Loading:   {Idle: true, Seeking: true, Destroyed: true},
	Seeking:   {Idle: true, Decoding: true, Destroyed: true},
	Decoding:  {Idle: true, Loading: true, Seeking: true, Destroyed: true},
	Destroyed: {},
}

// CanTransitionTo reports whether s may be followed by next.
func (s State) CanTransitionTo(next State) bool {
	return transitions[s][next]
}

// transition moves the actor to next. The caller must hold the lock.
func (a *Actor) transition(next State) error {
	if !a.state.CanTransitionTo(next) {
		return audioerr.Invariantf("invalid state transition %s -> %s", a.state, next)
	}
	a.log.Debug().Str("from", a.state.String()).Str("to", next.String()).Msg("state")
	a.state = next
	return nil
}
