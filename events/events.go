package events

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/source"
)

// Event channel names used for event Pubsub

// internal
const (
	Shutdown           = "shutdown"           // bool
	OsExit             = "osExit"             // bool
	SetVolume          = "setVolume"          // float32
	PreferencesChanged = "preferencesChanged" // source.Preferences
)

// message boundary
const (
	SourceMessage = "sourceMessage" // Outbound
)

// Outbound is an outbound message of the source bound to ID. The channel
// data of the message is shared between all subscribers and must not be
// modified.
type Outbound struct {
	ID      source.SourceID
	Message source.Message
}

// WatchSystemEvents publishes OsExit when the process is interrupted or
// terminated.
func WatchSystemEvents(evPS *pubsub.PubSub) {

	// Channel to handle OS signals
	osSignals := make(chan os.Signal, 1)

	//subscribe to os.Interrupt (CTRL-C signal) and SIGTERM
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(osSignals)

	<-osSignals
	evPS.Pub(true, OsExit)
}
