package events

import (
	"bufio"
	"fmt"
	"io"

	"github.com/cskr/pubsub"
)

// volumeStep is the change of the volume per key press
const volumeStep = 0.1

// CaptureKeyboard translates single line commands read from r into
// events: "+" and "-" change the volume, "q" exits. It returns when r is
// exhausted.
func CaptureKeyboard(r io.Reader, evPS *pubsub.PubSub, volume float32) {

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		switch scanner.Text() {
		case "+":
			volume += volumeStep
			evPS.Pub(volume, SetVolume)
		case "-":
			volume -= volumeStep
			if volume < 0 {
				volume = 0
			}
			evPS.Pub(volume, SetVolume)
		case "q":
			evPS.Pub(true, OsExit)
			return
		default:
			fmt.Println("keyboard input:", scanner.Text(), "(+/- volume, q quit)")
		}
	}
}
