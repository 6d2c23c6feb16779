// Package loudness estimates the loudness of a track while it is being
// decoded and derives the gain which normalizes it to a reference level.
package loudness

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/dh1tw/gaplessAudio/audioerr"
	ring "github.com/dh1tw/golang-ring"
)

const (
	// HistoryWindows is the amount of windows the integrated loudness is
	// computed from (8 seconds).
	HistoryWindows = 20
	// ReferenceLoudness is the target level in LUFS.
	ReferenceLoudness = -18.0
	// SilenceThreshold is the level in LUFS below which a window counts
	// as silent.
	SilenceThreshold = -65.0
	// absoluteGate excludes windows from the integrated loudness
	absoluteGate  = -70.0
	maxGainOffset = 12.0
	MinGain       = 0.1
	MaxGain       = 4.0
)

// Info is the loudness information attached to a buffer. Loudness is
// reported as the absolute gate level as long as it is unknown.
type Info struct {
	Gain     float32 `json:"gain"`
	Loudness float32 `json:"loudness"`
	Silent   bool    `json:"isEntirelySilent"`
}

// DefaultInfo is reported when the analyzer is disabled.
var DefaultInfo = Info{Gain: 1, Loudness: absoluteGate}

// Analyzer tracks the mean square energy of consecutive 400 ms windows.
type Analyzer struct {
	sync.Mutex
	channels     int
	sampleRate   int
	enabled      bool
	trimming     bool
	destroyed    bool
	windowFrames int
	windowFill   int
	windowSum    float32
	lastWindow   float32
	framesAdded  int
	history      ring.Ring
	gain         float32
	loudness     float32
}

func newAnalyzer(channels, sampleRate int, enabled bool) *Analyzer {
	a := &Analyzer{}
	a.init(channels, sampleRate, enabled)
	return a
}

func (a *Analyzer) init(channels, sampleRate int, enabled bool) {
	a.channels = channels
	a.sampleRate = sampleRate
	a.enabled = enabled
	a.trimming = false
	a.destroyed = false
	a.windowFrames = sampleRate * 2 / 5
	if a.windowFrames < 1 {
		a.windowFrames = 1
	}
	a.history.SetCapacity(HistoryWindows)
	a.reset()
}

func (a *Analyzer) reset() {
	for a.history.Length() > 0 {
		a.history.Dequeue()
	}
	a.windowFill = 0
	a.windowSum = 0
	a.lastWindow = math32.NaN()
	a.framesAdded = 0
	a.gain = math32.NaN()
	a.loudness = math32.NaN()
}

// SetEnabled switches loudness normalization on or off.
func (a *Analyzer) SetEnabled(enabled bool) {
	a.Lock()
	defer a.Unlock()
	a.enabled = enabled
}

// SetSilenceTrimmingEnabled switches the detection of silent buffers on
// or off.
func (a *Analyzer) SetSilenceTrimmingEnabled(enabled bool) {
	a.Lock()
	defer a.Unlock()
	a.trimming = enabled
}

// Reset drops the collected history.
func (a *Analyzer) Reset() error {
	a.Lock()
	defer a.Unlock()
	if a.destroyed {
		return audioerr.Invariantf("loudness analyzer used after destroy")
	}
	a.reset()
	return nil
}

// Destroy releases the analyzer. Calling it more than once has no effect.
func (a *Analyzer) Destroy() {
	a.Lock()
	defer a.Unlock()
	if a.destroyed {
		return
	}
	a.reset()
	a.destroyed = true
}

// HasEstablishedGain reports whether enough audio has been analyzed to
// trust the gain estimate.
func (a *Analyzer) HasEstablishedGain() bool {
	a.Lock()
	defer a.Unlock()
	return a.hasEstablishedGain()
}

func (a *Analyzer) hasEstablishedGain() bool {
	return !a.destroyed && a.enabled &&
		a.framesAdded >= HistoryWindows*a.windowFrames &&
		!math32.IsNaN(a.gain) && !math32.IsInf(a.gain, 0)
}

// EstablishedGain returns the gain estimate; ok is false as long as the
// gain has not been established.
func (a *Analyzer) EstablishedGain() (float32, bool) {
	a.Lock()
	defer a.Unlock()
	if !a.hasEstablishedGain() {
		return 1, false
	}
	return a.gain, true
}

// Process analyzes frames interleaved audio frames of samples.
func (a *Analyzer) Process(samples []float32, frames int) (Info, error) {
	a.Lock()
	defer a.Unlock()

	if a.destroyed {
		return DefaultInfo, audioerr.Invariantf("loudness analyzer used after destroy")
	}
	if frames*a.channels > len(samples) {
		return DefaultInfo, audioerr.Invariantf("%d audio frames exceed the sample buffer", frames)
	}
	if !a.enabled && !a.trimming {
		return DefaultInfo, nil
	}

	silent := true
	windows := 0
	for f := 0; f < frames; f++ {
		var sum float32
		for ch := 0; ch < a.channels; ch++ {
			s := samples[f*a.channels+ch]
			sum += s * s
		}
		a.windowSum += sum
		a.windowFill++
		a.framesAdded++

		if a.windowFill == a.windowFrames {
			energy := a.windowSum / float32(a.windowFrames)
			a.addWindow(energy)
			if loudnessOf(energy) > SilenceThreshold {
				silent = false
			}
			windows++
			a.windowSum = 0
			a.windowFill = 0
		}
	}

	if windows == 0 {
		silent = !math32.IsNaN(a.lastWindow) && loudnessOf(a.lastWindow) <= SilenceThreshold
	}

	info := Info{
		Gain:     1,
		Loudness: absoluteGate,
		Silent:   a.trimming && silent,
	}
	if !math32.IsNaN(a.loudness) && !math32.IsInf(a.loudness, 0) {
		info.Loudness = a.loudness
	}
	if a.enabled && !math32.IsNaN(a.gain) {
		info.Gain = a.gain
	}
	return info, nil
}

func (a *Analyzer) addWindow(energy float32) {
	a.lastWindow = energy
	if a.history.Length() >= a.history.Capacity() {
		a.history.Dequeue()
	}
	a.history.Enqueue(energy)

	var sum float32
	n := 0
	for i := 0; i < a.history.Length(); i++ {
		// rotate through the ring to visit every window once
		v := a.history.Dequeue().(float32)
		a.history.Enqueue(v)
		if loudnessOf(v) > absoluteGate {
			sum += v
			n++
		}
	}
	if n == 0 {
		a.loudness = math32.Inf(-1)
		a.gain = math32.NaN()
		return
	}
	a.loudness = loudnessOf(sum / float32(n))
	a.gain = gainFor(a.loudness)
}

// loudnessOf converts a mean square energy into LUFS.
func loudnessOf(energy float32) float32 {
	if energy <= 0 {
		return math32.Inf(-1)
	}
	return -0.691 + 10*math32.Log10(energy)
}

func gainFor(loudness float32) float32 {
	offset := math32.Min(ReferenceLoudness-loudness, maxGainOffset)
	gain := math32.Pow(10, offset/20)
	return math32.Max(MinGain, math32.Min(MaxGain, gain))
}
