package loudness

import (
	"sync"

	"github.com/dh1tw/gaplessAudio/audioerr"
)

// Pool recycles analyzers.
type Pool struct {
	sync.Mutex
	free []*Analyzer
	live map[*Analyzer]bool
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{
		live: make(map[*Analyzer]bool),
	}
}

// Alloc returns an analyzer for audio with the given layout.
func (p *Pool) Alloc(channels, sampleRate int, enabled bool) (*Analyzer, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, audioerr.Invariantf("invalid analyzer layout: %d channels, %d Hz",
			channels, sampleRate)
	}

	p.Lock()
	defer p.Unlock()

	var a *Analyzer
	if n := len(p.free); n > 0 {
		a = p.free[n-1]
		p.free = p.free[:n-1]
		a.Lock()
		a.init(channels, sampleRate, enabled)
		a.Unlock()
	} else {
		a = newAnalyzer(channels, sampleRate, enabled)
	}
	p.live[a] = true
	return a, nil
}

// Free destroys a and makes it available for reuse. Freeing an analyzer
// which is not live is a programmer error.
func (p *Pool) Free(a *Analyzer) error {
	p.Lock()
	defer p.Unlock()

	if !p.live[a] {
		return audioerr.Invariantf("free of an analyzer which is not live")
	}
	delete(p.live, a)
	a.Destroy()
	p.free = append(p.free, a)
	return nil
}

// Live returns the number of allocated analyzers.
func (p *Pool) Live() int {
	p.Lock()
	defer p.Unlock()
	return len(p.live)
}
