// Package nativetest provides a scripted native.Module for tests.
package nativetest

import (
	"sync"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/native"
)

// Step describes the outcome of one DecodeFrame call.
type Step struct {
	BytesRead int
	Frames    int
}

// Repeat returns n copies of s.
func Repeat(s Step, n int) []Step {
	steps := make([]Step, n)
	for i := range steps {
		steps[i] = s
	}
	return steps
}

// ScriptedModule replays a list of steps. Every produced audio frame
// carries the running frame number as the value of all of its channels,
// so that tests can verify that no frame got lost or duplicated. Value
// replaces the frame number when set.
//
// When the script is exhausted, Next is consulted; without Next the
// module reports that nothing was consumed and nothing was produced.
type ScriptedModule struct {
	sync.Mutex
	SampleRate int
	Channels   int
	Steps      []Step
	Next       func(srcLen int) Step
	Value      func(frame int) float32

	Calls  int
	Resets int
	// Srcs records the source span of every DecodeFrame call.
	Srcs   []native.Span
	frame  int
	ctxs   map[native.Ctx]bool
	nextID native.Ctx
}

// NewScriptedModule returns a module replaying steps.
func NewScriptedModule(sampleRate, channels int, steps ...Step) *ScriptedModule {
	return &ScriptedModule{
		SampleRate: sampleRate,
		Channels:   channels,
		Steps:      steps,
		ctxs:       make(map[native.Ctx]bool),
	}
}

// FramePerCall returns a Next func which consumes frameBytes per call and
// produces frames audio frames as long as enough input is available.
func FramePerCall(frameBytes, frames int) func(int) Step {
	return func(srcLen int) Step {
		if srcLen < frameBytes {
			return Step{}
		}
		return Step{BytesRead: frameBytes, Frames: frames}
	}
}

func (m *ScriptedModule) NewContext() (native.Ctx, error) {
	m.Lock()
	defer m.Unlock()
	m.nextID++
	m.ctxs[m.nextID] = true
	return m.nextID, nil
}

func (m *ScriptedModule) FreeContext(ctx native.Ctx) error {
	m.Lock()
	defer m.Unlock()
	if !m.ctxs[ctx] {
		return audioerr.Invariantf("unknown decoder context %d", ctx)
	}
	delete(m.ctxs, ctx)
	return nil
}

// LiveContexts returns the number of contexts which have not been freed.
func (m *ScriptedModule) LiveContexts() int {
	m.Lock()
	defer m.Unlock()
	return len(m.ctxs)
}

func (m *ScriptedModule) DecodeFrame(h *native.Heap, ctx native.Ctx, src native.Span,
	dst native.Span, result native.Ptr) error {
	m.Lock()
	defer m.Unlock()

	if !m.ctxs[ctx] {
		return audioerr.Invariantf("unknown decoder context %d", ctx)
	}
	m.Calls++
	m.Srcs = append(m.Srcs, src)
	srcLen := src.Len

	var step Step
	switch {
	case len(m.Steps) > 0:
		step = m.Steps[0]
		m.Steps = m.Steps[1:]
	case m.Next != nil:
		step = m.Next(srcLen)
	}

	if step.BytesRead > srcLen {
		step.BytesRead = srcLen
	}

	if step.Frames > 0 {
		out := h.Float32View(dst)
		if len(out) < step.Frames*m.Channels {
			return audioerr.Invariantf("output buffer too small for %d frames", step.Frames)
		}
		for i := 0; i < step.Frames; i++ {
			v := float32(m.frame)
			if m.Value != nil {
				v = m.Value(m.frame)
			}
			for ch := 0; ch < m.Channels; ch++ {
				out[i*m.Channels+ch] = v
			}
			m.frame++
		}
	}

	res := h.Uint32s(result, 2)
	res[native.ResultBytesRead] = uint32(step.BytesRead)
	res[native.ResultFramesWritten] = uint32(step.Frames)
	return nil
}

func (m *ScriptedModule) Info(ctx native.Ctx) (int, int) {
	return m.SampleRate, m.Channels
}

func (m *ScriptedModule) Reset(ctx native.Ctx) error {
	m.Lock()
	defer m.Unlock()
	m.Resets++
	return nil
}
