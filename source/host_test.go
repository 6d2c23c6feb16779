package source

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dh1tw/gaplessAudio/audiocodec"
	"github.com/dh1tw/gaplessAudio/audiocodec/mp3"
	"github.com/dh1tw/gaplessAudio/audiocodec/wav"
	"github.com/dh1tw/gaplessAudio/demuxer/demuxtest"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/loudness"
	"github.com/dh1tw/gaplessAudio/metadata"
	"github.com/dh1tw/gaplessAudio/native"
	"github.com/dh1tw/gaplessAudio/native/nativetest"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type sent struct {
	id  SourceID
	msg Message
}

// testHost decodes mp3 files with a scripted native module which turns
// every 417 byte frame into 1152 audio frames.
type testHost struct {
	sync.Mutex
	prefs    Preferences
	root     string
	resolver *fileview.Resolver
	heap     *native.Heap
	module   *nativetest.ScriptedModule
	pool     *loudness.Pool
	store    *metadata.Store
	arena    *Arena
	sent     chan sent

	// open replaces the resolver when set
	open func(ref fileview.Reference) (*fileview.FileView, error)
	// hold blocks Send until it is closed
	hold chan struct{}
}

func newTestHost(t *testing.T) *testHost {
	root := t.TempDir()
	m := nativetest.NewScriptedModule(44100, 2)
	m.Next = nativetest.FramePerCall(demuxtest.FrameSize128, demuxtest.SamplesPerFrame)

	h := &testHost{
		prefs:    DefaultPreferences,
		root:     root,
		resolver: fileview.NewResolver(root),
		heap:     native.NewHeap(),
		module:   m,
		pool:     loudness.NewPool(),
		store:    metadata.NewStore(),
		arena:    NewArena(),
		sent:     make(chan sent, 256),
	}
	h.write(t, "track.mp3", demuxtest.CBR(400))
	return h
}

func (h *testHost) write(t *testing.T, name string, b []byte) {
	require.NoError(t, os.WriteFile(filepath.Join(h.root, name), b, 0644))
}

func (h *testHost) Preferences() Preferences {
	h.Lock()
	defer h.Unlock()
	return h.prefs
}

func (h *testHost) Resolve(ref fileview.Reference) (*fileview.FileView, error) {
	if h.open != nil {
		return h.open(ref)
	}
	return h.resolver.Resolve(ref)
}

func (h *testHost) HasCodec(name string) bool {
	return name == mp3.Name || name == wav.Name
}

func (h *testHost) NewDecoder(name string, target int) (audiocodec.DecoderContext, error) {
	if name == wav.Name {
		return wav.New(audiocodec.TargetBufferLengthAudioFrames(target))
	}
	return mp3.New(
		audiocodec.Heap(h.heap),
		audiocodec.Module(h.module),
		audiocodec.TargetBufferLengthAudioFrames(target),
	)
}

func (h *testHost) Analyzers() *loudness.Pool {
	return h.pool
}

func (h *testHost) Store() *metadata.Store {
	return h.store
}

func (h *testHost) Send(id SourceID, m Message) {
	h.Lock()
	hold := h.hold
	h.Unlock()
	if hold != nil {
		<-hold
	}
	h.sent <- sent{id: id, msg: m}
}

// holdSends blocks the delivery of outbound messages until the returned
// func is called.
func (h *testHost) holdSends() func() {
	h.Lock()
	defer h.Unlock()
	hold := make(chan struct{})
	h.hold = hold
	return func() { close(hold) }
}

func (h *testHost) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-h.sent:
		return s
	case <-time.After(waitFor):
		require.FailNow(t, "no message received")
	}
	return sent{}
}

func (h *testHost) expect(t *testing.T, name string) sent {
	t.Helper()
	s := h.next(t)
	require.Equal(t, name, s.msg.Name, "%+v", s.msg.Args)
	return s
}

func (h *testHost) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-h.sent:
		require.FailNow(t, "unexpected message", "%s %+v", s.msg.Name, s.msg.Args)
	case <-time.After(100 * time.Millisecond):
	}
}

// load creates the root actor id and loads the track behind path.
func (h *testHost) load(t *testing.T, id SourceID, path string) *Actor {
	t.Helper()
	a, err := New(id, h, h.arena)
	require.NoError(t, err)
	a.NewMessage(LoadInitialAudioData{RequestID: 1, FileRef: fileview.Reference{Path: path}})
	h.expect(t, MsgInitialAudioDataLoaded)
	return a
}

// leakCheck asserts that every native and shared resource has been
// released.
func (h *testHost) leakCheck(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.arena.Len() == 0 }, waitFor, tick)
	require.Equal(t, 0, h.heap.Live(), "native regions")
	require.Equal(t, 0, h.module.LiveContexts(), "decoder contexts")
	require.Equal(t, 0, h.pool.Live(), "loudness analyzers")
	require.Equal(t, 0, h.resolver.Open(), "open files")
}

func recv(t *testing.T, ch <-chan interface{}) (interface{}, bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(waitFor):
		require.FailNow(t, "nothing received")
	}
	return nil, false
}

// gatedFile blocks reads while it is closed.
type gatedFile struct {
	sync.Mutex
	data    []byte
	closed  bool
	open    chan struct{}
	entered chan struct{}
}

func newGatedFile(b []byte) *gatedFile {
	return &gatedFile{
		data:    b,
		entered: make(chan struct{}, 16),
	}
}

func (g *gatedFile) ReadAt(p []byte, off int64) (int, error) {
	g.Lock()
	closed, open := g.closed, g.open
	g.Unlock()
	if closed {
		g.entered <- struct{}{}
		<-open
	}
	return bytes.NewReader(g.data).ReadAt(p, off)
}

func (g *gatedFile) block() {
	g.Lock()
	defer g.Unlock()
	if !g.closed {
		g.closed = true
		g.open = make(chan struct{})
	}
}

func (g *gatedFile) unblock() {
	g.Lock()
	defer g.Unlock()
	if g.closed {
		g.closed = false
		close(g.open)
	}
}

func (g *gatedFile) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(waitFor):
		require.FailNow(t, "read did not start")
	}
}

// gate makes the host read every track out of a gated copy of the CBR
// test stream.
func (h *testHost) gate() *gatedFile {
	g := newGatedFile(demuxtest.CBR(400))
	h.open = func(ref fileview.Reference) (*fileview.FileView, error) {
		return fileview.New(g, int64(len(g.data)), fileview.Name(filepath.Base(ref.Path))), nil
	}
	return g
}
