package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dh1tw/gaplessAudio/audio"
	"github.com/dh1tw/gaplessAudio/backend"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/demuxer/demuxtest"
	"github.com/dh1tw/gaplessAudio/native/nativetest"
	"github.com/dh1tw/gaplessAudio/router"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	sync.Mutex
	frames int
	eofs   int
}

func (s *countingSink) Start() error        { return nil }
func (s *countingSink) Stop() error         { return nil }
func (s *countingSink) Close() error        { return nil }
func (s *countingSink) SetVolume(v float32) {}
func (s *countingSink) Volume() float32     { return 1 }
func (s *countingSink) Flush()              {}
func (s *countingSink) Write(msg audio.Msg) error {
	s.Lock()
	defer s.Unlock()
	s.frames += msg.Frames
	if msg.EOF {
		s.eofs++
	}
	return nil
}

func newDriver(t *testing.T) (*driver, *countingSink) {
	root := t.TempDir()
	for _, name := range []string{"a.mp3", "b.mp3"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), demuxtest.CBR(400), 0644))
	}

	m := nativetest.NewScriptedModule(44100, 2)
	m.Next = nativetest.FramePerCall(demuxtest.FrameSize128, demuxtest.SamplesPerFrame)
	b, err := backend.New(backend.LibraryRoot(root), backend.Module(m))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	r, err := router.NewRouter()
	require.NoError(t, err)
	s := &countingSink{}
	r.AddSink("count", s, true)

	return &driver{backend: b, router: r, log: zerolog.Nop(), preload: 2}, s
}

func TestDriverPlaysTracksGaplessly(t *testing.T) {
	d, s := newDriver(t)
	var loaded []*demuxer.Data
	d.onLoad = func(data *demuxer.Data) error {
		loaded = append(loaded, data)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.run(ctx, []string{"a.mp3", "b.mp3"}))

	// the replacement does not report a load of its own
	require.Len(t, loaded, 1)
	assert.Equal(t, "mp3", loaded[0].Codec)

	assert.Equal(t, 2, s.eofs)
	single := int(loaded[0].Duration * 44100)
	assert.InDelta(t, 2*single, s.frames, 4*1152)
	require.Eventually(t, func() bool { return d.backend.Len() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestDriverReportsErrors(t *testing.T) {
	d, _ := newDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := d.run(ctx, []string{"missing.mp3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FileAccessError")

	assert.Error(t, d.run(ctx, nil))
}

func TestDriverStopsOnCancel(t *testing.T) {
	d, _ := newDriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, d.run(ctx, []string{"a.mp3"}))
}
