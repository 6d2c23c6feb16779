package source

import (
	"testing"
	"time"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/demuxer/demuxtest"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplacementIsPromotedOnce(t *testing.T) {
	h := newTestHost(t)
	h.write(t, "next.mp3", demuxtest.CBR(400))
	a := h.load(t, 1, "track.mp3")
	parentEvents := a.Listen(TopicDestroy)

	a.NewMessage(LoadReplacement{
		RequestID:      9,
		FileRef:        fileview.Reference{Path: "next.mp3"},
		SeekTime:       0,
		Count:          2,
		GaplessPreload: true,
	})

	s := h.next(t)
	assert.Equal(t, SourceID(1), s.id)
	args := filledBuffer(t, s)
	assert.Equal(t, int64(9), args.RequestID)
	assert.Equal(t, FillReplacement, args.BufferFillType)
	require.NotNil(t, args.Descriptor)
	assert.Equal(t, 44100, args.Descriptor.Length)
	require.Len(t, s.msg.ChannelData, 2)

	data := args.Descriptor.FillTypeData
	require.NotNil(t, data)
	assert.Equal(t, int64(9), data.RequestID)
	assert.True(t, data.GaplessPreload)
	assert.Equal(t, 0.0, data.BaseTime)
	require.NotNil(t, data.Metadata)
	assert.Equal(t, "mp3", data.Metadata.Codec)

	// the parent is gone, the child carries its identity
	ev, ok := recv(t, parentEvents)
	require.True(t, ok)
	assert.Equal(t, DestroyEvent{Index: a.Index()}, ev)
	assert.Equal(t, Destroyed, a.State())

	child, ok := h.arena.Lookup(1)
	require.True(t, ok)
	assert.NotEqual(t, a.Index(), child.Index())
	assert.Equal(t, Index(0), child.Parent())
	childEvents := child.Listen(TopicDestroy)

	// the rest of the preload is delivered as regular buffers
	s = h.next(t)
	assert.Equal(t, SourceID(1), s.id)
	args = filledBuffer(t, s)
	assert.Equal(t, FillNormal, args.BufferFillType)
	assert.InDelta(t, 1.0, args.Descriptor.StartTime, 1e-9)
	assert.Equal(t, SourceID(1), h.expect(t, MsgIdle).id)
	h.none(t)

	select {
	case ev := <-childEvents:
		assert.Fail(t, "promoted child destroyed", "%v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	require.Eventually(t, func() bool { return h.arena.Len() == 1 }, waitFor, tick)

	child.NewMessage(FillBuffers{Count: 1})
	args = filledBuffer(t, h.next(t))
	assert.InDelta(t, 2.0, args.Descriptor.StartTime, 1e-9)
	h.expect(t, MsgIdle)

	child.Destroy()
	ev, ok = recv(t, childEvents)
	require.True(t, ok)
	assert.Equal(t, DestroyEvent{Index: child.Index()}, ev)
	h.leakCheck(t)
}

func TestReplacementSeeksToPreloadPoint(t *testing.T) {
	h := newTestHost(t)
	h.write(t, "next.mp3", demuxtest.CBR(400))
	a := h.load(t, 1, "track.mp3")

	a.NewMessage(LoadReplacement{
		RequestID: 3,
		FileRef:   fileview.Reference{Path: "next.mp3"},
		SeekTime:  5,
		Count:     1,
	})

	args := filledBuffer(t, h.next(t))
	assert.Equal(t, FillReplacement, args.BufferFillType)
	data := args.Descriptor.FillTypeData
	require.NotNil(t, data)
	assert.False(t, data.GaplessPreload)
	assert.InDelta(t, 191*1152/44100.0, data.BaseTime, 1e-9)
	assert.InDelta(t, data.BaseTime, args.Descriptor.StartTime, 1e-6)
	h.expect(t, MsgIdle)

	child, ok := h.arena.Lookup(1)
	require.True(t, ok)
	child.Destroy()
	h.leakCheck(t)
}

func TestReplacementErrorIsReportedByParent(t *testing.T) {
	h := newTestHost(t)
	a := h.load(t, 1, "track.mp3")

	a.NewMessage(LoadReplacement{
		RequestID: 2,
		FileRef:   fileview.Reference{Path: "missing.mp3"},
		Count:     1,
	})

	s := h.expect(t, MsgError)
	assert.Equal(t, SourceID(1), s.id)
	report := s.msg.Args.(audioerr.Report)
	assert.Equal(t, "FileAccessError", report.Name)

	// the child is torn down, the parent stays
	require.Eventually(t, func() bool { return h.arena.Len() == 1 }, waitFor, tick)
	assert.False(t, a.Info().ReplacementPending)
	assert.NotEqual(t, Destroyed, a.State())
	got, ok := h.arena.Lookup(1)
	require.True(t, ok)
	assert.Same(t, a, got)

	a.Destroy()
	h.leakCheck(t)
}

func TestNewerReplacementSupersedesOlder(t *testing.T) {
	h := newTestHost(t)
	g := h.gate()
	a := h.load(t, 1, "track.mp3")

	// the first child hangs in its load until the second request arrived
	g.block()
	a.NewMessage(LoadReplacement{RequestID: 1, FileRef: fileview.Reference{Path: "first.mp3"}, Count: 1})
	g.waitEntered(t)
	require.True(t, a.Info().ReplacementPending)

	a.NewMessage(LoadReplacement{RequestID: 2, FileRef: fileview.Reference{Path: "second.mp3"}, Count: 1})
	g.unblock()

	args := filledBuffer(t, h.next(t))
	assert.Equal(t, FillReplacement, args.BufferFillType)
	assert.Equal(t, int64(2), args.RequestID)
	h.expect(t, MsgIdle)
	h.none(t)

	require.Eventually(t, func() bool { return h.arena.Len() == 1 }, waitFor, tick)
	child, ok := h.arena.Lookup(1)
	require.True(t, ok)
	child.Destroy()
	require.Eventually(t, func() bool { return h.arena.Len() == 0 }, waitFor, tick)
	assert.Equal(t, 0, h.module.LiveContexts())
	assert.Equal(t, 0, h.pool.Live())
}

func TestDestroyTearsDownReplacement(t *testing.T) {
	h := newTestHost(t)
	g := h.gate()
	a := h.load(t, 1, "track.mp3")

	g.block()
	a.NewMessage(LoadReplacement{RequestID: 1, FileRef: fileview.Reference{Path: "next.mp3"}, Count: 1})
	g.waitEntered(t)

	a.Destroy()
	g.unblock()

	h.none(t)
	require.Eventually(t, func() bool { return h.arena.Len() == 0 }, waitFor, tick)
	assert.Equal(t, 0, h.module.LiveContexts())
	assert.Equal(t, 0, h.pool.Live())
}

func TestMessageFromStaleReplacementIsDropped(t *testing.T) {
	h := newTestHost(t)
	a := h.load(t, 1, "track.mp3")
	stale := newActor(h, h.arena, a.Index())
	events := stale.Listen(TopicDestroy)

	a.NewMessage(messageFromReplacement{
		sender: stale.Index(),
		msg:    Message{Name: MsgIdle, Args: IdleArgs{}},
	})

	_, ok := recv(t, events)
	assert.True(t, ok)
	assert.Equal(t, Destroyed, stale.State())
	assert.NotEqual(t, Destroyed, a.State())
	h.none(t)

	a.Destroy()
	h.leakCheck(t)
}

func TestBuffersSentBeforePromotionAreDelivered(t *testing.T) {
	h := newTestHost(t)
	h.write(t, "next.mp3", demuxtest.CBR(400))
	a := h.load(t, 1, "track.mp3")
	release := h.holdSends()

	start := a.Info().Position
	a.NewMessage(FillBuffers{Count: 2})
	require.Eventually(t, func() bool {
		info := a.Info()
		return info.State == Idle && info.Position > start
	}, waitFor, tick)

	a.NewMessage(LoadReplacement{
		RequestID:      9,
		FileRef:        fileview.Reference{Path: "next.mp3"},
		Count:          1,
		GaplessPreload: true,
	})
	// the replacement has been taken over while the buffers of the
	// parent are still on their way
	require.Eventually(t, func() bool {
		return a.Pending() == 0 && !a.Info().ReplacementPending
	}, waitFor, tick)
	release()

	for i := 0; i < 2; i++ {
		s := h.next(t)
		assert.Equal(t, SourceID(1), s.id)
		args := filledBuffer(t, s)
		assert.Equal(t, FillNormal, args.BufferFillType)
		assert.InDelta(t, float64(i), args.Descriptor.StartTime, 1e-9)
	}
	h.expect(t, MsgIdle)

	args := filledBuffer(t, h.next(t))
	assert.Equal(t, FillReplacement, args.BufferFillType)
	assert.Equal(t, int64(9), args.RequestID)
	h.expect(t, MsgIdle)
	h.none(t)

	require.Eventually(t, func() bool { return a.State() == Destroyed }, waitFor, tick)
	child, ok := h.arena.Lookup(1)
	require.True(t, ok)
	child.Destroy()
	h.leakCheck(t)
}
