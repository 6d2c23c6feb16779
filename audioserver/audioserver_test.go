package audioserver

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asim/go-micro/v3/broker"
	"github.com/asim/go-micro/v3/registry"
	"github.com/dh1tw/gaplessAudio/backend"
	"github.com/dh1tw/gaplessAudio/demuxer/demuxtest"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/native/nativetest"
	"github.com/dh1tw/gaplessAudio/source"
	"github.com/dh1tw/gaplessAudio/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopBroker delivers published messages synchronously to the
// subscribers of the topic.
type loopBroker struct {
	sync.Mutex
	connected bool
	subs      map[string][]*loopSub
}

type loopSub struct {
	b       *loopBroker
	topic   string
	handler broker.Handler
}

type loopEvent struct {
	topic string
	msg   *broker.Message
}

func newLoopBroker() *loopBroker {
	return &loopBroker{subs: make(map[string][]*loopSub)}
}

func (b *loopBroker) Connect() error {
	b.Lock()
	defer b.Unlock()
	b.connected = true
	return nil
}

func (b *loopBroker) Disconnect() error {
	b.Lock()
	defer b.Unlock()
	b.connected = false
	return nil
}

func (b *loopBroker) Publish(topic string, m *broker.Message, opts ...broker.PublishOption) error {
	b.Lock()
	subs := append([]*loopSub(nil), b.subs[topic]...)
	b.Unlock()
	for _, s := range subs {
		s.handler(&loopEvent{topic: topic, msg: m})
	}
	return nil
}

func (b *loopBroker) Subscribe(topic string, h broker.Handler, opts ...broker.SubscribeOption) (broker.Subscriber, error) {
	b.Lock()
	defer b.Unlock()
	s := &loopSub{b: b, topic: topic, handler: h}
	b.subs[topic] = append(b.subs[topic], s)
	return s, nil
}

func (s *loopSub) Options() broker.SubscribeOptions { return broker.SubscribeOptions{} }
func (s *loopSub) Topic() string                    { return s.topic }
func (s *loopSub) Unsubscribe() error {
	s.b.Lock()
	defer s.b.Unlock()
	subs := s.b.subs[s.topic]
	for i, o := range subs {
		if o == s {
			s.b.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func (e *loopEvent) Topic() string            { return e.topic }
func (e *loopEvent) Message() *broker.Message { return e.msg }
func (e *loopEvent) Ack() error               { return nil }
func (e *loopEvent) Error() error             { return nil }

type staticRegistry []*registry.Service

func (r staticRegistry) ListServices(opts ...registry.ListOption) ([]*registry.Service, error) {
	return r, nil
}

func newBackend(t *testing.T) *backend.Backend {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "track.mp3"), demuxtest.CBR(400), 0644))

	m := nativetest.NewScriptedModule(44100, 2)
	m.Next = nativetest.FramePerCall(demuxtest.FrameSize128, demuxtest.SamplesPerFrame)

	b, err := backend.New(backend.LibraryRoot(root), backend.Module(m))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func listen(t *testing.T, br *loopBroker, topic string) <-chan *broker.Message {
	ch := make(chan *broker.Message, 16)
	_, err := br.Subscribe(topic, func(ev broker.Event) error {
		ch <- ev.Message()
		return nil
	})
	require.NoError(t, err)
	return ch
}

func next(t *testing.T, ch <-chan *broker.Message) (*broker.Message, wire.Envelope) {
	t.Helper()
	select {
	case m := <-ch:
		env, err := wire.DecodeOutbound(m.Body)
		require.NoError(t, err)
		return m, env
	case <-time.After(5 * time.Second):
		require.FailNow(t, "nothing published")
	}
	return nil, wire.Envelope{}
}

func TestCommandsAndOutput(t *testing.T) {
	b := newBackend(t)
	br := newLoopBroker()

	as, err := NewAudioServer(b, ServiceName("gapless.test"), WithBroker(br), WithRegistry(staticRegistry{}))
	require.NoError(t, err)
	defer as.Close()
	assert.Equal(t, "gapless.test.cmd", as.CmdTopic())
	out := listen(t, br, as.OutTopic())

	cmd, err := wire.EncodeCommand(2, source.LoadInitialAudioData{RequestID: 1, FileRef: fileview.Reference{Path: "track.mp3"}})
	require.NoError(t, err)
	require.NoError(t, br.Publish(as.CmdTopic(), &broker.Message{Body: cmd}))

	m, env := next(t, out)
	assert.Equal(t, source.MsgInitialAudioDataLoaded, env.Type)
	assert.Equal(t, source.SourceID(2), env.ID)
	assert.Equal(t, source.MsgInitialAudioDataLoaded, m.Header["type"])
	assert.Equal(t, "2", m.Header["id"])

	cmd, err = wire.EncodeCommand(2, source.FillBuffers{Count: 1})
	require.NoError(t, err)
	require.NoError(t, br.Publish(as.CmdTopic(), &broker.Message{Body: cmd}))

	_, env = next(t, out)
	require.Equal(t, source.MsgBufferFilled, env.Type)
	require.Len(t, env.ChannelData, 2)
	assert.Len(t, env.ChannelData[1], 44100)
	_, env = next(t, out)
	assert.Equal(t, source.MsgIdle, env.Type)
}

func TestInvalidCommandIsAnswered(t *testing.T) {
	b := newBackend(t)
	br := newLoopBroker()

	as, err := NewAudioServer(b, ServiceName("gapless.test"), WithBroker(br))
	require.NoError(t, err)
	defer as.Close()
	out := listen(t, br, as.OutTopic())

	require.NoError(t, br.Publish(as.CmdTopic(), &broker.Message{Body: []byte(`{"type":"rewind","id":3}`)}))
	_, env := next(t, out)
	assert.Equal(t, source.MsgError, env.Type)
	assert.Equal(t, source.SourceID(3), env.ID)
}

func TestDuplicateServiceIsRefused(t *testing.T) {
	b := newBackend(t)
	reg := staticRegistry{{Name: "gapless.test"}}

	_, err := NewAudioServer(b, ServiceName("gapless.test"), WithBroker(newLoopBroker()), WithRegistry(reg))
	assert.EqualError(t, err, "service gapless.test already exists")

	_, err = NewAudioServer(b, ServiceName("gapless test"), WithBroker(newLoopBroker()))
	assert.Error(t, err)
	_, err = NewAudioServer(b, WithBroker(newLoopBroker()))
	assert.Error(t, err)
	_, err = NewAudioServer(b, ServiceName("gapless.test"))
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	b := newBackend(t)
	br := newLoopBroker()

	as, err := NewAudioServer(b, ServiceName("gapless.test"), WithBroker(br))
	require.NoError(t, err)
	require.NoError(t, as.Close())
	require.NoError(t, as.Close())

	br.Lock()
	defer br.Unlock()
	assert.False(t, br.connected)
	assert.Empty(t, br.subs[as.CmdTopic()])
}
