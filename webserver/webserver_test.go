package webserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dh1tw/gaplessAudio/backend"
	"github.com/dh1tw/gaplessAudio/demuxer/demuxtest"
	"github.com/dh1tw/gaplessAudio/native/nativetest"
	"github.com/dh1tw/gaplessAudio/source"
	"github.com/dh1tw/gaplessAudio/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	backend *backend.Backend
	web     *WebServer
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "track.mp3"), demuxtest.CBR(400), 0644))

	m := nativetest.NewScriptedModule(44100, 2)
	m.Next = nativetest.FramePerCall(demuxtest.FrameSize128, demuxtest.SamplesPerFrame)

	b, err := backend.New(backend.LibraryRoot(root), backend.Module(m))
	require.NoError(t, err)

	web := New(b)
	f := &fixture{backend: b, web: web, server: httptest.NewServer(web.Handler())}
	t.Cleanup(func() {
		f.server.Close()
		web.Close()
		b.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) get(t *testing.T, path string, v interface{}) int {
	res, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	if v != nil && res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}
	return res.StatusCode
}

func (f *fixture) put(t *testing.T, path, body string) int {
	req, err := http.NewRequest("PUT", f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	return res.StatusCode
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	env, err := wire.DecodeOutbound(data)
	require.NoError(t, err)
	return env
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketCommands(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"loadInitialAudioData","id":1,"args":{"requestId":5,"fileReference":{"path":"track.mp3"}}}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, source.MsgInitialAudioDataLoaded, env.Type)
	assert.Equal(t, source.SourceID(1), env.ID)
	assert.Equal(t, float64(5), env.Args["requestId"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"fillBuffers","id":1,"args":{"count":1}}`)))

	env = readEnvelope(t, conn)
	require.Equal(t, source.MsgBufferFilled, env.Type)
	require.Len(t, env.ChannelData, 2)
	assert.Len(t, env.ChannelData[0], 44100)
	assert.Equal(t, source.MsgIdle, readEnvelope(t, conn).Type)

	var sources []backend.SourceInfo
	require.Equal(t, http.StatusOK, f.get(t, "/api/sources", &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, source.SourceID(1), sources[0].ID)
	assert.Equal(t, "mp3", sources[0].Codec)

	var info backend.SourceInfo
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1.0/source/1", &info))
	assert.Equal(t, source.Idle, info.State)
	assert.Equal(t, "track.mp3", info.FileRef.Path)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1.0/source/2", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1.0/source/one", nil))
}

func TestInvalidCommandIsAnsweredToSender(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")
	other := f.dial(t, "?format=json")

	// the reply proves that the hub knows the client
	require.NoError(t, other.WriteMessage(websocket.TextMessage, []byte(`{}`)))
	readJSON(t, other)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"play","id":4}`)))
	env := readEnvelope(t, conn)
	assert.Equal(t, source.MsgError, env.Type)
	assert.Equal(t, source.SourceID(4), env.ID)
	assert.Equal(t, `unknown command type "play"`, env.Args["message"])

	// errors of the backend reach every client
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"seek","id":4,"args":{"time":1}}`)))
	assert.Equal(t, source.MsgError, readEnvelope(t, conn).Type)

	msg := readJSON(t, other)
	assert.Equal(t, "_error", msg["type"])
	assert.Equal(t, "unknown source 4", msg["args"].(map[string]interface{})["message"])
}

func TestPreferences(t *testing.T) {
	f := newFixture(t)

	var p PreferencesMsg
	require.Equal(t, http.StatusOK, f.get(t, "/api/preferences", &p))
	require.NotNil(t, p.BufferTime)
	assert.Equal(t, int64(1000), *p.BufferTime)
	assert.True(t, *p.LoudnessNormalization)

	assert.Equal(t, http.StatusOK, f.put(t, "/api/v1.0/preferences", `{"bufferTime":250,"silenceTrimming":false}`))
	assert.Equal(t, source.Preferences{
		BufferTime:            250 * time.Millisecond,
		LoudnessNormalization: true,
		SilenceTrimming:       false,
	}, f.backend.Preferences())

	assert.Equal(t, http.StatusBadRequest, f.put(t, "/api/preferences", `{"bufferTime":1}`))
	assert.Equal(t, http.StatusBadRequest, f.put(t, "/api/preferences", `bufferTime`))
	assert.Equal(t, 250*time.Millisecond, f.backend.Preferences().BufferTime)
}

func TestApiRedirect(t *testing.T) {
	f := newFixture(t)
	var sources []backend.SourceInfo
	assert.Equal(t, http.StatusOK, f.get(t, "/api/sources", &sources))
	assert.Empty(t, sources)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v2.0/sources", nil))
}
