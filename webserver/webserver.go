// Package webserver exposes a backend to browsers and other clients over
// a websocket and a small REST api.
package webserver

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/backend"
	"github.com/dh1tw/gaplessAudio/events"
	"github.com/dh1tw/gaplessAudio/source"
	"github.com/dh1tw/gaplessAudio/wire"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Backend is the part of a backend.Backend the webserver needs.
type Backend interface {
	Post(id source.SourceID, cmd source.Command)
	Source(id source.SourceID) (backend.SourceInfo, bool)
	Sources() []backend.SourceInfo
	Preferences() source.Preferences
	SetPreferences(p source.Preferences) error
	Events() *pubsub.PubSub
}

// WebServer serves the websocket transport and the REST api of a
// backend.
type WebServer struct {
	sync.Mutex
	options        Options
	log            zerolog.Logger
	backend        Backend
	router         *mux.Router
	apiVersion     string
	apiMatch       *regexp.Regexp
	wsClients      map[*wsClient]bool
	addWsClient    chan *wsClient
	removeWsClient chan *wsClient
	unicast        chan clientMsg
	quit           chan struct{}
	done           chan struct{}
	server         *http.Server
}

// clientMsg is a message for a single websocket client.
type clientMsg struct {
	client *wsClient
	id     source.SourceID
	msg    source.Message
}

// Option is the type for a function option
type Option func(*Options)

// Options contains the parameters for initializing a WebServer.
type Options struct {
	Host       string
	Port       int
	Logger     zerolog.Logger
	SendBuffer int
}

// Host sets the address the webserver listens on.
func Host(h string) Option {
	return func(args *Options) {
		args.Host = h
	}
}

// Port sets the port the webserver listens on.
func Port(p int) Option {
	return func(args *Options) {
		args.Port = p
	}
}

// Logger sets the logger of the webserver.
func Logger(l zerolog.Logger) Option {
	return func(args *Options) {
		args.Logger = l
	}
}

// SendBuffer sets the number of messages queued for a websocket client.
// Clients which fall further behind are disconnected.
func SendBuffer(n int) Option {
	return func(args *Options) {
		args.SendBuffer = n
	}
}

// New returns a WebServer for b. The hub which forwards the outbound
// messages of b to the websocket clients runs until Close is called.
func New(b Backend, opts ...Option) *WebServer {
	web := &WebServer{
		options: Options{
			Host:       "127.0.0.1",
			Port:       9090,
			Logger:     zerolog.Nop(),
			SendBuffer: 256,
		},
		backend:        b,
		router:         mux.NewRouter().StrictSlash(true),
		apiVersion:     "1.0",
		apiMatch:       regexp.MustCompile(`api/v\d+\.\d+`),
		wsClients:      make(map[*wsClient]bool),
		addWsClient:    make(chan *wsClient),
		removeWsClient: make(chan *wsClient),
		unicast:        make(chan clientMsg),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, option := range opts {
		option(&web.options)
	}

	web.log = web.options.Logger.With().Str("component", "webserver").Logger()
	web.routes()

	go web.start()

	return web
}

// Handler returns the http.Handler serving the websocket and the REST
// api.
func (web *WebServer) Handler() http.Handler {
	return web.apiRedirectRouter(web.router)
}

// ListenAndServe serves on the configured address until Close is called.
func (web *WebServer) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", web.options.Host, web.options.Port)

	web.Lock()
	web.server = &http.Server{
		Addr:    addr,
		Handler: web.Handler(),
	}
	srv := web.server
	web.Unlock()

	web.log.Info().Str("address", addr).Msg("webserver listening")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close disconnects all websocket clients and stops the server.
func (web *WebServer) Close() error {
	web.Lock()
	select {
	case <-web.quit:
		web.Unlock()
		return nil
	default:
	}
	close(web.quit)
	srv := web.server
	web.Unlock()

	<-web.done

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// start is the hub. It owns the set of websocket clients and forwards
// every outbound message of the backend to them.
func (web *WebServer) start() {
	defer close(web.done)

	ps := web.backend.Events()
	outCh := ps.Sub(events.SourceMessage)

	defer func() {
		for c := range web.wsClients {
			delete(web.wsClients, c)
			close(c.send)
		}
		go ps.Unsub(outCh, events.SourceMessage)
		for range outCh {
		}
	}()

	for {
		select {
		case ev, ok := <-outCh:
			if !ok {
				return
			}
			out := ev.(events.Outbound)
			for c := range web.wsClients {
				web.sendToClient(c, out.ID, out.Message)
			}

		case m := <-web.unicast:
			if web.wsClients[m.client] {
				web.sendToClient(m.client, m.id, m.msg)
			}

		case c := <-web.addWsClient:
			web.wsClients[c] = true
			web.log.Info().Str("remote", c.remote).Int("clients", len(web.wsClients)).
				Msg("websocket connected")

		case c := <-web.removeWsClient:
			if _, ok := web.wsClients[c]; ok {
				delete(web.wsClients, c)
				close(c.send)
				web.log.Info().Str("remote", c.remote).Int("clients", len(web.wsClients)).
					Msg("websocket disconnected")
			}

		case <-web.quit:
			return
		}
	}
}

// sendToClient encodes m for c. A client whose send queue is full gets
// disconnected. Must be called from the hub.
func (web *WebServer) sendToClient(c *wsClient, id source.SourceID, m source.Message) {
	var data []byte
	var err error
	if c.json {
		data, err = wire.EncodeJSON(id, m)
	} else {
		data, err = wire.Encode(id, m)
	}
	if err != nil {
		web.log.Error().Err(err).Str("type", m.Name).Msg("unable to encode message")
		return
	}

	select {
	case c.send <- data:
	default:
		web.log.Warn().Str("remote", c.remote).Msg("websocket client too slow, disconnecting")
		delete(web.wsClients, c)
		close(c.send)
	}
}

type wsClient struct {
	ws     *websocket.Conn
	remote string
	json   bool
	send   chan []byte
	web    *WebServer
}

func (c *wsClient) write() {
	defer c.ws.Close()

	msgType := websocket.BinaryMessage
	if c.json {
		msgType = websocket.TextMessage
	}

	for msg := range c.send {
		if err := c.ws.WriteMessage(msgType, msg); err != nil {
			c.web.log.Debug().Err(err).Str("remote", c.remote).Msg("websocket write failed")
			c.remove()
			for range c.send {
			}
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *wsClient) read() {
	defer func() {
		c.remove()
		c.ws.Close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		id, cmd, err := wire.DecodeCommand(data)
		if err != nil {
			c.web.log.Warn().Err(err).Str("remote", c.remote).Msg("invalid command")
			c.reply(id, err)
			continue
		}
		c.web.backend.Post(id, cmd)
	}
}

func (c *wsClient) remove() {
	select {
	case c.web.removeWsClient <- c:
	case <-c.web.quit:
	}
}

// reply sends an _error for err to the client only.
func (c *wsClient) reply(id source.SourceID, err error) {
	m := clientMsg{
		client: c,
		id:     id,
		msg:    source.Message{Name: source.MsgError, Args: audioerr.ToReport(err)},
	}
	select {
	case c.web.unicast <- m:
	case <-c.web.quit:
	}
}
