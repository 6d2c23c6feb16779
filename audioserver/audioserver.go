// Package audioserver exposes a backend as a service on a NATS broker.
// Commands are received on <service>.cmd as JSON; every outbound message
// is published as a binary envelope on <service>.out.
package audioserver

import (
	"strconv"
	"strings"
	"sync"

	"github.com/asim/go-micro/v3/broker"
	"github.com/asim/go-micro/v3/registry"
	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/events"
	"github.com/dh1tw/gaplessAudio/source"
	"github.com/dh1tw/gaplessAudio/wire"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Backend is the part of a backend.Backend the AudioServer needs.
type Backend interface {
	Post(id source.SourceID, cmd source.Command)
	Events() *pubsub.PubSub
}

// Broker is the part of a broker.Broker the AudioServer uses.
type Broker interface {
	Connect() error
	Disconnect() error
	Publish(topic string, m *broker.Message, opts ...broker.PublishOption) error
	Subscribe(topic string, h broker.Handler, opts ...broker.SubscribeOption) (broker.Subscriber, error)
}

// Registry lists the services known to the broker network.
type Registry interface {
	ListServices(opts ...registry.ListOption) ([]*registry.Service, error)
}

// AudioServer forwards commands from the broker to the backend and the
// outbound messages of the backend to the broker. AudioServer is also a
// convenience object which contains all the long living variables &
// objects of the service.
type AudioServer struct {
	sync.RWMutex
	options  Options
	log      zerolog.Logger
	name     string
	backend  Backend
	broker   Broker
	cmdTopic string
	outTopic string
	cmdSub   broker.Subscriber
	quit     chan struct{}
	done     chan struct{}
}

// Option is the type for a function option
type Option func(*Options)

// Options contains the parameters for initializing an AudioServer.
type Options struct {
	ServiceName string
	Broker      Broker
	Registry    Registry
	Logger      zerolog.Logger
}

// ServiceName sets the name of the service. It is the prefix of the
// command and output topics.
func ServiceName(name string) Option {
	return func(args *Options) {
		args.ServiceName = name
	}
}

// WithBroker sets the broker the AudioServer communicates through.
func WithBroker(b Broker) Option {
	return func(args *Options) {
		args.Broker = b
	}
}

// WithRegistry sets the registry which is checked for services with the
// same name.
func WithRegistry(r Registry) Option {
	return func(args *Options) {
		args.Registry = r
	}
}

// Logger sets the logger of the AudioServer.
func Logger(l zerolog.Logger) Option {
	return func(args *Options) {
		args.Logger = l
	}
}

// NewAudioServer is the constructor method of an AudioServer. It refuses
// to start when a service with the same name is already registered.
func NewAudioServer(b Backend, opts ...Option) (*AudioServer, error) {

	as := &AudioServer{
		options: Options{
			Logger: zerolog.Nop(),
		},
		backend: b,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	for _, option := range opts {
		option(&as.options)
	}

	if as.options.Broker == nil {
		return nil, errors.New("broker missing")
	}
	if len(as.options.ServiceName) == 0 {
		return nil, errors.New("service name missing")
	}
	if strings.ContainsAny(as.options.ServiceName, " \n\r*>") {
		return nil, errors.Errorf("forbidden character in service name '%s'", as.options.ServiceName)
	}

	as.name = as.options.ServiceName
	as.broker = as.options.Broker
	as.cmdTopic = as.name + ".cmd"
	as.outTopic = as.name + ".out"
	as.log = as.options.Logger.With().
		Str("component", "audioserver").
		Str("service", as.name).
		Logger()

	// before we announce this service, we have to ensure that no other
	// service with the same name exists.
	if as.options.Registry != nil {
		services, err := as.options.Registry.ListServices()
		if err != nil {
			return nil, errors.Wrap(err, "list services")
		}
		for _, service := range services {
			if service.Name == as.name {
				return nil, errors.Errorf("service %s already exists", service.Name)
			}
		}
	}

	// connect the broker
	if err := as.broker.Connect(); err != nil {
		return nil, errors.Wrap(err, "broker")
	}

	// subscribe before forwarding so that no reply can overtake its
	// command
	outCh := b.Events().Sub(events.SourceMessage)

	sub, err := as.broker.Subscribe(as.cmdTopic, as.enqueueFromWire)
	if err != nil {
		go b.Events().Unsub(outCh, events.SourceMessage)
		return nil, errors.Wrap(err, "subscribe")
	}
	as.cmdSub = sub

	go as.forward(outCh)

	as.log.Info().Str("commands", as.cmdTopic).Str("output", as.outTopic).
		Msg("audio server started")

	return as, nil
}

// CmdTopic returns the topic the AudioServer receives commands on.
func (as *AudioServer) CmdTopic() string {
	return as.cmdTopic
}

// OutTopic returns the topic the AudioServer publishes on.
func (as *AudioServer) OutTopic() string {
	return as.outTopic
}

func (as *AudioServer) enqueueFromWire(ev broker.Event) error {
	msg := ev.Message()
	if msg == nil {
		return nil
	}

	id, cmd, err := wire.DecodeCommand(msg.Body)
	if err != nil {
		as.log.Warn().Err(err).Msg("invalid command")
		as.publish(id, source.Message{Name: source.MsgError, Args: audioerr.ToReport(err)})
		return nil
	}
	as.backend.Post(id, cmd)
	return nil
}

func (as *AudioServer) forward(outCh chan interface{}) {
	defer close(as.done)

	ps := as.backend.Events()
	defer func() {
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
			as.publish(out.ID, out.Message)
		case <-as.quit:
			return
		}
	}
}

// publish sends m as a binary envelope to the output topic.
func (as *AudioServer) publish(id source.SourceID, m source.Message) {
	data, err := wire.Encode(id, m)
	if err != nil {
		as.log.Error().Err(err).Str("type", m.Name).Msg("unable to encode message")
		return
	}

	msg := &broker.Message{
		Header: map[string]string{
			"type": m.Name,
			"id":   strconv.FormatInt(int64(id), 10),
		},
		Body: data,
	}

	if err := as.broker.Publish(as.outTopic, msg); err != nil {
		as.log.Error().Err(err).Str("type", m.Name).Msg("unable to publish message")
	}
}

// Close unsubscribes from the command topic, stops forwarding and
// disconnects the broker.
func (as *AudioServer) Close() error {
	as.Lock()
	select {
	case <-as.quit:
		as.Unlock()
		return nil
	default:
	}
	close(as.quit)
	as.Unlock()

	var err error
	if as.cmdSub != nil {
		err = as.cmdSub.Unsubscribe()
	}
	<-as.done

	if derr := as.broker.Disconnect(); derr != nil && err == nil {
		err = derr
	}
	as.log.Info().Msg("audio server stopped")
	return err
}
