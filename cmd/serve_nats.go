package cmd

import (
	"context"
	"fmt"
	"time"

	natsBroker "github.com/asim/go-micro/plugins/broker/nats/v3"
	natsReg "github.com/asim/go-micro/plugins/registry/nats/v3"
	natsTr "github.com/asim/go-micro/plugins/transport/nats/v3"
	micro "github.com/asim/go-micro/v3"
	"github.com/asim/go-micro/v3/registry"
	"github.com/asim/go-micro/v3/server"
	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/audioserver"
	"github.com/dh1tw/gaplessAudio/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// natsServeCmd represents the nats server command
var natsServeCmd = &cobra.Command{
	Use:   "nats",
	Short: "NATS Server",
	Long: `NATS Server for audio sources

The server registers the service gapless.<server-name>.audio on a NATS
broker. Commands are received as JSON on <service>.cmd and every message of
the sources is published as a binary envelope on <service>.out. You need a
NATS broker up and running to which the server can connect to.
`,
	Run: natsServer,
}

func init() {
	serveCmd.AddCommand(natsServeCmd)
	natsServeCmd.Flags().StringP("broker-url", "u", "localhost", "Broker URL")
	natsServeCmd.Flags().IntP("broker-port", "p", 4222, "Broker Port")
	natsServeCmd.Flags().StringP("password", "P", "", "NATS Password")
	natsServeCmd.Flags().StringP("username", "U", "", "NATS Username")
	natsServeCmd.Flags().StringP("server-name", "Y", "", "server name (e.g. 'livingroom')")
}

func natsServer(cmd *cobra.Command, args []string) {

	// bind the pflags to viper settings
	viper.BindPFlag("nats.broker-url", cmd.Flags().Lookup("broker-url"))
	viper.BindPFlag("nats.broker-port", cmd.Flags().Lookup("broker-port"))
	viper.BindPFlag("nats.password", cmd.Flags().Lookup("password"))
	viper.BindPFlag("nats.username", cmd.Flags().Lookup("username"))
	viper.BindPFlag("server.name", cmd.Flags().Lookup("server-name"))

	if err := readConfig(); err != nil {
		exit(err)
	}
	if err := checkNatsParameterValues(); err != nil {
		exit(err)
	}

	natsAddr := fmt.Sprintf("nats://%s:%v",
		viper.GetString("nats.broker-url"), viper.GetInt("nats.broker-port"))

	// start from default nats config and add the common options
	nopts := nats.GetDefaultOptions()
	nopts.Servers = []string{natsAddr}
	nopts.User = viper.GetString("nats.username")
	nopts.Password = viper.GetString("nats.password")

	regNatsOpts := nopts
	brNatsOpts := nopts
	trNatsOpts := nopts

	serviceName := fmt.Sprintf("gapless.%s.audio", viper.GetString("server.name"))

	// we want to set the nats.Options.Name so that we can distinguish
	// them when monitoring the nats server with nats-top
	regNatsOpts.Name = serviceName + ":registry"
	brNatsOpts.Name = serviceName + ":broker"
	trNatsOpts.Name = serviceName + ":transport"

	// create instances of our nats Registry, Broker and Transport
	reg := natsReg.NewRegistry(natsReg.Options(regNatsOpts), registry.Timeout(time.Second*2))
	br := natsBroker.NewBroker(natsBroker.Options(brNatsOpts))
	tr := natsTr.NewTransport(natsTr.Options(trNatsOpts))

	// the server.Address is used in nats as the topic on which the
	// server (transport) will be listening on
	svr := server.NewServer(
		server.Name(serviceName),
		server.Address(serviceName),
		server.RegisterInterval(time.Second*10),
		server.Transport(tr),
		server.Registry(reg),
		server.Broker(br),
	)

	// version is typically defined through a git tag and injected during
	// compilation; if not, just set it to "dev"
	if version == "" {
		version = "dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rs := micro.NewService(
		micro.Name(serviceName),
		micro.Broker(br),
		micro.Transport(tr),
		micro.Registry(reg),
		micro.Version(version),
		micro.Server(svr),
		micro.Context(ctx),
		micro.HandleSignal(false),
	)
	rs.Init()

	evPS := pubsub.New(100)
	defer evPS.Shutdown()

	b, err := newBackend(evPS)
	if err != nil {
		exit(err)
	}

	as, err := audioserver.NewAudioServer(b,
		audioserver.ServiceName(serviceName),
		audioserver.WithBroker(br),
		audioserver.WithRegistry(reg),
		audioserver.Logger(log.Logger),
	)
	if err != nil {
		b.Close()
		exit(err)
	}

	osExitCh := evPS.Sub(events.OsExit)
	go events.WatchSystemEvents(evPS)

	g, gctx := errgroup.WithContext(ctx)

	// run the micro service until the context is cancelled
	g.Go(rs.Run)

	g.Go(func() error {
		select {
		case <-osExitCh:
			log.Info().Msg("shutting down")
		case <-gctx.Done():
		}
		err := as.Close()
		cancel()
		return err
	})

	runErr := g.Wait()
	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("backend close")
	}
	if runErr != nil {
		exit(runErr)
	}
}
