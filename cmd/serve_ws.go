package cmd

import (
	"context"

	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/events"
	"github.com/dh1tw/gaplessAudio/webserver"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// wsServeCmd represents the websocket server command
var wsServeCmd = &cobra.Command{
	Use:   "ws",
	Short: "WebSocket Server",
	Long: `WebSocket Server for audio sources

Clients connect to /ws, send JSON commands and receive a binary envelope
for every message of their sources. Add ?format=json to the URL to receive
the message headers as JSON text instead.

The REST api below /api/v1.0 lists the sources and changes the live
preferences.
`,
	Run: wsServer,
}

func init() {
	serveCmd.AddCommand(wsServeCmd)
	wsServeCmd.Flags().StringP("host", "w", "127.0.0.1", "Host (use '0.0.0.0' to listen on all network adapters)")
	wsServeCmd.Flags().IntP("port", "k", 9090, "Port to access the websocket")
}

func wsServer(cmd *cobra.Command, args []string) {

	// bind the pflags to viper settings
	viper.BindPFlag("web.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("web.port", cmd.Flags().Lookup("port"))

	if err := readConfig(); err != nil {
		exit(err)
	}

	evPS := pubsub.New(100)
	defer evPS.Shutdown()

	b, err := newBackend(evPS)
	if err != nil {
		exit(err)
	}

	web := webserver.New(b,
		webserver.Host(viper.GetString("web.host")),
		webserver.Port(viper.GetInt("web.port")),
		webserver.Logger(log.Logger),
	)

	osExitCh := evPS.Sub(events.OsExit)
	go events.WatchSystemEvents(evPS)

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(web.ListenAndServe)

	g.Go(func() error {
		select {
		case <-osExitCh:
			log.Info().Msg("shutting down")
		case <-ctx.Done():
		}
		return web.Close()
	})

	runErr := g.Wait()
	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("backend close")
	}
	if runErr != nil {
		exit(runErr)
	}
}
