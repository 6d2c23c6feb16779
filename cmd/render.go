package cmd

import (
	"context"
	"time"

	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/audio/sinks/wavWriter"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/events"
	"github.com/dh1tw/gaplessAudio/router"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render <file>",
	Short: "Decode audio files into a wav file",
	Long: `Decode audio files into a 16 bit wav file

The files given with --next are appended gaplessly. The wav file uses the
sampling rate and channels of the first file unless they are set
explicitly.
`,
	Args: cobra.ExactArgs(1),
	Run:  render,
}

func init() {
	RootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringP("output", "o", "out.wav", "path of the wav file")
	renderCmd.Flags().StringSliceP("next", "n", nil, "files appended gaplessly after the first one")
	renderCmd.Flags().Float64("start", 0, "start position as fraction of the duration of the first file")
	renderCmd.Flags().Float64("samplerate", 0, "sampling rate of the wav file (default: of the first file)")
	renderCmd.Flags().Int("channels", 0, "channels of the wav file (default: of the first file)")
}

func render(cmd *cobra.Command, args []string) {

	if err := readConfig(); err != nil {
		exit(err)
	}

	output, _ := cmd.Flags().GetString("output")
	next, _ := cmd.Flags().GetStringSlice("next")
	start, _ := cmd.Flags().GetFloat64("start")
	samplerate, _ := cmd.Flags().GetFloat64("samplerate")
	channels, _ := cmd.Flags().GetInt("channels")

	r, err := router.NewRouter(router.Logger(log.Logger))
	if err != nil {
		exit(err)
	}

	evPS := pubsub.New(100)
	defer evPS.Shutdown()

	b, err := newBackend(evPS)
	if err != nil {
		exit(err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	osExitCh := evPS.Sub(events.OsExit)
	go events.WatchSystemEvents(evPS)
	go func() {
		select {
		case <-osExitCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var w *wavWriter.WavWriter

	// the wav file is created once the format of the first file is known
	onLoad := func(data *demuxer.Data) error {
		sr, chs := samplerate, channels
		if sr == 0 {
			sr = float64(data.SampleRate)
		}
		if chs == 0 {
			chs = data.Channels
		}
		var err error
		w, err = wavWriter.NewWavWriter(output,
			wavWriter.Samplerate(sr),
			wavWriter.Channels(chs),
		)
		if err != nil {
			return err
		}
		r.AddSink("wav", w, true)
		return nil
	}

	d := &driver{
		backend:  b,
		router:   r,
		log:      log.Logger,
		preload:  viper.GetInt("audio.preload-buffer-count"),
		progress: start,
		onLoad:   onLoad,
	}

	begin := time.Now()
	runErr := d.run(ctx, append([]string{args[0]}, next...))

	if err := r.Close(); err != nil {
		log.Error().Err(err).Msg("unable to close wav file")
	}
	if runErr != nil {
		exit(runErr)
	}

	log.Info().
		Str("file", output).
		Int("frames", w.Frames()).
		Dur("took", time.Since(begin)).
		Msg("rendered")
}
