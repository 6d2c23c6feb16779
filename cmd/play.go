package cmd

import (
	"context"
	"os"
	"time"

	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/audio/sinks/scWriter"
	"github.com/dh1tw/gaplessAudio/events"
	"github.com/dh1tw/gaplessAudio/router"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Play audio files on a local audio device",
	Long: `Play audio files on a local audio device

The files are resolved against the library root. Every file given with
--next is preloaded while the previous one ends and continues it without
a gap.

While playing, "+" and "-" followed by enter change the volume and "q"
quits.
`,
	Args: cobra.ExactArgs(1),
	Run:  play,
}

func init() {
	RootCmd.AddCommand(playCmd)
	playCmd.Flags().StringSliceP("next", "n", nil, "files played gaplessly after the first one")
	playCmd.Flags().Float64("start", 0, "start position as fraction of the duration of the first file")
	playCmd.Flags().StringP("output-device-name", "o", "default", "output device")
	playCmd.Flags().String("output-device-hostapi", "default", "host api of the output device")
	playCmd.Flags().Float64("output-device-samplerate", 48000, "output device sampling rate")
	playCmd.Flags().Duration("output-device-latency", time.Millisecond*10, "output latency")
	playCmd.Flags().Int("output-device-channels", 2, "output channels")
	playCmd.Flags().Int("rx-buffer-length", 10, "buffer length of the output device in frames of 10ms")
	playCmd.Flags().Float32P("volume", "v", 0.7, "initial volume [0...1]")
}

func play(cmd *cobra.Command, args []string) {

	viper.BindPFlag("output-device.device-name", cmd.Flags().Lookup("output-device-name"))
	viper.BindPFlag("output-device.hostapi", cmd.Flags().Lookup("output-device-hostapi"))
	viper.BindPFlag("output-device.samplerate", cmd.Flags().Lookup("output-device-samplerate"))
	viper.BindPFlag("output-device.latency", cmd.Flags().Lookup("output-device-latency"))
	viper.BindPFlag("output-device.channels", cmd.Flags().Lookup("output-device-channels"))
	viper.BindPFlag("audio.rx-buffer-length", cmd.Flags().Lookup("rx-buffer-length"))

	if err := readConfig(); err != nil {
		exit(err)
	}
	if err := checkOutputParameterValues(); err != nil {
		exit(err)
	}

	next, _ := cmd.Flags().GetStringSlice("next")
	start, _ := cmd.Flags().GetFloat64("start")
	volume, _ := cmd.Flags().GetFloat32("volume")

	// viper settings need to be copied in local variables
	// since viper lookups allocate of each lookup a copy
	// and are quite unperformant
	oSamplerate := viper.GetFloat64("output-device.samplerate")
	oLatency := viper.GetDuration("output-device.latency")

	portaudio.Initialize()
	defer portaudio.Terminate()

	speaker, err := scWriter.NewScWriter(
		scWriter.DeviceName(viper.GetString("output-device.device-name")),
		scWriter.HostAPI(viper.GetString("output-device.hostapi")),
		scWriter.Channels(viper.GetInt("output-device.channels")),
		scWriter.Samplerate(oSamplerate),
		scWriter.Latency(oLatency),
		scWriter.RingBufferSize(viper.GetInt("audio.rx-buffer-length")),
		scWriter.FramesPerBuffer(int(oSamplerate/100)),
		scWriter.Logger(log.Logger),
	)
	if err != nil {
		exit(err)
	}
	speaker.SetVolume(volume)

	r, err := router.NewRouter(router.Logger(log.Logger))
	if err != nil {
		exit(err)
	}
	r.AddSink("speaker", speaker, true)
	defer r.Close()

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
	volumeCh := evPS.Sub(events.SetVolume)
	go events.WatchSystemEvents(evPS)
	go events.CaptureKeyboard(os.Stdin, evPS, volume)

	go func() {
		for {
			select {
			case <-osExitCh:
				cancel()
				return
			case ev := <-volumeCh:
				speaker.SetVolume(ev.(float32))
				log.Info().Float32("volume", speaker.Volume()).Msg("volume changed")
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := speaker.Start(); err != nil {
		exit(err)
	}

	d := &driver{
		backend:  b,
		router:   r,
		log:      log.Logger,
		preload:  viper.GetInt("audio.preload-buffer-count"),
		progress: start,
	}

	if err := d.run(ctx, append([]string{args[0]}, next...)); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("playback failed")
		return
	}

	// let the speaker play what has been queued
	if err := speaker.Wait(ctx); err == nil {
		time.Sleep(oLatency)
	}
}
