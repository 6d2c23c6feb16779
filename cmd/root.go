package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/backend"
	"github.com/dh1tw/gaplessAudio/source"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "gaplessAudio",
	Short: "gapless audio decoding engine",
	Long: `gaplessAudio decodes audio files into sample accurate buffers.

Every track is handled by a source which decodes buffers on request, seeks
sample accurately and preloads the next track so that it can take over
without a gap. Sources are driven through a websocket, a NATS broker or
locally through the play and render commands.
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gaplessAudio.yaml or $HOME/gaplessAudio.yaml)")
	RootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().Bool("log-pretty", true, "human readable console logging")
	RootCmd.PersistentFlags().StringP("library-root", "l", ".", "directory file references are resolved against")
	RootCmd.PersistentFlags().Duration("buffer-time", time.Second, "duration of a decoded buffer")
	RootCmd.PersistentFlags().Bool("loudness-normalization", true, "normalize the loudness of the tracks")
	RootCmd.PersistentFlags().Bool("silence-trimming", true, "flag leading and trailing silence")
	RootCmd.PersistentFlags().Int("preload-buffer-count", 2, "buffers decoded by a preloading replacement")
	RootCmd.PersistentFlags().Int("heap-limit", 64, "size limit of the native heap in MiB")
	RootCmd.PersistentFlags().String("store-file", "", "file in which learned track information is kept")

	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.pretty", RootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("library.root", RootCmd.PersistentFlags().Lookup("library-root"))
	viper.BindPFlag("audio.buffer-time", RootCmd.PersistentFlags().Lookup("buffer-time"))
	viper.BindPFlag("audio.loudness-normalization", RootCmd.PersistentFlags().Lookup("loudness-normalization"))
	viper.BindPFlag("audio.silence-trimming", RootCmd.PersistentFlags().Lookup("silence-trimming"))
	viper.BindPFlag("audio.preload-buffer-count", RootCmd.PersistentFlags().Lookup("preload-buffer-count"))
	viper.BindPFlag("native.heap-limit", RootCmd.PersistentFlags().Lookup("heap-limit"))
	viper.BindPFlag("metadata.store-file", RootCmd.PersistentFlags().Lookup("store-file"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" { // enable ability to specify config file via flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("gaplessAudio") // name of config file (without extension)
	}

	viper.SetEnvPrefix("GAPLESSAUDIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// readConfig reads the config file, if any, and validates the
// configuration.
func readConfig() error {
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
		return fmt.Errorf("error parsing config file %v: %v", viper.ConfigFileUsed(), err)
	}

	setupLogger()

	// check if values from config file / pflags are valid
	return checkParameterValues()
}

// setupLogger configures the global logger from log.level and log.pretty.
func setupLogger() {
	level, err := zerolog.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if viper.GetBool("log.pretty") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// newBackend returns a backend configured from viper which publishes on
// evPS.
func newBackend(evPS *pubsub.PubSub) (*backend.Backend, error) {
	root, err := filepath.Abs(viper.GetString("library.root"))
	if err != nil {
		return nil, err
	}

	return backend.New(
		backend.Logger(log.Logger),
		backend.LibraryRoot(root),
		backend.Events(evPS),
		backend.HeapLimit(viper.GetInt("native.heap-limit")*1024*1024),
		backend.StoreFile(viper.GetString("metadata.store-file")),
		backend.Preferences(source.Preferences{
			BufferTime:            viper.GetDuration("audio.buffer-time"),
			LoudnessNormalization: viper.GetBool("audio.loudness-normalization"),
			SilenceTrimming:       viper.GetBool("audio.silence-trimming"),
		}),
	)
}

// exit prints the error and terminates the application.
func exit(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
