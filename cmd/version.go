package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var version string
var commitHash string
var buildDate string

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of gaplessAudio",
	Long:  `All software has versions. This is gaplessAudio's.`,
	Run: func(cmd *cobra.Command, args []string) {
		printGaplessAudioVersion()
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}

func printGaplessAudioVersion() {
	if version == "" {
		version = "dev"
	}
	fmt.Printf("gaplessAudio Version: %s, %s/%s, BuildDate: %s, Commit: %s\n",
		version, runtime.GOOS, runtime.GOARCH, buildDate, commitHash)
}
