package main

import (
	"os"

	"github.com/dh1tw/gaplessAudio/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
