// Copyright © 2016 Tobias Wellnitz, DH1TW <Tobias.Wellnitz@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"os"
	"text/template"

	"github.com/dh1tw/gaplessAudio/audio/sinks/scWriter"
	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"
)

// enumerateCmd represents the enumerate command
var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "List all available audio output devices and supported Host APIs",
	Long: `List all available audio output devices and supported Host APIs

The names can be used for the output device of the play command.
`,
	Run: func(cmd *cobra.Command, args []string) {
		hostAPI, _ := cmd.Flags().GetString("hostapi")
		if err := enumerate(hostAPI); err != nil {
			exit(err)
		}
	},
}

func init() {
	RootCmd.AddCommand(enumerateCmd)
	enumerateCmd.Flags().String("hostapi", "", "only list the devices of this host api")
}

var tmpl = template.Must(template.New("").Parse(
	`
Available audio output devices and supported Host APIs:

	Detected {{. | len}} host API(s): {{range .}}

	Name:                   {{.Name}}
	{{if .DefaultOutputDevice}}Default output device:  {{.DefaultOutputDevice.Name}}{{end}}
	Devices: {{range .Devices}}{{if .MaxOutputChannels}}
		Name:                      {{.Name}}
		MaxOutputChannels:         {{.MaxOutputChannels}}
		DefaultLowOutputLatency:   {{.DefaultLowOutputLatency}}
		DefaultHighOutputLatency:  {{.DefaultHighOutputLatency}}
		DefaultSampleRate:         {{.DefaultSampleRate}}
	{{end}}{{end}}
{{end}}`,
))

// enumerate lists the audio output devices of all host apis, or of the
// given one.
func enumerate(hostAPI string) error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	var hs []*portaudio.HostApiInfo
	if hostAPI != "" {
		h, err := scWriter.GetHostAPI(hostAPI)
		if err != nil {
			return err
		}
		hs = append(hs, h)
	} else {
		var err error
		hs, err = portaudio.HostApis()
		if err != nil {
			return err
		}
	}
	return tmpl.Execute(os.Stdout, hs)
}
