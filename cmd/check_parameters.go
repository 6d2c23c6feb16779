package cmd

import (
	"fmt"
	"strings"

	"github.com/dh1tw/gaplessAudio/backend"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

func checkParameterValues() error {

	if _, err := zerolog.ParseLevel(viper.GetString("log.level")); err != nil {
		return &parmError{
			parm: "log.level",
			msg:  "allowed values are debug, info, warn, error",
		}
	}

	bt := viper.GetDuration("audio.buffer-time")
	if bt < backend.MinBufferTime || bt > backend.MaxBufferTime {
		return &parmError{
			parm: "audio.buffer-time",
			msg:  fmt.Sprintf("allowed values are [%v...%v]", backend.MinBufferTime, backend.MaxBufferTime),
		}
	}

	if viper.GetInt("audio.preload-buffer-count") < 1 {
		return &parmError{
			parm: "audio.preload-buffer-count",
			msg:  "value must be > 0",
		}
	}

	if viper.GetInt("native.heap-limit") < 1 {
		return &parmError{
			parm: "native.heap-limit",
			msg:  "value must be > 0",
		}
	}

	return nil
}

func checkOutputParameterValues() error {

	if chs := viper.GetInt("output-device.channels"); chs < 1 || chs > 2 {
		return &parmError{
			parm: "output-device.channels",
			msg:  "allowed values are [1 (Mono), 2 (Stereo)]",
		}
	}

	if viper.GetFloat64("output-device.samplerate") <= 0 {
		return &parmError{
			parm: "output-device.samplerate",
			msg:  "value must be > 0",
		}
	}

	if viper.GetInt("audio.rx-buffer-length") <= 0 {
		return &parmError{
			parm: "audio.rx-buffer-length",
			msg:  "value must be > 0",
		}
	}

	return nil
}

func checkNatsParameterValues() error {

	name := viper.GetString("server.name")
	if len(name) == 0 {
		return &parmError{
			parm: "server.name",
			msg:  "server name missing",
		}
	}

	if strings.ContainsAny(name, " _\n\r") {
		return &parmError{
			parm: "server.name",
			msg:  fmt.Sprintf("forbidden character in server name '%s'", name),
		}
	}

	if port := viper.GetInt("nats.broker-port"); port < 1 || port > 65535 {
		return &parmError{
			parm: "nats.broker-port",
			msg:  "allowed values are [1...65535]",
		}
	}

	return nil
}

type parmError struct {
	parm string
	msg  string
}

func (p *parmError) Error() string {
	return fmt.Sprintf("%v: %v", p.parm, p.msg)
}
