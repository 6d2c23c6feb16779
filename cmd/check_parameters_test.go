package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestCheckParameterValues(t *testing.T) {
	defer viper.Reset()

	viper.Set("log.level", "info")
	viper.Set("audio.buffer-time", time.Second)
	viper.Set("audio.preload-buffer-count", 2)
	viper.Set("native.heap-limit", 64)
	assert.NoError(t, checkParameterValues())

	viper.Set("audio.buffer-time", time.Millisecond)
	assert.EqualError(t, checkParameterValues(), "audio.buffer-time: allowed values are [50ms...10s]")
	viper.Set("audio.buffer-time", time.Second)

	viper.Set("log.level", "loud")
	err := checkParameterValues()
	if assert.IsType(t, &parmError{}, err) {
		assert.Equal(t, "log.level", err.(*parmError).parm)
	}
	viper.Set("log.level", "info")

	viper.Set("native.heap-limit", 0)
	assert.Error(t, checkParameterValues())
}

func TestCheckNatsParameterValues(t *testing.T) {
	defer viper.Reset()

	viper.Set("nats.broker-port", 4222)
	assert.Error(t, checkNatsParameterValues())

	viper.Set("server.name", "living room")
	assert.Error(t, checkNatsParameterValues())

	viper.Set("server.name", "livingroom")
	assert.NoError(t, checkNatsParameterValues())

	viper.Set("nats.broker-port", 0)
	assert.Error(t, checkNatsParameterValues())
}

func TestCheckOutputParameterValues(t *testing.T) {
	defer viper.Reset()

	viper.Set("output-device.channels", 2)
	viper.Set("output-device.samplerate", 48000)
	viper.Set("audio.rx-buffer-length", 10)
	assert.NoError(t, checkOutputParameterValues())

	viper.Set("output-device.channels", 6)
	assert.EqualError(t, checkOutputParameterValues(), "output-device.channels: allowed values are [1 (Mono), 2 (Stereo)]")
}
