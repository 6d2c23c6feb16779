package scWriter

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dh1tw/gaplessAudio/audio"
	ringBuffer "github.com/dh1tw/golang-ring"
	"github.com/dh1tw/gosamplerate"
	pa "github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ScWriter implements the audio.Sink interface and is used to write (play)
// audio on a local audio output device (e.g. speakers).
type ScWriter struct {
	sync.RWMutex
	options    Options
	log        zerolog.Logger
	deviceInfo *pa.DeviceInfo
	stream     *pa.Stream
	ring       ringBuffer.Ring
	stash      []float32
	volume     float32
	src        src
	bufFill    bool // indicates if the buffer is filling up
	eof        bool // the last buffer of a track has been written
	closed     chan struct{}
}

// src contains a samplerate converter and its needed variables
type src struct {
	gosamplerate.Src
	samplerate float64
	ratio      float64
}

// NewScWriter returns a new soundcard writer for a specific audio output
// device. This is typically a speaker or a pair of headphones.
// portaudio must have been initialized.
func NewScWriter(opts ...Option) (*ScWriter, error) {

	w := &ScWriter{
		options: Options{
			DeviceName:      "default",
			HostAPI:         "default",
			Channels:        2,
			Samplerate:      48000,
			FramesPerBuffer: 480,
			RingBufferSize:  10,
			Latency:         time.Millisecond * 10,
			Logger:          zerolog.Nop(),
		},
		deviceInfo: nil,
		ring:       ringBuffer.Ring{},
		volume:     0.7,
		closed:     make(chan struct{}),
	}

	for _, option := range opts {
		option(&w.options)
	}

	w.log = w.options.Logger.With().Str("component", "scWriter").Logger()

	// setup a samplerate converter
	srConv, err := gosamplerate.New(gosamplerate.SRC_SINC_FASTEST, w.options.Channels, 65536)
	if err != nil {
		return nil, errors.Wrap(err, "player")
	}

	w.src = src{
		Src:        srConv,
		samplerate: w.options.Samplerate,
		ratio:      1,
	}

	var hostAPI *pa.HostApiInfo

	if w.options.HostAPI == "default" {
		switch runtime.GOOS {
		case "windows":
			// try to use WASAPI since it provides lower latency than the
			// other windows audio apis
			ha, err := pa.HostApi(pa.WASAPI)
			if err != nil {
				// try to fallback to the default API
				ha, err = pa.DefaultHostApi()
				if err != nil {
					return nil, errors.New("unable to determine the default host api - please provide a specific host api")
				}
			}
			hostAPI = ha
		default:
			// all other OS
			ha, err := pa.DefaultHostApi()
			if err != nil {
				return nil, errors.New("unable to determine the default host api - please provide a specific host api")
			}
			hostAPI = ha
		}
	} else {
		// non-default HostAPI
		ha, err := GetHostAPI(w.options.HostAPI)
		if err != nil {
			return nil, err
		}
		hostAPI = ha
	}

	if w.options.DeviceName == "default" {
		w.deviceInfo = hostAPI.DefaultOutputDevice
	} else {
		dev, err := getPaDevice(w.options.DeviceName, hostAPI)
		if err != nil {
			return nil, err
		}
		w.deviceInfo = dev
	}

	// setup Audio Stream
	streamDeviceParam := pa.StreamDeviceParameters{
		Device:   w.deviceInfo,
		Channels: w.options.Channels,
		Latency:  w.options.Latency,
	}

	streamParm := pa.StreamParameters{
		FramesPerBuffer: w.options.FramesPerBuffer,
		Output:          streamDeviceParam,
		SampleRate:      w.options.Samplerate,
	}

	// setup ring buffer
	w.ring.SetCapacity(w.options.RingBufferSize)

	stream, err := pa.OpenStream(streamParm, w.playCb)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open playback audio stream on device %s",
			w.options.DeviceName)
	}

	w.stream = stream
	w.log.Info().
		Str("device", w.deviceInfo.Name).
		Str("hostapi", w.deviceInfo.HostApi.Name).
		Msg("output sound device")

	return w, nil
}

// portaudio callback which will be called continuously when the stream is
// started; this function should be short and never block
func (p *ScWriter) playCb(in []float32,
	iTime pa.StreamCallbackTimeInfo,
	iFlags pa.StreamCallbackFlags) {
	switch iFlags {
	case pa.OutputUnderflow:
		p.log.Warn().Msg("output underflow")
		return // move on!
	case pa.OutputOverflow:
		p.log.Warn().Msg("output overflow")
		return // move on!
	}

	var data interface{}

	p.Lock()
	bufLength := p.ring.Length()

	// start filling the buffer when it runs empty and stop filling when
	// it's again half full
	if bufLength == 0 {
		p.bufFill = true
	} else if p.bufFill && (p.eof || bufLength >= p.ring.Capacity()/2) {
		p.bufFill = false
	}

	// when filling up the buffer, don't dequeue data
	if !p.bufFill {
		data = p.ring.Dequeue()
	}
	p.Unlock()

	// if no data is available we fill the audio package with silence
	if data == nil {
		for i := 0; i < len(in); i++ {
			in[i] = 0
		}
		return
	}

	audioData := data.([]float32)

	// should never happen
	if len(audioData) != len(in) {
		p.log.Error().Int("expected", len(in)).Int("got", len(audioData)).
			Msg("unable to play audio frame")
		return
	}

	//copy data into buffer
	copy(in, audioData)
}

// Start starts streaming audio to the Soundcard output device (e.g. Speaker).
func (p *ScWriter) Start() error {
	if p.stream == nil {
		return errors.New("portaudio stream not initialized")
	}
	return p.stream.Start()
}

// Stop stops streaming audio.
func (p *ScWriter) Stop() error {
	if p.stream == nil {
		return errors.New("portaudio stream not initialized")
	}
	return p.stream.Stop()
}

// Close shutsdown properly the soundcard audio device.
func (p *ScWriter) Close() error {
	if p.stream == nil {
		return errors.New("portaudio stream not initialized")
	}
	p.Lock()
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	p.Unlock()

	p.stream.Abort()
	p.stream.Close()
	gosamplerate.Delete(p.src.Src)
	return nil
}

// SetVolume sets the volume for all upcoming audio frames.
func (p *ScWriter) SetVolume(v float32) {
	p.Lock()
	defer p.Unlock()
	if v < 0 {
		p.volume = 0
	} else if v > 1 {
		p.volume = 1
	} else {
		p.volume = v
	}
}

// Volume returns the current volume.
func (p *ScWriter) Volume() float32 {
	p.RLock()
	defer p.RUnlock()
	return p.volume
}

// Write converts the frames in the audio buffer into the right format
// and queues them into a ring buffer for playing on the speaker. Write
// blocks while the ring buffer is full. The remainder of the last buffer
// of a track is padded with silence.
func (p *ScWriter) Write(msg audio.Msg) error {

	var aData []float32
	var err error

	// if necessary adjust the amount of audio channels
	if msg.Channels != p.options.Channels {
		aData = audio.AdjustChannels(msg.Channels, p.options.Channels, msg.Data)
	} else {
		aData = msg.Data
	}

	// if necessary, resample the audio
	if msg.Samplerate != p.options.Samplerate {
		if p.src.samplerate != msg.Samplerate {
			p.src.Reset()
			p.src.samplerate = msg.Samplerate
			p.src.ratio = p.options.Samplerate / msg.Samplerate
		}
		aData, err = p.src.Process(aData, p.src.ratio, msg.EOF)
		if err != nil {
			return err
		}
	}

	// audio buffer size we want to write into our ring buffer
	// (size expected by portaudio callback)
	expBufferSize := p.options.FramesPerBuffer * p.options.Channels

	p.Lock()
	// if there is data stashed from previous calls, get it and prepend it
	// to the data received
	if len(p.stash) > 0 {
		aData = append(p.stash, aData...)
		p.stash = nil
	}
	vol := p.volume
	p.eof = msg.EOF
	p.Unlock()

	if msg.EOF && len(aData)%expBufferSize != 0 {
		pad := expBufferSize - len(aData)%expBufferSize
		aData = append(aData, make([]float32, pad)...)
	}

	// slice of audio buffers which will be enqueued into the ring buffer
	var bData [][]float32

	// if the aData contains multiples of the expected buffer size,
	// then we chop it into (several) buffers
	for len(aData) >= expBufferSize {
		if vol != 1 {
			// if necessary, adjust the volume
			audio.AdjustVolume(vol, aData[:expBufferSize])
		}
		bData = append(bData, aData[:expBufferSize])
		aData = aData[expBufferSize:]
	}

	// stash the left over
	if len(aData) > 0 {
		p.Lock()
		p.stash = aData
		p.Unlock()
	}

	return p.enqueue(bData)
}

// enqueue waits for space in the ring buffer before every frame.
func (p *ScWriter) enqueue(bData [][]float32) error {
	for _, frame := range bData {
		for {
			p.Lock()
			full := p.ring.Length() >= p.ring.Capacity()
			if !full {
				p.ring.Enqueue(frame)
			}
			p.Unlock()
			if !full {
				break
			}
			select {
			case <-p.closed:
				return errors.New("scWriter closed")
			case <-time.After(p.options.Latency):
			}
		}
	}
	return nil
}

// Wait blocks until the ring buffer has been played or ctx is done.
func (p *ScWriter) Wait(ctx context.Context) error {
	for {
		p.RLock()
		empty := p.ring.Length() == 0
		p.RUnlock()
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closed:
			return nil
		case <-time.After(p.options.Latency):
		}
	}
}

// Flush clears all internal buffers
func (p *ScWriter) Flush() {
	p.Lock()
	defer p.Unlock()

	// delete the stash
	p.stash = nil

	p.ring = ringBuffer.Ring{}
	p.ring.SetCapacity(p.options.RingBufferSize)
}

// GetHostAPI takes the name of a supported portaudio host api and returns
// the corresponding portaudio hostApiInfo object
func GetHostAPI(name string) (*pa.HostApiInfo, error) {

	var hostAPIType pa.HostApiType

	switch strings.ToLower(name) {
	case "indevelopment":
		hostAPIType = pa.InDevelopment
	case "directsound":
		hostAPIType = pa.DirectSound
	case "mme":
		hostAPIType = pa.MME
	case "asio":
		hostAPIType = pa.ASIO
	case "soundmanager":
		hostAPIType = pa.SoundManager
	case "coreaudio":
		hostAPIType = pa.CoreAudio
	case "oss":
		hostAPIType = pa.OSS
	case "alsa":
		hostAPIType = pa.ALSA
	case "al":
		hostAPIType = pa.AL
	case "beos":
		hostAPIType = pa.BeOS
	case "wdmks":
		hostAPIType = pa.WDMkS
	case "jack":
		hostAPIType = pa.JACK
	case "wasapi":
		hostAPIType = pa.WASAPI
	case "audiosciencehpi":
		hostAPIType = pa.AudioScienceHPI
	default:
		return nil, errors.Errorf("unknown host api type: %s", name)
	}

	hostAPIInfo, err := pa.HostApi(hostAPIType)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load host api %s", name)
	}

	return hostAPIInfo, nil
}

// getPaDevice checks if the Audio Devices actually exist and
// then returns it
func getPaDevice(name string, hostAPI *pa.HostApiInfo) (*pa.DeviceInfo, error) {
	for _, device := range hostAPI.Devices {
		if strings.EqualFold(device.Name, name) {
			return device, nil
		}
	}
	return nil, errors.Errorf("unknown audio device '%s'", name)
}
