package source

import (
	"context"
	"math"
	"time"

	"github.com/dh1tw/gaplessAudio/audiocodec"
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/pipeline"
	"github.com/dh1tw/gaplessAudio/seeker"
	"github.com/dh1tw/gaplessAudio/sniffer"
	"github.com/pkg/errors"
)

var errNoFileLoaded = errors.New("no file loaded")

func (a *Actor) loadInitialAudioData(c LoadInitialAudioData) error {
	// the decoder of a running fill loop must not be freed under its feet
	a.await(cancellation.AcknowledgedOrResolved(a.fillToken))
	if a.state == Destroyed {
		return nil
	}

	if err := a.transition(Loading); err != nil {
		return err
	}
	a.log.Info().Str("file", c.FileRef.Path).Int64("request", c.RequestID).Msg("load")

	a.releaseTrack()
	a.ref = c.FileRef

	baseTime, err := a.load(c)
	if a.state == Destroyed {
		return nil
	}
	if err != nil {
		a.releaseTrack()
		if terr := a.transition(Idle); terr != nil {
			return terr
		}
		return err
	}
	if err := a.transition(Idle); err != nil {
		return err
	}

	a.send(Message{
		Name: MsgInitialAudioDataLoaded,
		Args: InitialAudioDataLoaded{
			RequestID: c.RequestID,
			DemuxData: a.data,
			BaseTime:  baseTime,
		},
	})
	return nil
}

// load sets up the decoding of the track referenced by c. It returns the
// playback time the track is positioned at.
func (a *Actor) load(c LoadInitialAudioData) (float64, error) {
	var view *fileview.FileView
	err := a.suspend(func() error {
		var err error
		view, err = a.host.Resolve(c.FileRef)
		return err
	})
	if err != nil {
		return 0, err
	}
	if a.state == Destroyed {
		view.Release()
		return 0, errDestroyed
	}
	a.view = view
	a.reader = fileview.Suspending(view, a.suspend)

	codec, err := sniffer.CodecName(a.reader, nil)
	if a.state == Destroyed {
		return 0, errDestroyed
	}
	if err != nil {
		return 0, err
	}
	if codec == "" {
		return 0, audioerr.UnsupportedFormatf("%s is not an audio file or it is an unsupported audio file",
			c.FileRef.Path)
	}
	if !a.host.HasCodec(codec) {
		return 0, audioerr.UnsupportedFormatf("no decoder found for the codec: %s", codec)
	}

	d, err := demuxer.Demux(codec, a.reader, nil)
	if a.state == Destroyed {
		return 0, errDestroyed
	}
	if err != nil {
		return 0, err
	}
	if d == nil {
		return 0, audioerr.UnsupportedFormatf("invalid %s file", codec)
	}

	if m := c.Metadata; m != nil {
		if m.EncoderDelay != -1 {
			d.EncoderDelay = m.EncoderDelay
		}
		if m.EncoderPadding != -1 {
			d.SetEncoderPadding(m.EncoderPadding)
		}
	}

	a.uid = c.FileRef.TrackUID()
	if info, ok := a.host.Store().TrackInfo(a.uid); ok && info.EstablishedGain != nil {
		gain := *info.EstablishedGain
		d.EstablishedGain = &gain
	}

	a.codec = codec
	a.data = d
	a.position = d.DataStart
	a.ended = false

	prefs := a.host.Preferences()
	bufferTime := prefs.BufferTime.Seconds()

	dec, err := a.host.NewDecoder(codec, int(bufferTime*float64(d.SampleRate)))
	if err != nil {
		return 0, err
	}
	a.decoder = dec
	if err := dec.Start(d); err != nil {
		return 0, err
	}

	an, err := a.host.Analyzers().Alloc(d.Channels, d.SampleRate, prefs.LoudnessNormalization)
	if err != nil {
		return 0, err
	}
	a.analyzer = an
	a.pipeline, err = pipeline.New(d, dec, an, bufferTime)
	if err != nil {
		return 0, err
	}

	if c.Progress <= 0 {
		return 0, nil
	}

	if err := a.transition(Seeking); err != nil {
		return 0, err
	}
	token := a.ops.TokenFor(cancellation.Seek)
	res, err := seeker.Seek(codec, c.Progress*d.Duration, d, a.reader, token)
	if err != nil {
		return 0, err
	}
	if err := a.applySeek(res); err != nil {
		return 0, err
	}
	return math.Min(d.Duration, math.Max(0, res.Time)), nil
}

// applySeek positions the track at res. An ended decoder is started
// again first.
func (a *Actor) applySeek(res seeker.Result) error {
	a.position = res.Offset
	if a.decoder.State() == audiocodec.Ended {
		if err := a.decoder.Start(a.data); err != nil {
			return err
		}
	}
	return a.decoder.ApplySeek(audiocodec.SeekResult{
		Frame:         res.Frame,
		SamplesToSkip: res.SamplesToSkip,
	})
}

func (a *Actor) seek(c Seek) error {
	if a.pipeline == nil {
		return errNoFileLoaded
	}

	ack := cancellation.AcknowledgedOrResolved(a.fillToken)
	a.cancelAllOperations()
	if err := a.transition(Seeking); err != nil {
		return err
	}
	a.log.Info().Float64("time", c.Time).Int64("request", c.RequestID).Msg("seek")

	started := false
	defer func() {
		if !started && a.state == Seeking {
			if err := a.transition(Idle); err != nil {
				a.log.Error().Err(err).Msg("leave seek")
			}
		}
	}()

	a.await(ack)
	if a.state == Destroyed {
		return nil
	}

	token := a.ops.TokenFor(cancellation.Seek)
	res, err := seeker.Seek(a.codec, c.Time, a.data, a.reader, token)
	if token.IsCancelled() || a.state == Destroyed {
		return nil
	}
	if err != nil {
		return err
	}

	if err := a.applySeek(res); err != nil {
		return err
	}
	a.ended = false

	if err := a.startFill(c.Count, c.RequestID, FillSeek, &FillTypeData{
		BaseTime:   res.Time,
		IsUserSeek: c.IsUserSeek,
		RequestID:  c.RequestID,
	}); err != nil {
		return err
	}
	started = true
	return nil
}

func (a *Actor) fillBuffers(c FillBuffers) error {
	if a.pipeline == nil {
		return errNoFileLoaded
	}
	if a.fillToken != nil {
		return nil
	}
	return a.startFill(c.Count, -1, FillNormal, nil)
}

// startFill mints the fill token and starts the fill loop. The loop runs
// as soon as the current command has released the lock. Only one fill
// loop may be in flight at any time.
func (a *Actor) startFill(count int, requestID int64, fillType FillType, data *FillTypeData) error {
	if a.fillToken != nil {
		return audioerr.Invariantf("invalid parallel buffer fill loop")
	}
	if err := a.transition(Decoding); err != nil {
		return err
	}
	token := a.ops.TokenFor(cancellation.Fill)
	a.fillToken = token
	go a.fill(token, count, requestID, fillType, data)
	return nil
}

func (a *Actor) fill(token *cancellation.Token, count int, requestID int64,
	fillType FillType, data *FillTypeData) {
	a.Lock()
	defer a.Unlock()
	defer a.finishFill(token)

	if token.IsCancelled() {
		return
	}

	if a.ended {
		a.send(Message{
			Name: MsgBufferFilled,
			Args: BufferFilled{
				RequestID:      requestID,
				IsLastBuffer:   true,
				BufferFillType: fillType,
			},
		})
		return
	}

	d := a.data
	for i := 0; i < count; i++ {
		started := time.Now()

		prefs := a.host.Preferences()
		a.analyzer.SetEnabled(prefs.LoudnessNormalization)
		a.analyzer.SetSilenceTrimmingEnabled(prefs.SilenceTrimming)
		if err := a.pipeline.SetBufferTime(prefs.BufferTime.Seconds()); err != nil {
			a.passError(err)
			return
		}
		target := a.pipeline.BufferAudioFrameCount()

		dst := make([][]float32, d.Channels)
		for ch := range dst {
			dst[ch] = make([]float32, a.pipeline.DestinationLength())
		}

		filled, err := a.decodeNextBuffer(dst, token, count-i)
		if token.IsCancelled() {
			return
		}
		if err != nil {
			a.passError(err)
			return
		}
		if filled == nil {
			break
		}

		info := filled.Loudness
		if d.EstablishedGain == nil {
			if gain, ok := a.analyzer.EstablishedGain(); ok {
				d.EstablishedGain = &gain
				a.host.Store().SetEstablishedGain(a.uid, gain)
				a.log.Info().Float32("gain", gain).Msg("established gain")
			}
		} else {
			info.Gain = *d.EstablishedGain
		}

		length := filled.Length
		if length > target {
			length = target
		}
		for ch := range dst {
			dst[ch] = dst[ch][:length]
		}

		desc := &BufferDescriptor{
			Length:          length,
			StartTime:       filled.StartTime,
			EndTime:         filled.EndTime,
			Loudness:        info,
			SampleRate:      d.SampleRate,
			ChannelCount:    d.Channels,
			DecodingLatency: float64(time.Since(started).Microseconds()) / 1000,
		}
		if fillType != FillNormal {
			desc.FillTypeData = data
		}

		a.log.Debug().
			Float64("start", desc.StartTime).
			Int("length", length).
			Str("type", string(fillType)).
			Msg("buffer filled")
		a.send(Message{
			Name: MsgBufferFilled,
			Args: BufferFilled{
				RequestID:      requestID,
				Descriptor:     desc,
				IsLastBuffer:   a.ended,
				BufferFillType: fillType,
			},
			ChannelData: dst,
		})
		fillType = FillNormal

		if a.ended {
			break
		}
	}
}

// decodeNextBuffer decodes the buffer at the current file position. It
// returns nil at the end of the track.
func (a *Actor) decodeNextBuffer(dst [][]float32, token *cancellation.Token,
	buffersRemaining int) (*pipeline.Descriptor, error) {

	n, err := a.pipeline.DecodeFromFileViewAtOffset(a.reader, a.position, a.data, token,
		dst, float64(buffersRemaining))
	if token.IsCancelled() {
		a.pipeline.DropFilledBuffer()
		return nil, cancellation.ErrCancelled
	}
	if err != nil {
		return nil, err
	}

	a.position += n
	a.ended = a.pipeline.Exhausted(a.position, a.data)
	if !a.pipeline.HasFilledBuffer() {
		a.ended = true
		a.position = a.data.DataEnd
		return nil, nil
	}
	return a.pipeline.ConsumeFilledBuffer()
}

// finishFill runs on every exit path of the fill loop.
func (a *Actor) finishFill(token *cancellation.Token) {
	token.Signal()
	if a.fillToken == token {
		a.fillToken = nil
		if a.state == Decoding {
			if err := a.transition(Idle); err != nil {
				a.log.Error().Err(err).Msg("finish fill")
			}
		}
	}

	if a.state != Destroyed && !a.ended {
		a.send(Message{Name: MsgIdle, Args: IdleArgs{}})
	}

	if a.ended {
		for _, w := range a.endedWaiters {
			w <- nil
		}
		a.endedWaiters = nil
	}

	if a.destroyAfterFill && a.fillToken == nil {
		a.destroyAfterFill = false
		a.destroyLocked()
	}
}

// WaitEnded blocks until the track has been decoded to its end.
func (a *Actor) WaitEnded(ctx context.Context) error {
	a.Lock()
	switch {
	case a.state == Destroyed:
		a.Unlock()
		return errDestroyed
	case a.ended:
		a.Unlock()
		return nil
	}
	w := make(chan error, 1)
	a.endedWaiters = append(a.endedWaiters, w)
	a.Unlock()

	select {
	case err := <-w:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
