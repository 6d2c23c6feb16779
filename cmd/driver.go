package cmd

import (
	"context"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/backend"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/events"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/dh1tw/gaplessAudio/router"
	"github.com/dh1tw/gaplessAudio/source"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// localSource is the id of the source driven by the play and render
// commands.
const localSource source.SourceID = 1

// driver plays a list of tracks gaplessly through a single source of a
// local backend and routes the buffers to the sinks of a router.
type driver struct {
	backend  *backend.Backend
	router   *router.Router
	log      zerolog.Logger
	preload  int
	progress float64
	// onLoad is called with the demux data of the first track before any
	// of its buffers is routed.
	onLoad func(*demuxer.Data) error
}

// run plays tracks until the last buffer of the last track has been
// routed or ctx is done.
func (d *driver) run(ctx context.Context, tracks []string) error {
	if len(tracks) == 0 {
		return errors.New("no track to play")
	}

	outCh := d.backend.Events().Sub(events.SourceMessage)
	defer func() {
		go d.backend.Events().Unsub(outCh, events.SourceMessage)
		for range outCh {
		}
	}()

	requestID := int64(1)
	d.backend.Post(localSource, source.LoadInitialAudioData{
		RequestID: requestID,
		FileRef:   fileview.Reference{Path: tracks[0]},
		Progress:  d.progress,
	})
	d.log.Info().Str("file", tracks[0]).Msg("loading")
	next := tracks[1:]
	ended := false

	destroy := func() {
		d.backend.Post(localSource, source.Destroy{})
	}

	for {
		select {
		case <-ctx.Done():
			destroy()
			return ctx.Err()

		case ev, ok := <-outCh:
			if !ok {
				return errors.New("backend closed")
			}
			out := ev.(events.Outbound)
			if out.ID != localSource {
				continue
			}
			m := out.Message

			switch m.Name {
			case source.MsgInitialAudioDataLoaded:
				args := m.Args.(source.InitialAudioDataLoaded)
				if d.onLoad != nil {
					if err := d.onLoad(args.DemuxData); err != nil {
						destroy()
						return err
					}
				}
				d.log.Info().
					Str("codec", args.DemuxData.Codec).
					Int("samplerate", args.DemuxData.SampleRate).
					Int("channels", args.DemuxData.Channels).
					Float64("duration", args.DemuxData.Duration).
					Msg("track loaded")
				d.backend.Post(localSource, source.FillBuffers{Count: d.preload})

			case source.MsgBufferFilled:
				filled := m.Args.(source.BufferFilled)
				if filled.BufferFillType == source.FillReplacement {
					ended = false
					d.log.Info().Int64("request", filled.RequestID).Msg("next track")
				}

				last, err := d.router.Route(m)
				if err != nil {
					destroy()
					return err
				}
				if !last {
					continue
				}

				ended = true
				if len(next) == 0 {
					destroy()
					return nil
				}
				requestID++
				d.log.Info().Str("file", next[0]).Msg("preloading")
				d.backend.Post(localSource, source.LoadReplacement{
					RequestID:      requestID,
					FileRef:        fileview.Reference{Path: next[0]},
					Count:          d.preload,
					GaplessPreload: true,
				})
				next = next[1:]

			case source.MsgIdle:
				if !ended {
					d.backend.Post(localSource, source.FillBuffers{Count: d.preload})
				}

			case source.MsgError:
				destroy()
				if report, ok := m.Args.(audioerr.Report); ok {
					return errors.Errorf("%s: %s", report.Name, report.Message)
				}
				return errors.New("source failed")
			}
		}
	}
}
