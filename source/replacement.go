package source

import (
	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/dh1tw/gaplessAudio/demuxer"
	"github.com/dh1tw/gaplessAudio/fileview"
	"github.com/pkg/errors"
)

// replacement links the actor to the child which preloads the next track.
type replacement struct {
	index Index
	child *Actor
	spec  replacementSpec
}

type replacementSpec struct {
	RequestID      int64
	FileRef        fileview.Reference
	SeekTime       float64
	PreloadCount   int
	GaplessPreload bool

	metadata *demuxer.Data
	token    *cancellation.Token
}

func (a *Actor) loadReplacement(c LoadReplacement) error {
	a.destroyReplacement()

	token := a.ops.TokenFor(cancellation.Replacement)
	child := newActor(a.host, a.arena, a.index, Logger(a.options.Logger))
	a.replacement = &replacement{
		index: child.index,
		child: child,
		spec: replacementSpec{
			RequestID:      c.RequestID,
			FileRef:        c.FileRef,
			SeekTime:       c.SeekTime,
			PreloadCount:   c.Count,
			GaplessPreload: c.GaplessPreload,
			token:          token,
		},
	}
	a.log.Info().
		Str("file", c.FileRef.Path).
		Uint64("replacement", uint64(child.index)).
		Float64("seek", c.SeekTime).
		Msg("load replacement")

	child.NewMessage(LoadInitialAudioData{
		RequestID: c.RequestID,
		FileRef:   c.FileRef,
		Metadata:  c.Metadata,
	})
	return nil
}

// destroyReplacement tears down the pending replacement, if any.
func (a *Actor) destroyReplacement() {
	r := a.replacement
	if r == nil {
		return
	}
	a.replacement = nil
	r.child.Destroy()
}

func (a *Actor) messageFromReplacement(c messageFromReplacement) error {
	r := a.replacement
	if r == nil || r.index != c.sender {
		// a child of a superseded preload request
		if stale, ok := a.arena.Get(c.sender); ok {
			a.log.Debug().Uint64("replacement", uint64(c.sender)).Msg("destroy stale replacement")
			stale.Destroy()
		}
		return nil
	}

	if r.spec.token.IsCancelled() {
		a.destroyReplacement()
		return nil
	}

	switch c.msg.Name {
	case MsgError:
		a.destroyReplacement()
		report, ok := c.msg.Args.(audioerr.Report)
		if !ok {
			return audioerr.Invariantf("replacement sent an error without a report")
		}
		a.log.Error().Str("error", report.Message).Msg("replacement failed")
		a.send(Message{Name: MsgError, Args: report})
		return nil

	case MsgInitialAudioDataLoaded:
		args := c.msg.Args.(InitialAudioDataLoaded)
		r.spec.metadata = args.DemuxData
		r.child.NewMessage(Seek{
			RequestID:  args.RequestID,
			Count:      r.spec.PreloadCount,
			Time:       r.spec.SeekTime,
			IsUserSeek: false,
		})
		return nil

	case MsgBufferFilled:
		return a.promote(r, c.msg)

	case MsgIdle:
		return nil
	}

	return errors.Errorf("unknown message from replacement: %s", c.msg.Name)
}

// promote hands the identity of the actor over to the child of r,
// forwards the first buffer of the child and destroys the actor.
func (a *Actor) promote(r *replacement, m Message) error {
	filled := m.Args.(BufferFilled)
	if filled.Descriptor == nil {
		a.destroyReplacement()
		return errors.New("replacement produced no audio")
	}

	a.replacement = nil
	child := r.child

	// everything the actor sent so far goes out under its id before the
	// child takes it over
	a.outbox.close()
	a.await(a.outbox.done)
	if a.state == Destroyed {
		child.Destroy()
		return nil
	}

	if _, ok := a.arena.TransferID(a.index, child.index); !ok {
		a.log.Warn().Msg("promoting a replacement of an actor without id")
	}
	child.parent.Store(a.parent.Load())

	desc := *filled.Descriptor
	data := FillTypeData{
		Metadata:       r.spec.metadata,
		GaplessPreload: r.spec.GaplessPreload,
		RequestID:      r.spec.RequestID,
	}
	if filled.Descriptor.FillTypeData != nil {
		data.BaseTime = filled.Descriptor.FillTypeData.BaseTime
	}
	desc.FillTypeData = &data

	a.log.Info().Uint64("replacement", uint64(child.index)).Msg("promote replacement")

	// delivered right away so that the buffer stays ahead of the ones the
	// child produces afterwards
	child.route(Message{
		Name: MsgBufferFilled,
		Args: BufferFilled{
			RequestID:      r.spec.RequestID,
			Descriptor:     &desc,
			IsLastBuffer:   filled.IsLastBuffer,
			BufferFillType: FillReplacement,
		},
		ChannelData: m.ChannelData,
	})

	a.destroyLocked()
	return nil
}
