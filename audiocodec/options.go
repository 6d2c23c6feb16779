package audiocodec

import (
	"github.com/dh1tw/gaplessAudio/native"
	"github.com/rs/zerolog"
)

// Option is the type for a function option
type Option func(*Options)

// Options contains the parameters for initializing a decoder context.
type Options struct {
	Heap                          *native.Heap
	Module                        native.Module
	TargetBufferLengthAudioFrames int
	Logger                        zerolog.Logger
}

// Heap is a functional option to set the native heap the context
// allocates its buffers from.
func Heap(h *native.Heap) Option {
	return func(args *Options) {
		args.Heap = h
	}
}

// Module is a functional option to set the native single frame decoder.
func Module(m native.Module) Option {
	return func(args *Options) {
		args.Module = m
	}
}

// TargetBufferLengthAudioFrames is a functional option to set the amount
// of audio frames per flush.
func TargetBufferLengthAudioFrames(n int) Option {
	return func(args *Options) {
		args.TargetBufferLengthAudioFrames = n
	}
}

// Logger is a functional option to set the logger of the context.
func Logger(l zerolog.Logger) Option {
	return func(args *Options) {
		args.Logger = l
	}
}
