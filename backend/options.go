package backend

import (
	"github.com/cskr/pubsub"
	"github.com/dh1tw/gaplessAudio/native"
	"github.com/dh1tw/gaplessAudio/source"
	"github.com/rs/zerolog"
)

// Option is the type for a function option
type Option func(*Options)

// Options contains the parameters for initializing a Backend.
type Options struct {
	Logger      zerolog.Logger
	LibraryRoot string
	Preferences source.Preferences
	HeapLimit   int
	// Module is the native mp3 primitive. Defaults to the go-mp3 backed
	// module.
	Module    native.Module
	StoreFile string
	Events    *pubsub.PubSub
}

// Logger sets the logger of the backend and its sources.
func Logger(l zerolog.Logger) Option {
	return func(args *Options) {
		args.Logger = l
	}
}

// LibraryRoot is a functional option to set the directory file
// references are resolved against.
func LibraryRoot(dir string) Option {
	return func(args *Options) {
		args.LibraryRoot = dir
	}
}

// Preferences is a functional option to set the initial preferences.
func Preferences(p source.Preferences) Option {
	return func(args *Options) {
		args.Preferences = p
	}
}

// HeapLimit is a functional option to cap the native heap in bytes.
func HeapLimit(bytes int) Option {
	return func(args *Options) {
		args.HeapLimit = bytes
	}
}

// Module is a functional option to replace the native mp3 primitive.
func Module(m native.Module) Option {
	return func(args *Options) {
		args.Module = m
	}
}

// StoreFile is a functional option to persist the track info store in
// path. The store is loaded on startup and saved on Close.
func StoreFile(path string) Option {
	return func(args *Options) {
		args.StoreFile = path
	}
}

// Events is a functional option to provide the pubsub the outbound
// messages are published on.
func Events(ps *pubsub.PubSub) Option {
	return func(args *Options) {
		args.Events = ps
	}
}
