package fileview

import "time"

const (
	DefaultRetries    = 5
	DefaultRetryDelay = 50 * time.Millisecond
)

// Option is the type for a function option
type Option func(*Options)

// Options contains the parameters of a FileView.
type Options struct {
	Name       string
	MimeType   string
	Retries    int
	RetryDelay time.Duration
}

// Name is a functional option to set the file name of the view. The
// sniffer falls back to the extension of the name.
func Name(name string) Option {
	return func(args *Options) {
		args.Name = name
	}
}

// MimeType is a functional option to declare the mime type of the file.
func MimeType(t string) Option {
	return func(args *Options) {
		args.MimeType = t
	}
}

// Retries is a functional option which sets how often a read failing with
// a temporary error is retried.
func Retries(n int) Option {
	return func(args *Options) {
		args.Retries = n
	}
}

// RetryDelay is a functional option to set the pause between retries.
func RetryDelay(d time.Duration) Option {
	return func(args *Options) {
		args.RetryDelay = d
	}
}
