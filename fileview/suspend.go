package fileview

import "github.com/dh1tw/gaplessAudio/cancellation"

// SuspendFunc runs a blocking call. Owners of cooperative state machines
// use it to release their state while the call is in progress.
type SuspendFunc func(blocking func() error) error

type suspending struct {
	Reader
	suspend SuspendFunc
}

// Suspending returns a Reader which performs every ReadBlockOfSizeAt
// through suspend. All other methods are forwarded to r.
func Suspending(r Reader, suspend SuspendFunc) Reader {
	return &suspending{Reader: r, suspend: suspend}
}

func (s *suspending) ReadBlockOfSizeAt(size int, offset int64, token *cancellation.Token,
	paddingFactor float64) error {
	return s.suspend(func() error {
		return s.Reader.ReadBlockOfSizeAt(size, offset, token, paddingFactor)
	})
}
