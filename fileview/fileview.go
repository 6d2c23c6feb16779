// Package fileview provides a buffered random access window over a file.
// Codecs, demuxers and seekers read through the window with absolute file
// offsets; only the currently buffered range is addressable.
package fileview

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/dh1tw/gaplessAudio/cancellation"
	"github.com/pkg/errors"
)

// Reader is the read side of a FileView.
type Reader interface {
	// ReadBlockOfSizeAt makes sure that at least size bytes starting at
	// offset (capped at the file size) are buffered. paddingFactor >= 1
	// reads ahead proportionally.
	ReadBlockOfSizeAt(size int, offset int64, token *cancellation.Token, paddingFactor float64) error
	Block() []byte
	BlockAtOffset(rel int) []byte
	Start() int64
	End() int64
	Size() int64
	Name() string
	MimeType() string
	Uint8(off int64) uint8
	Uint16(off int64, littleEndian bool) uint16
	Uint32(off int64, littleEndian bool) uint32
	Int16(off int64, littleEndian bool) int16
	Int32(off int64, littleEndian bool) int32
	ReaderAt() io.ReaderAt
}

// FileView implements Reader on top of an io.ReaderAt.
type FileView struct {
	sync.Mutex
	options Options
	src     io.ReaderAt
	size    int64
	buf     []byte
	start   int64
	reading bool
	release func()
}

// New returns a FileView over the first size bytes of src.
func New(src io.ReaderAt, size int64, opts ...Option) *FileView {
	f := &FileView{
		options: Options{
			Retries:    DefaultRetries,
			RetryDelay: DefaultRetryDelay,
		},
		src:  src,
		size: size,
	}

	for _, option := range opts {
		option(&f.options)
	}

	return f
}

// ReadBlockOfSizeAt fills the window. Only one read may be in flight at
// any time; a parallel read is a programmer error.
func (f *FileView) ReadBlockOfSizeAt(size int, offset int64, token *cancellation.Token,
	paddingFactor float64) error {

	f.Lock()
	if f.reading {
		f.Unlock()
		return audioerr.Invariantf("invalid parallel read")
	}

	if offset < 0 {
		offset = 0
	}
	end := offset + int64(size)
	if end > f.size {
		end = f.size
	}

	if offset >= f.start && end <= f.start+int64(len(f.buf)) {
		f.Unlock()
		return nil
	}

	if token != nil {
		if err := token.Check(); err != nil {
			f.Unlock()
			return err
		}
	}

	if paddingFactor < 1 {
		paddingFactor = 1
	}
	readEnd := offset + int64(math.Ceil(float64(size)*paddingFactor))
	if readEnd > f.size {
		readEnd = f.size
	}

	f.reading = true
	f.Unlock()

	buf := make([]byte, readEnd-offset)
	err := f.readWithRetry(buf, offset)

	f.Lock()
	f.reading = false
	if err == nil {
		f.buf = buf
		f.start = offset
	}
	f.Unlock()

	if err != nil {
		return err
	}

	if token != nil {
		return token.Check()
	}
	return nil
}

type temporary interface {
	Temporary() bool
}

func (f *FileView) readWithRetry(buf []byte, offset int64) error {
	var err error
	for attempt := 0; attempt <= f.options.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(f.options.RetryDelay)
		}

		var n int
		n, err = f.src.ReadAt(buf, offset)
		if n == len(buf) {
			return nil
		}
		if err == nil || err == io.EOF {
			return audioerr.FileAccessf("short read at offset %d: got %d of %d bytes",
				offset, n, len(buf))
		}
		if t, ok := errors.Cause(err).(temporary); !ok || !t.Temporary() {
			break
		}
	}
	return audioerr.WrapFileAccess(err, "read %d bytes at offset %d", len(buf), offset)
}

// Block returns the buffered window.
func (f *FileView) Block() []byte {
	f.Lock()
	defer f.Unlock()
	return f.buf
}

// BlockAtOffset returns the buffered window starting rel bytes into it.
func (f *FileView) BlockAtOffset(rel int) []byte {
	f.Lock()
	defer f.Unlock()
	if rel < 0 || rel > len(f.buf) {
		return nil
	}
	return f.buf[rel:]
}

// Start returns the file offset of the first buffered byte.
func (f *FileView) Start() int64 {
	f.Lock()
	defer f.Unlock()
	return f.start
}

// End returns the file offset following the last buffered byte.
func (f *FileView) End() int64 {
	f.Lock()
	defer f.Unlock()
	return f.start + int64(len(f.buf))
}

// Size returns the size of the file.
func (f *FileView) Size() int64 {
	return f.size
}

// Name returns the file name of the view.
func (f *FileView) Name() string {
	return f.options.Name
}

// MimeType returns the declared mime type of the file, if any.
func (f *FileView) MimeType() string {
	return f.options.MimeType
}

// ReaderAt returns the underlying reader.
func (f *FileView) ReaderAt() io.ReaderAt {
	return f.src
}

// bytesAt returns n buffered bytes at the absolute offset off or nil if
// they are not inside of the window.
func (f *FileView) bytesAt(off int64, n int) []byte {
	f.Lock()
	defer f.Unlock()
	rel := off - f.start
	if rel < 0 || rel+int64(n) > int64(len(f.buf)) {
		return nil
	}
	return f.buf[rel : rel+int64(n)]
}

// Uint8 returns the byte at off, or 0 if off is not buffered.
func (f *FileView) Uint8(off int64) uint8 {
	b := f.bytesAt(off, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 returns the 16 bit word at off, or 0 if it is not buffered.
func (f *FileView) Uint16(off int64, littleEndian bool) uint16 {
	b := f.bytesAt(off, 2)
	if b == nil {
		return 0
	}
	if littleEndian {
		return uint16(b[0]) | uint16(b[1])<<8
	}
	return uint16(b[1]) | uint16(b[0])<<8
}

// Uint32 returns the 32 bit word at off, or 0 if it is not buffered.
func (f *FileView) Uint32(off int64, littleEndian bool) uint32 {
	b := f.bytesAt(off, 4)
	if b == nil {
		return 0
	}
	if littleEndian {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24
}

func (f *FileView) Int16(off int64, littleEndian bool) int16 {
	return int16(f.Uint16(off, littleEndian))
}

func (f *FileView) Int32(off int64, littleEndian bool) int32 {
	return int32(f.Uint32(off, littleEndian))
}

// Release drops the reference the view holds on its file.
func (f *FileView) Release() {
	f.Lock()
	release := f.release
	f.release = nil
	f.buf = nil
	f.Unlock()
	if release != nil {
		release()
	}
}
