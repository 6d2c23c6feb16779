package fileview

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dh1tw/gaplessAudio/audioerr"
)

// Reference identifies a file of the library.
type Reference struct {
	Path     string `json:"path"`
	MimeType string `json:"type,omitempty"`
}

// TrackUID returns the identity under which track information of the
// referenced file is stored.
func (r Reference) TrackUID() string {
	return filepath.ToSlash(filepath.Clean("/" + r.Path))
}

// Resolver turns references into FileViews. Open files are shared between
// all views of the same path and closed when the last view is released.
type Resolver struct {
	sync.Mutex
	root  string
	files map[string]*sharedFile
	opts  []Option
}

type sharedFile struct {
	*os.File
	refs int
}

// NewResolver returns a resolver for files below root.
func NewResolver(root string, opts ...Option) *Resolver {
	return &Resolver{
		root:  root,
		files: make(map[string]*sharedFile),
		opts:  opts,
	}
}

// Resolve opens the file behind ref. Missing files, unreadable files and
// references escaping the library root raise a FileAccessError.
func (r *Resolver) Resolve(ref Reference) (*FileView, error) {
	rel := filepath.Clean("/" + ref.Path)
	path := filepath.Join(r.root, rel)

	root, err := filepath.Abs(r.root)
	if err != nil {
		return nil, audioerr.WrapFileAccess(err, "library root %s", r.root)
	}
	abs, err := filepath.Abs(path)
	if err != nil || !strings.HasPrefix(abs, root) {
		return nil, audioerr.FileAccessf("invalid file reference %q", ref.Path)
	}

	r.Lock()
	defer r.Unlock()

	sf, ok := r.files[abs]
	if !ok {
		f, err := os.Open(abs)
		if err != nil {
			return nil, audioerr.WrapFileAccess(err, "open %s", ref.Path)
		}
		sf = &sharedFile{File: f}
		r.files[abs] = sf
	}

	info, err := sf.Stat()
	if err != nil {
		if sf.refs == 0 {
			sf.Close()
			delete(r.files, abs)
		}
		return nil, audioerr.WrapFileAccess(err, "stat %s", ref.Path)
	}
	if info.IsDir() {
		if sf.refs == 0 {
			sf.Close()
			delete(r.files, abs)
		}
		return nil, audioerr.FileAccessf("%s is a directory", ref.Path)
	}
	sf.refs++

	mimeType := ref.MimeType
	if mimeType == "" {
		mimeType = mimeTypeOf(abs)
	}

	opts := append([]Option{}, r.opts...)
	opts = append(opts, Name(filepath.Base(abs)), MimeType(mimeType))
	fv := New(sf.File, info.Size(), opts...)
	fv.release = func() { r.release(abs) }
	return fv, nil
}

func (r *Resolver) release(abs string) {
	r.Lock()
	defer r.Unlock()
	sf, ok := r.files[abs]
	if !ok {
		return
	}
	sf.refs--
	if sf.refs <= 0 {
		sf.Close()
		delete(r.files, abs)
	}
}

// the mime package only knows a handful of types unless the system
// provides a mime.types file
var audioMimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".wave": "audio/wav",
	".aac":  "audio/aac",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".webm": "audio/webm",
}

func mimeTypeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := audioMimeTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

// Open returns the number of files currently held open.
func (r *Resolver) Open() int {
	r.Lock()
	defer r.Unlock()
	return len(r.files)
}
