package native

import (
	"sync"

	"github.com/dh1tw/gaplessAudio/audioerr"
)

// Scope collects allocations which belong together. Unless ownership is
// handed over with Keep, Close frees everything allocated through the
// scope. The idiom is
//
//	s := heap.NewScope()
//	defer s.Close()
//	a, err := s.Alloc(n)
//	...
//	handle := s.Keep()
//
// which guarantees that no region leaks when a later step fails.
type Scope struct {
	heap *Heap
	ptrs []Ptr
	kept bool
}

// NewScope returns an empty scope allocating from h.
func (h *Heap) NewScope() *Scope {
	return &Scope{heap: h}
}

// Alloc allocates size bytes which are owned by the scope.
func (s *Scope) Alloc(size int) (Ptr, error) {
	if s.kept {
		return 0, audioerr.Invariantf("allocation from a scope which has been kept")
	}
	p, err := s.heap.Alloc(size)
	if err != nil {
		return 0, err
	}
	s.ptrs = append(s.ptrs, p)
	return p, nil
}

// Keep transfers ownership of all allocations to the returned Handle.
// A subsequent Close is a no-op.
func (s *Scope) Keep() *Handle {
	s.kept = true
	ptrs := s.ptrs
	s.ptrs = nil
	return &Handle{heap: s.heap, ptrs: ptrs}
}

// Close frees all allocations of the scope unless they have been kept.
func (s *Scope) Close() {
	if s.kept {
		return
	}
	for i := len(s.ptrs) - 1; i >= 0; i-- {
		s.heap.Free(s.ptrs[i])
	}
	s.ptrs = nil
}

// Handle owns a set of heap regions and releases them exactly once.
type Handle struct {
	sync.Mutex
	heap     *Heap
	ptrs     []Ptr
	released bool
}

// Release frees all regions owned by the handle. Releasing twice is a
// programmer error.
func (h *Handle) Release() error {
	h.Lock()
	defer h.Unlock()

	if h.released {
		return audioerr.Invariantf("native handle released twice")
	}
	h.released = true

	var firstErr error
	for i := len(h.ptrs) - 1; i >= 0; i-- {
		if err := h.heap.Free(h.ptrs[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.ptrs = nil
	return firstErr
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.Lock()
	defer h.Unlock()
	return h.released
}
