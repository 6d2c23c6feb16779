// Package native models the memory and call interface of the compiled,
// low level codec implementations. Decoder contexts own regions of a Heap
// and hand pointers into it to a Module, exactly like they would when
// talking to foreign code.
package native

import (
	"sync"
	"unsafe"

	"github.com/dh1tw/gaplessAudio/audioerr"
)

// Ptr addresses a region on a Heap. The zero value is the null pointer.
type Ptr uint32

// Heap is a bounded allocator of byte regions. All regions are 8 byte
// aligned so that they can be viewed as float32 or uint32 arrays.
type Heap struct {
	sync.Mutex
	options Options
	regions map[Ptr][]byte
	next    Ptr
	used    int
}

// NewHeap returns a new Heap.
func NewHeap(opts ...Option) *Heap {
	h := &Heap{
		options: Options{
			Limit: DefaultLimit,
		},
		regions: make(map[Ptr][]byte),
	}

	for _, option := range opts {
		option(&h.options)
	}

	return h
}

// Alloc reserves a region of size bytes. An AllocationError is returned
// when the heap limit would be exceeded.
func (h *Heap) Alloc(size int) (Ptr, error) {
	if size <= 0 {
		return 0, audioerr.Invariantf("invalid allocation size %d", size)
	}

	h.Lock()
	defer h.Unlock()

	if h.options.Limit > 0 && h.used+size > h.options.Limit {
		return 0, audioerr.Allocationf("unable to allocate %d bytes (%d of %d in use)",
			size, h.used, h.options.Limit)
	}

	words := make([]uint64, (size+7)/8)
	region := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)

	h.next++
	if h.next == 0 {
		h.next++
	}
	h.regions[h.next] = region
	h.used += size
	return h.next, nil
}

// Free releases the region at p. Freeing an unknown or already freed
// pointer is a programmer error.
func (h *Heap) Free(p Ptr) error {
	h.Lock()
	defer h.Unlock()

	region, ok := h.regions[p]
	if !ok {
		return audioerr.Invariantf("free of unallocated pointer %d", p)
	}
	delete(h.regions, p)
	h.used -= len(region)
	return nil
}

// Bytes returns the region at p, or nil if p is not allocated.
func (h *Heap) Bytes(p Ptr) []byte {
	h.Lock()
	defer h.Unlock()
	return h.regions[p]
}

// Float32s views the first n float32 values of the region at p.
func (h *Heap) Float32s(p Ptr, n int) []float32 {
	b := h.Bytes(p)
	if n <= 0 || len(b) < n*4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}

// Uint32s views the first n uint32 values of the region at p.
func (h *Heap) Uint32s(p Ptr, n int) []uint32 {
	b := h.Bytes(p)
	if n <= 0 || len(b) < n*4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), n)
}

// View returns the bytes addressed by s, or nil if s is out of range.
func (h *Heap) View(s Span) []byte {
	b := h.Bytes(s.Ptr)
	if s.Off < 0 || s.Len < 0 || s.Off+s.Len > len(b) {
		return nil
	}
	return b[s.Off : s.Off+s.Len]
}

// Float32View views the bytes addressed by s as float32 values. s.Off
// must be a multiple of 4.
func (h *Heap) Float32View(s Span) []float32 {
	b := h.View(s)
	if len(b) < 4 || s.Off%4 != 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Locate reports whether b lives inside a region of the heap and returns
// the region together with the offset of b inside of it.
func (h *Heap) Locate(b []byte) (Ptr, int, bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	start := uintptr(unsafe.Pointer(&b[0]))

	h.Lock()
	defer h.Unlock()
	for p, region := range h.regions {
		base := uintptr(unsafe.Pointer(&region[0]))
		if start >= base && start+uintptr(len(b)) <= base+uintptr(len(region)) {
			return p, int(start - base), true
		}
	}
	return 0, 0, false
}

// Live returns the number of outstanding allocations.
func (h *Heap) Live() int {
	h.Lock()
	defer h.Unlock()
	return len(h.regions)
}

// Used returns the number of bytes currently allocated.
func (h *Heap) Used() int {
	h.Lock()
	defer h.Unlock()
	return h.used
}
