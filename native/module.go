package native

// Ctx is the handle of a decoder instance living inside a Module.
type Ctx uint32

// ResultByteLength is the size of the scalar result region DecodeFrame
// writes to.
const ResultByteLength = 8

// Result slots inside the result region.
const (
	ResultBytesRead = iota
	ResultFramesWritten
)

// Span addresses Len bytes starting Off bytes into the region at Ptr.
type Span struct {
	Ptr Ptr
	Off int
	Len int
}

// Module is the narrow call interface of a compiled single-frame decoder.
//
// DecodeFrame decodes at most one codec frame from the bytes of src and
// writes interleaved float32 samples to dst. The number of consumed
// input bytes and produced audio frames are stored in the two uint32 slots
// of result. A call which produces no output is not an error; it either
// means more input is needed or the input did not contain a valid frame.
type Module interface {
	NewContext() (Ctx, error)
	FreeContext(Ctx) error
	DecodeFrame(h *Heap, ctx Ctx, src Span, dst Span, result Ptr) error
	Info(ctx Ctx) (sampleRate int, channels int)
	Reset(ctx Ctx) error
}
