package native

// DefaultLimit is the default byte cap of a Heap.
const DefaultLimit = 64 << 20

// Option is the type for a function option
type Option func(*Options)

// Options contains the parameters for initializing a Heap.
type Options struct {
	Limit int
}

// Limit is a functional option which caps the amount of bytes a Heap will
// hand out. A limit <= 0 disables the cap.
func Limit(bytes int) Option {
	return func(args *Options) {
		args.Limit = bytes
	}
}
