// Package audio contains the types shared by the audio sinks which play
// or record the buffers decoded by the sources.
package audio

// Sink is the interface which is implemented by an audio sink. This could
// be an Audio player or a file for recording.
type Sink interface {
	Start() error
	Stop() error
	Close() error
	SetVolume(float32)
	Volume() float32
	Write(Msg) error
	Flush()
}

// Msg contains an interleaved audio buffer with it's metadata
type Msg struct {
	Data       []float32
	Samplerate float64
	Channels   int
	Frames     int  // Number of Frames in the buffer
	EOF        bool // End of File
}

// Interleave turns the first frames samples of every planar channel into
// a single interleaved buffer.
func Interleave(channels [][]float32, frames int) []float32 {
	res := make([]float32, 0, frames*len(channels))
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			res = append(res, ch[i])
		}
	}
	return res
}
