package audio

// AdjustChannels converts interleaved audio frames with iChs channels into
// oChs channels. Missing channels repeat the last input channel, surplus
// channels are dropped.
func AdjustChannels(iChs, oChs int, audioFrames []float32) []float32 {
	// mono -> stereo
	if iChs == 1 && oChs == 2 {
		res := make([]float32, 0, len(audioFrames)*2)
		// left channel = right channel
		for _, frame := range audioFrames {
			res = append(res, frame)
			res = append(res, frame)
		}
		return res
	}

	frames := len(audioFrames) / iChs
	res := make([]float32, 0, frames*oChs)
	for i := 0; i < frames; i++ {
		frame := audioFrames[i*iChs : (i+1)*iChs]
		for ch := 0; ch < oChs; ch++ {
			if ch < iChs {
				res = append(res, frame[ch])
			} else {
				res = append(res, frame[iChs-1])
			}
		}
	}
	return res
}

// AdjustVolume scales the audio frames in place.
func AdjustVolume(volume float32, audioFrames []float32) {
	for i := 0; i < len(audioFrames); i++ {
		audioFrames[i] *= volume
	}
}
