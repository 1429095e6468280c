package assembler

// unpackS16LE interprets b as little-endian signed 16-bit samples and
// returns one float64 per sample, normalized to [-1.0, 1.0]. len(b) must be
// even; callers enforce this before calling unpackS16LE.
func unpackS16LE(b []byte) []float64 {
	n := len(b) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
		out[i] = float64(s) / 32768.0
	}
	return out
}

// downmixToMono averages interleaved multi-channel samples into mono. The
// float64 domain needs no clamping since inputs are already in [-1.0, 1.0].
func downmixToMono(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// packFloat32 converts float64 samples (already in [-1.0, 1.0]) into the
// float32 slice shape used by types.Frame.
func packFloat32(samples []float64) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		out[i] = float32(s)
	}
	return out
}
