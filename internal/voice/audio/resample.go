package audio

// Upsample stretches samples by an integer factor using linear interpolation
// between neighboring samples.
func Upsample(samples []float64, factor int) []float64 {
	if factor <= 1 || len(samples) == 0 {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out
	}

	out := make([]float64, len(samples)*factor)
	for i := 0; i < len(samples)-1; i++ {
		current := samples[i]
		next := samples[i+1]
		for j := 0; j < factor; j++ {
			out[i*factor+j] = current + (next-current)*float64(j)/float64(factor)
		}
	}

	// Hold the last sample
	last := samples[len(samples)-1]
	for j := 0; j < factor; j++ {
		out[(len(samples)-1)*factor+j] = last
	}
	return out
}

// Downsample decimates samples by an integer factor, keeping every Nth sample.
func Downsample(samples []float64, factor int) []float64 {
	if factor <= 1 || len(samples) == 0 {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out
	}

	out := make([]float64, 0, len(samples)/factor+1)
	for i := 0; i < len(samples); i += factor {
		out = append(out, samples[i])
	}
	return out
}
