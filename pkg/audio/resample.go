package audio

// UpsampleMono16 raises the sample rate of 16-bit mono PCM from srcRate to
// dstRate using linear interpolation. The input must be little-endian int16
// samples. If srcRate >= dstRate or the input is too short, the input is
// returned unchanged.
func UpsampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate >= dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// DownsampleMono16 lowers the sample rate of 16-bit mono PCM from srcRate to
// dstRate by taking every Nth sample, where N = srcRate/dstRate. srcRate must
// be an integer multiple of dstRate. No anti-alias filter is applied; for
// speech headed to an 8 kHz phone line the aliasing is inaudible and the
// zero-latency path matters more.
func DownsampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate <= dstRate || len(pcm) < 2 {
		return pcm
	}
	stride := srcRate / dstRate
	srcSamples := len(pcm) / 2
	dstSamples := (srcSamples + stride - 1) / stride

	out := make([]byte, dstSamples*2)
	for i := range dstSamples {
		j := i * stride * 2
		out[i*2] = pcm[j]
		out[i*2+1] = pcm[j+1]
	}
	return out
}
