package audio

// Convert returns pcm re-encoded from one format into another. Stereo input is
// downmixed before resampling, and upmixed again afterwards when the target is
// stereo. Odd trailing bytes are discarded.
func Convert(pcm []byte, from, to Format) []byte {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if from == to || len(pcm) == 0 {
		return pcm
	}

	if from.Channels == 2 && (to.Channels == 1 || from.SampleRate != to.SampleRate) {
		pcm = StereoToMono(pcm)
		from.Channels = 1
	}
	if from.SampleRate != to.SampleRate {
		pcm = ResampleMono16(pcm, from.SampleRate, to.SampleRate)
	}
	if from.Channels == 1 && to.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// ConvertStream re-encodes every frame read from in and forwards it on the
// returned channel, which is closed when in closes. Empty frames are dropped.
func ConvertStream(in <-chan []byte, from, to Format) <-chan []byte {
	if from == to {
		return in
	}
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		for frame := range in {
			converted := Convert(frame, from, to)
			if len(converted) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// MonoToStereo duplicates each int16 mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages each L+R frame into one sample.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples mono PCM16 from srcRate to dstRate with linear
// interpolation. Non-positive or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	m := int(int64(n) * int64(dstRate) / int64(srcRate))
	if m == 0 {
		return nil
	}
	out := make([]byte, m*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range m {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := float64(sampleAt(pcm, idx))
		s1 := s0
		if idx+1 < n {
			s1 = float64(sampleAt(pcm, idx+1))
		}
		putSample(out, i, int16(s0*(1-frac)+s1*frac))
	}
	return out
}

// PCM16ToFloat32 converts mono PCM16 to float32 samples in [-1, 1].
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i)) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float32 samples in [-1, 1] to PCM16, clamping
// out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		putSample(out, i, int16(v))
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}
