package audio

import "math"

// LevelFloorDB is the dBFS value mapped to level 0 by [Level].
const LevelFloorDB = -60.0

// RMS returns the root-mean-square amplitude of PCM16 samples in raw sample
// units (0–32768).
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(sampleAt(pcm, i))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Level maps the loudness of pcm onto [0, 1]. Silence and anything quieter
// than [LevelFloorDB] is 0; a full-scale signal is 1. The mapping is linear in
// decibels so the meter moves visibly for normal speech.
func Level(pcm []byte) float64 {
	rms := RMS(pcm)
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms/32768.0)
	if db <= LevelFloorDB {
		return 0
	}
	if db >= 0 {
		return 1
	}
	return (db - LevelFloorDB) / -LevelFloorDB
}

// DurationMs returns the playback duration of pcm in milliseconds.
func DurationMs(pcm []byte, f Format) int {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return len(pcm) * 1000 / bps
}
