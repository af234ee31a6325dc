package audio

import (
	"encoding/binary"
	"math"
)

const (
	// AnalysisWindow is the number of trailing samples inspected by [Level].
	AnalysisWindow = 256

	// minDecibels and maxDecibels bound the range mapped onto the 0-255
	// byte scale, matching the defaults of a browser AnalyserNode.
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Level returns the average spectral magnitude of the last [AnalysisWindow]
// samples of pcm on a 0-255 scale.
//
// The window is Blackman-weighted, transformed with a DFT, and each of the
// AnalysisWindow/2 bins is converted to dB and mapped linearly from -100 dB
// (0) to -30 dB (255). Narrow-band hum and DC offsets therefore score low
// while broadband speech scores high. Digital silence yields 0.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	size := min(n, AnalysisWindow)
	bins := size / 2
	if bins == 0 {
		return 0
	}
	start := n - size

	x := make([]float64, size)
	silent := true
	for i := range size {
		s := int16(binary.LittleEndian.Uint16(pcm[(start+i)*2:]))
		if s != 0 {
			silent = false
		}
		x[i] = float64(s) / 32768 * blackman(i, size)
	}
	if silent {
		return 0
	}

	cosT := make([]float64, size)
	sinT := make([]float64, size)
	for j := range size {
		a := 2 * math.Pi * float64(j) / float64(size)
		cosT[j], sinT[j] = math.Cos(a), math.Sin(a)
	}

	var total float64
	for k := range bins {
		var re, im float64
		for i, v := range x {
			idx := (k * i) % size
			re += v * cosT[idx]
			im -= v * sinT[idx]
		}
		total += byteScale(math.Hypot(re, im) / float64(size))
	}
	return total / float64(bins)
}

func blackman(i, n int) float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	p := 2 * math.Pi * float64(i) / float64(n)
	return a0 - a1*math.Cos(p) + a2*math.Cos(2*p)
}

func byteScale(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := (db - minDecibels) / (maxDecibels - minDecibels) * 255
	return math.Max(0, math.Min(255, scaled))
}
