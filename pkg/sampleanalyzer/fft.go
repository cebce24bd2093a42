package sampleanalyzer

import (
	"math"
	"sort"
)

// fft performs an in-place iterative radix-2 Cooley-Tukey transform over
// split real/imag slices; n must be a power of two.
func fft(real, imag []float64) {
	n := len(real)
	if n <= 1 {
		return
	}

	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			real[i], real[j] = real[j], real[i]
			imag[i], imag[j] = imag[j], imag[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		angleStep := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				angle := angleStep * float64(k)
				wr, wi := math.Cos(angle), math.Sin(angle)
				ar, ai := real[start+k], imag[start+k]
				br := real[start+k+half]*wr - imag[start+k+half]*wi
				bi := real[start+k+half]*wi + imag[start+k+half]*wr
				real[start+k] = ar + br
				imag[start+k] = ai + bi
				real[start+k+half] = ar - br
				imag[start+k+half] = ai - bi
			}
		}
	}
}

// fftMag replaces real in place with the magnitude of each (real, imag)
// bin.
func fftMag(real, imag []float64) {
	for i := range real {
		real[i] = math.Hypot(real[i], imag[i])
	}
}

// fftPeaks finds the count largest local maxima (mag[i] > both neighbors)
// and returns their bin indices in ascending order. Bins beyond n/2 are
// the FFT's mirrored negative-frequency half and are excluded.
func fftPeaks(mag []float64, count int) []int {
	var candidates []int
	half := len(mag) / 2
	for i := 1; i < half-1; i++ {
		if mag[i] > mag[i-1] && mag[i] > mag[i+1] {
			candidates = append(candidates, i)
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		return mag[candidates[a]] > mag[candidates[b]]
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	sort.Ints(candidates)
	return candidates
}

// fftMinPeak returns the first peak at or beyond minBin, which keeps the
// fundamental search off the DC and sub-bass bins. Falls back to minBin
// itself if no peak qualifies.
func fftMinPeak(peaks []int, minBin int) int {
	for _, p := range peaks {
		if p >= minBin {
			return p
		}
	}
	return minBin
}

// interpolatePeak refines an integer FFT bin k to a fractional bin with a
// three-point comparison: lean the estimate towards whichever neighbor of
// the peak carries more energy.
func interpolatePeak(mag []float64, k int) float64 {
	if k <= 0 || k >= len(mag)-1 {
		return float64(k)
	}
	y1, y2, y3 := mag[k-1], mag[k], mag[k+1]
	if y1 > y3 {
		if y1 > 0 {
			a := y2 / y1
			d := a / (1 + a)
			return float64(k-1) + d
		}
		return float64(k)
	}
	if y2 > 0 {
		a := y3 / y2
		d := a / (1 + a)
		return float64(k) + d
	}
	return float64(k)
}
