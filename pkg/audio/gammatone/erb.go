package gammatone

import "math"

// Glasberg and Moore ERB parameters.
const (
	earQ  = 9.26449
	minBW = 24.7

	// bwCorrection widens the ERB to the 4th-order gammatone bandwidth.
	bwCorrection = 1.019
)

// erb returns the equivalent rectangular bandwidth at f Hz.
func erb(f float64) float64 {
	return f/earQ + minBW
}

// centreFrequencies returns n ERB-spaced frequencies between low and high,
// highest first. The last element equals low.
func centreFrequencies(n int, low, high float64) []float64 {
	cf := make([]float64, n)
	c := earQ * minBW
	step := (math.Log(low+c) - math.Log(high+c)) / float64(n)
	for i := range cf {
		cf[i] = -c + math.Exp(float64(i+1)*step)*(high+c)
	}
	return cf
}

// weights returns a [len(cf)][nfft/2+1] matrix of 4th-order gammatone
// magnitude responses sampled at the FFT bin frequencies.
func weights(cf []float64, nfft, rate int) [][]float64 {
	bins := nfft/2 + 1
	w := make([][]float64, len(cf))
	for i, f0 := range cf {
		b := bwCorrection * erb(f0)
		row := make([]float64, bins)
		for k := range row {
			f := float64(k) * float64(rate) / float64(nfft)
			x := (f - f0) / b
			d := 1 + x*x
			row[k] = 1 / (d * d)
		}
		w[i] = row
	}
	return w
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
