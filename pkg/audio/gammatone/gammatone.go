// Package gammatone computes log gammatone-envelope feature matrices from
// mono audio segments.
//
// Each analysis frame is Hann-windowed and transformed with a real FFT; the
// magnitude spectrum is weighted by a bank of ERB-spaced 4th-order gammatone
// magnitude responses. Channels are ordered highest centre frequency first.
// The energies are log-compressed and the matrix is zero-padded or truncated
// on the right to a fixed number of frames, so every segment yields the same
// shape.
//
// Default parameters:
//
//	SampleRate:   44100
//	WindowTime:   0.025 s
//	HopTime:      0.010 s
//	NumFilters:   64
//	MinFreq:      50 Hz
//	TargetFrames: 60
package gammatone

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/mat"
)

// logFloor is added before the logarithm.
const logFloor = 1e-6

var (
	// ErrEmptySegment is returned for a zero-length input.
	ErrEmptySegment = errors.New("gammatone: empty segment")

	// ErrNonFinite is returned when the input contains NaN or Inf.
	ErrNonFinite = errors.New("gammatone: non-finite sample")
)

// Config controls feature extraction.
type Config struct {
	SampleRate   int     // input rate in Hz
	WindowTime   float64 // analysis window in seconds
	HopTime      float64 // frame advance in seconds
	NumFilters   int     // gammatone channels
	MinFreq      float64 // lowest centre frequency in Hz
	TargetFrames int     // output columns
}

// DefaultConfig returns the parameters the shipped model was trained with.
func DefaultConfig() Config {
	return Config{
		SampleRate:   44100,
		WindowTime:   0.025,
		HopTime:      0.010,
		NumFilters:   64,
		MinFreq:      50,
		TargetFrames: 60,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	case c.WindowTime <= 0 || c.HopTime <= 0:
		return fmt.Errorf("window and hop must be positive, got %v and %v", c.WindowTime, c.HopTime)
	case c.NumFilters <= 0:
		return fmt.Errorf("invalid filter count %d", c.NumFilters)
	case c.MinFreq <= 0 || c.MinFreq >= float64(c.SampleRate)/2:
		return fmt.Errorf("min frequency %v outside (0, %d)", c.MinFreq, c.SampleRate/2)
	case c.TargetFrames <= 0:
		return fmt.Errorf("invalid target frames %d", c.TargetFrames)
	}
	if round(c.WindowTime*float64(c.SampleRate)) < 2 || round(c.HopTime*float64(c.SampleRate)) < 1 {
		return errors.New("window or hop shorter than one sample")
	}
	return nil
}

// Extractor computes feature matrices. It is safe for concurrent use.
type Extractor struct {
	cfg     Config
	win     int
	hop     int
	nfft    int
	window  []float64
	centres []float64
	weights [][]float64
}

// New creates an Extractor, precomputing the window and filter bank.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gammatone: %w", err)
	}
	win := round(cfg.WindowTime * float64(cfg.SampleRate))
	nfft := nextPow2(2 * win)
	centres := centreFrequencies(cfg.NumFilters, cfg.MinFreq, float64(cfg.SampleRate)/2)
	return &Extractor{
		cfg:     cfg,
		win:     win,
		hop:     round(cfg.HopTime * float64(cfg.SampleRate)),
		nfft:    nfft,
		window:  window.Hann(win),
		centres: centres,
		weights: weights(centres, nfft, cfg.SampleRate),
	}, nil
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Shape returns the (rows, cols) of every matrix Extract produces.
func (e *Extractor) Shape() (filters, frames int) {
	return e.cfg.NumFilters, e.cfg.TargetFrames
}

// CentreFrequencies returns the channel centre frequencies, highest first.
func (e *Extractor) CentreFrequencies() []float64 {
	out := make([]float64, len(e.centres))
	copy(out, e.centres)
	return out
}

// Frames returns the number of analysis frames in n samples before padding
// or truncation.
func (e *Extractor) Frames(n int) int {
	if n < e.win {
		return 0
	}
	return 1 + (n-e.win)/e.hop
}

// Extract returns a NumFilters x TargetFrames matrix of log gammatone
// energies for seg.
func (e *Extractor) Extract(seg []float32) (*mat.Dense, error) {
	if len(seg) == 0 {
		return nil, ErrEmptySegment
	}
	for i, s := range seg {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w at %d", ErrNonFinite, i)
		}
	}

	rows, cols := e.cfg.NumFilters, e.cfg.TargetFrames
	out := mat.NewDense(rows, cols, nil)
	frames := min(e.Frames(len(seg)), cols)

	frame := make([]float64, e.nfft)
	mag := make([]float64, e.nfft/2+1)
	scale := 1 / float64(e.nfft)
	for t := 0; t < frames; t++ {
		start := t * e.hop
		for i := 0; i < e.win; i++ {
			frame[i] = float64(seg[start+i]) * e.window[i]
		}
		for i := e.win; i < e.nfft; i++ {
			frame[i] = 0
		}
		spectrum := fft.FFTReal(frame)
		for k := range mag {
			mag[k] = cmplx.Abs(spectrum[k])
		}
		for c, w := range e.weights {
			var sum float64
			for k, wk := range w {
				sum += wk * mag[k]
			}
			out.Set(c, t, math.Log(sum*scale+logFloor))
		}
	}
	return out, nil
}

// round rounds half away from zero.
func round(x float64) int {
	return int(math.Round(x))
}
