package resampler

import (
	"errors"
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrInvalidRate is returned when a source or destination rate is not positive.
var ErrInvalidRate = errors.New("resampler: invalid sample rate")

// Resampler converts mono float32 segments from one sample rate to another.
//
// Every call to Resample is independent: a fresh converter is created per
// segment so no filter state leaks between segments. A Resampler is safe for
// concurrent use.
type Resampler struct {
	from, to int
}

// New creates a Resampler from the from rate to the to rate in Hz.
func New(from, to int) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, from, to)
	}
	return &Resampler{from: from, to: to}, nil
}

// InputRate returns the source sample rate in Hz.
func (r *Resampler) InputRate() int { return r.from }

// OutputRate returns the destination sample rate in Hz.
func (r *Resampler) OutputRate() int { return r.to }

// Resample converts seg. See the package-level Resample.
func (r *Resampler) Resample(seg []float32) ([]float32, error) {
	return Resample(seg, r.from, r.to)
}

// OutputLen returns the number of samples Resample produces for n input
// samples: round(n * to / from).
func OutputLen(n, from, to int) int {
	if from <= 0 || to <= 0 || n <= 0 {
		return 0
	}
	return int(math.Round(float64(n) * float64(to) / float64(from)))
}

// Resample converts a mono segment sampled at from Hz to to Hz.
//
// The converter is flushed so the filter delay it holds back lands at the end
// of the result. The result always holds OutputLen(len(seg), from, to)
// samples: a short tail is zero-padded and any surplus is truncated. Equal
// rates return a copy of seg.
func Resample(seg []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, from, to)
	}
	if len(seg) == 0 {
		return []float32{}, nil
	}
	if from == to {
		out := make([]float32, len(seg))
		copy(out, seg)
		return out, nil
	}

	conv, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: create converter: %w", err)
	}

	input := make([]float64, len(seg))
	for i, s := range seg {
		input[i] = float64(s)
	}
	output, err := conv.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampler: process: %w", err)
	}
	tail, err := conv.Flush()
	if err != nil {
		return nil, fmt.Errorf("resampler: flush: %w", err)
	}
	output = append(output, tail...)

	out := make([]float32, OutputLen(len(seg), from, to))
	for i := 0; i < len(out) && i < len(output); i++ {
		out[i] = float32(output[i])
	}
	return out, nil
}
