// Package classify defines the sound classes, the Prediction produced for
// each segment, and the Classifier interface implemented by inference
// backends.
package classify

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Class is a sound category recognized by the model.
type Class string

const (
	Horn  Class = "Horn"
	Siren Class = "Siren"
	None  Class = "None"
)

// ErrUnknownClass is returned when parsing a name outside the class set.
var ErrUnknownClass = errors.New("classify: unknown class")

// ErrBadOutput is returned by Decode for malformed probability vectors.
var ErrBadOutput = errors.New("classify: bad model output")

// ParseClass parses a class name. Matching is exact.
func ParseClass(s string) (Class, error) {
	switch c := Class(s); c {
	case Horn, Siren, None:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownClass, s)
}

func (c Class) String() string { return string(c) }

// Prediction is the classifier output for one segment.
type Prediction struct {
	Class         Class
	Probability   float32
	Probabilities []float32
}

func (p Prediction) String() string {
	return fmt.Sprintf("%s (%.4f)", p.Class, p.Probability)
}

// Classifier maps a feature matrix to a Prediction.
type Classifier interface {
	Infer(features *mat.Dense) (Prediction, error)
}

// DefaultLabels is the output order of the shipped model.
var DefaultLabels = Labels{Horn, None, Siren}

// Labels maps model output indices to classes.
type Labels []Class

// ParseLabels parses an ordered list of class names. Every class must
// appear at most once.
func ParseLabels(names []string) (Labels, error) {
	if len(names) == 0 {
		return nil, errors.New("classify: empty label list")
	}
	seen := make(map[Class]bool, len(names))
	labels := make(Labels, 0, len(names))
	for _, n := range names {
		c, err := ParseClass(n)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			return nil, fmt.Errorf("classify: duplicate label %q", n)
		}
		seen[c] = true
		labels = append(labels, c)
	}
	return labels, nil
}

// Decode picks the most probable class from a probability vector laid out
// in label order. Ties resolve to the lowest index.
func (l Labels) Decode(probs []float32) (Prediction, error) {
	if len(probs) != len(l) {
		return Prediction{}, fmt.Errorf("%w: %d probabilities for %d labels", ErrBadOutput, len(probs), len(l))
	}
	best := -1
	for i, p := range probs {
		f := float64(p)
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1+1e-5 {
			return Prediction{}, fmt.Errorf("%w: probability[%d] = %v", ErrBadOutput, i, p)
		}
		if best < 0 || p > probs[best] {
			best = i
		}
	}
	out := make([]float32, len(probs))
	copy(out, probs)
	return Prediction{
		Class:         l[best],
		Probability:   min(probs[best], 1),
		Probabilities: out,
	}, nil
}
