// Package debounce confirms classifier decisions that repeat on consecutive
// segments.
//
// A Debouncer is a Mealy machine driven only by the sequence of predictions
// fed to Observe. A prediction qualifies when its probability reaches the
// threshold configured for its class (or the default threshold). Two
// consecutive qualifying predictions of the same class emit one Event, after
// which the count restarts while the class is remembered: in an unbroken run
// observations 2, 4, 6, ... emit. Any non-qualifying prediction clears the
// state.
//
// A Debouncer is not safe for concurrent use.
package debounce

import (
	"github.com/LCH-chanho/ECHO/pkg/classify"
)

// DefaultThreshold applies to classes without an explicit threshold.
const DefaultThreshold = 0.80

// Confirmations is the number of consecutive qualifying observations needed
// to emit an Event.
const Confirmations = 2

// Event is a confirmed decision.
type Event struct {
	Class       classify.Class
	Probability float32
}

// State is a snapshot of the debouncer state. Last is empty when no class
// is armed.
type State struct {
	Last    classify.Class
	Repeats int
}

// Debouncer turns a stream of predictions into confirmed events.
type Debouncer struct {
	thresholds       map[classify.Class]float32
	defaultThreshold float32

	state State
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithThreshold sets the minimum probability for class c.
func WithThreshold(c classify.Class, p float32) Option {
	return func(d *Debouncer) {
		d.thresholds[c] = p
	}
}

// WithThresholds sets several per-class thresholds at once.
func WithThresholds(m map[classify.Class]float32) Option {
	return func(d *Debouncer) {
		for c, p := range m {
			d.thresholds[c] = p
		}
	}
}

// WithDefaultThreshold sets the threshold for classes without their own.
func WithDefaultThreshold(p float32) Option {
	return func(d *Debouncer) {
		d.defaultThreshold = p
	}
}

// New creates a Debouncer in the empty state.
func New(opts ...Option) *Debouncer {
	d := &Debouncer{
		thresholds:       make(map[classify.Class]float32),
		defaultThreshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the minimum probability for class c.
func (d *Debouncer) Threshold(c classify.Class) float32 {
	if p, ok := d.thresholds[c]; ok {
		return p
	}
	return d.defaultThreshold
}

// Observe feeds one prediction and reports whether it completes a
// confirmation.
func (d *Debouncer) Observe(p classify.Prediction) (Event, bool) {
	if p.Probability < d.Threshold(p.Class) {
		d.state = State{}
		return Event{}, false
	}
	if p.Class == d.state.Last {
		d.state.Repeats++
	} else {
		d.state = State{Last: p.Class, Repeats: 1}
	}
	if d.state.Repeats == Confirmations {
		d.state.Repeats = 0
		return Event{Class: p.Class, Probability: p.Probability}, true
	}
	return Event{}, false
}

// State returns the current state.
func (d *Debouncer) State() State {
	return d.state
}

// Reset clears the state.
func (d *Debouncer) Reset() {
	d.state = State{}
}
