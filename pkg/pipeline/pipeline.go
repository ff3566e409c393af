// Package pipeline runs the detection loop.
//
// A Controller is the single consumer of a segment buffer. Each iteration it
// drains unsolicited peer traffic, takes at most one whole segment, and runs
// it through resampling, feature extraction and classification. Predictions
// feed a debouncer; confirmed decisions are dispatched to the serial peer and
// recorded in the journal.
//
// Failures while processing a segment, including panics in a collaborator,
// drop that segment only. Run returns when the context is done or when the
// segment source is closed and holds no further whole segment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/LCH-chanho/ECHO/pkg/classify"
	"github.com/LCH-chanho/ECHO/pkg/debounce"
	"github.com/LCH-chanho/ECHO/pkg/journal"
	"github.com/LCH-chanho/ECHO/pkg/metrics"
	"github.com/LCH-chanho/ECHO/pkg/seriallink"
)

// Processing stages, used as drop reasons in logs and metrics.
const (
	StageResample = "resample"
	StageExtract  = "extract"
	StageInfer    = "infer"
)

// DefaultIdleInterval bounds the wait when no segment is ready.
const DefaultIdleInterval = 10 * time.Millisecond

// Segments is the consumer side of a segment buffer.
type Segments interface {
	Drain() ([]float32, bool)
	Ready() <-chan struct{}
	Len() int
	Closed() bool
}

// Resampler converts a segment to the model rate.
type Resampler interface {
	Resample(seg []float32) ([]float32, error)
}

// Extractor turns a segment into a feature matrix.
type Extractor interface {
	Extract(seg []float32) (*mat.Dense, error)
}

// Dispatcher is the serial peer.
type Dispatcher interface {
	Dispatch(cmd seriallink.Command) bool
	DrainUnsolicited() int
	State() seriallink.State
}

// Recorder persists confirmed events.
type Recorder interface {
	Append(ctx context.Context, ev journal.Event) (journal.Event, error)
}

// Config wires a Controller. Segments, Resampler, Extractor and Classifier
// are required.
type Config struct {
	Segments   Segments
	Resampler  Resampler
	Extractor  Extractor
	Classifier classify.Classifier

	// Debouncer defaults to debounce.New().
	Debouncer *debounce.Debouncer

	// Link may be nil, in which case confirmed events are not dispatched.
	Link Dispatcher

	Journal Recorder
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	IdleInterval time.Duration
}

// Stats are the loop counters.
type Stats struct {
	Processed  uint64 `json:"processed" yaml:"processed"`
	Dropped    uint64 `json:"dropped" yaml:"dropped"`
	Confirmed  uint64 `json:"confirmed" yaml:"confirmed"`
	Dispatched uint64 `json:"dispatched" yaml:"dispatched"`
}

// Controller is the main loop.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	processed  atomic.Uint64
	dropped    atomic.Uint64
	confirmed  atomic.Uint64
	dispatched atomic.Uint64
}

// New validates cfg and creates a Controller.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Segments == nil:
		return nil, errors.New("pipeline: segment source is required")
	case cfg.Resampler == nil:
		return nil, errors.New("pipeline: resampler is required")
	case cfg.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case cfg.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	}
	if cfg.Debouncer == nil {
		cfg.Debouncer = debounce.New()
	}
	if cfg.Link == nil {
		cfg.Link = noPeer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	return &Controller{cfg: cfg, logger: cfg.Logger}, nil
}

// Stats returns a snapshot of the counters. It is safe to call while Run
// is active.
func (c *Controller) Stats() Stats {
	return Stats{
		Processed:  c.processed.Load(),
		Dropped:    c.dropped.Load(),
		Confirmed:  c.confirmed.Load(),
		Dispatched: c.dispatched.Load(),
	}
}

// Run processes segments until ctx is done, returning ctx.Err(), or until
// the source is closed and exhausted, returning nil.
func (c *Controller) Run(ctx context.Context) error {
	idle := time.NewTimer(c.cfg.IdleInterval)
	defer idle.Stop()

	c.logger.Info("pipeline started", "idle_interval", c.cfg.IdleInterval)
	defer func() {
		s := c.Stats()
		c.logger.Info("pipeline stopped",
			"processed", s.Processed,
			"dropped", s.Dropped,
			"confirmed", s.Confirmed,
			"dispatched", s.Dispatched,
		)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.cfg.Link.DrainUnsolicited()
		c.cfg.Metrics.SetSerialState(int(c.cfg.Link.State()))

		closed := c.cfg.Segments.Closed()
		seg, ok := c.cfg.Segments.Drain()
		if !ok {
			if closed {
				return nil
			}
			idle.Reset(c.cfg.IdleInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.cfg.Segments.Ready():
			case <-idle.C:
			}
			continue
		}

		c.cfg.Metrics.SetBacklog(c.cfg.Segments.Len())
		c.process(ctx, seg)
	}
}

func (c *Controller) process(ctx context.Context, seg []float32) {
	start := time.Now()
	pred, stage, err := c.classify(seg)
	if err != nil {
		c.dropped.Add(1)
		c.cfg.Metrics.RecordDrop(stage)
		c.logger.Warn("segment dropped", "stage", stage, "error", err)
		return
	}
	c.processed.Add(1)
	c.cfg.Metrics.RecordPrediction(pred.Class.String(), float64(pred.Probability), time.Since(start))
	c.logger.Debug("prediction", "class", pred.Class, "probability", pred.Probability, "elapsed", time.Since(start))

	ev, ok := c.cfg.Debouncer.Observe(pred)
	if !ok {
		return
	}
	c.confirmed.Add(1)
	c.cfg.Metrics.RecordConfirmed(ev.Class.String())

	cmd, ok := seriallink.CommandFor(ev.Class)
	if !ok {
		c.logger.Warn("no command for class", "class", ev.Class)
		return
	}
	sent := c.cfg.Link.Dispatch(cmd)
	if sent {
		c.dispatched.Add(1)
		c.cfg.Metrics.RecordDispatched(cmd.String())
	}
	c.logger.Info("detection confirmed",
		"class", ev.Class,
		"probability", ev.Probability,
		"command", cmd,
		"dispatched", sent,
	)

	if c.cfg.Journal == nil {
		return
	}
	if _, err := c.cfg.Journal.Append(ctx, journal.Event{
		Class:       ev.Class.String(),
		Probability: ev.Probability,
		Command:     cmd.String(),
		Dispatched:  sent,
	}); err != nil {
		c.logger.Warn("journal append failed", "error", err)
	}
}

// classify runs the per-segment chain. On failure stage names the step that
// failed. Panics are converted to errors.
func (c *Controller) classify(seg []float32) (pred classify.Prediction, stage string, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 16<<10)
			buf = buf[:runtime.Stack(buf, false)]
			c.logger.Error("panic in pipeline stage", "stage", stage, "panic", r, "stack", string(buf))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	stage = StageResample
	resampled, err := c.cfg.Resampler.Resample(seg)
	if err != nil {
		return pred, stage, err
	}

	stage = StageExtract
	features, err := c.cfg.Extractor.Extract(resampled)
	if err != nil {
		return pred, stage, err
	}

	stage = StageInfer
	pred, err = c.cfg.Classifier.Infer(features)
	return pred, stage, err
}

// noPeer stands in for a missing serial link.
type noPeer struct{}

func (noPeer) Dispatch(seriallink.Command) bool { return false }
func (noPeer) DrainUnsolicited() int            { return 0 }
func (noPeer) State() seriallink.State          { return seriallink.Disconnected }
