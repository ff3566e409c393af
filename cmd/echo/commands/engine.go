package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/LCH-chanho/ECHO/pkg/audio/gammatone"
	"github.com/LCH-chanho/ECHO/pkg/audio/resampler"
	"github.com/LCH-chanho/ECHO/pkg/audio/segment"
	"github.com/LCH-chanho/ECHO/pkg/cli"
	"github.com/LCH-chanho/ECHO/pkg/config"
	"github.com/LCH-chanho/ECHO/pkg/debounce"
	"github.com/LCH-chanho/ECHO/pkg/journal"
	"github.com/LCH-chanho/ECHO/pkg/metrics"
	"github.com/LCH-chanho/ECHO/pkg/onnx"
	"github.com/LCH-chanho/ECHO/pkg/pipeline"
	"github.com/LCH-chanho/ECHO/pkg/seriallink"
)

// engine holds everything the pipeline needs except the audio source and
// the serial link.
type engine struct {
	cfg    *config.Config
	logger *slog.Logger

	segments   *segment.Buffer
	resampler  *resampler.Resampler
	extractor  *gammatone.Extractor
	classifier *onnx.Classifier
	journal    *journal.Journal
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
}

// openEngine loads the model and opens the journal. captureRate is the rate
// of the samples that will be pushed into the segment buffer.
func openEngine(cfg *config.Config, captureRate int, logger *slog.Logger) (e *engine, err error) {
	e = &engine{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	e.segments, err = segment.New(segment.Samples(cfg.Features.SegmentSeconds, captureRate))
	if err != nil {
		return nil, err
	}
	e.resampler, err = resampler.New(captureRate, cfg.Model.SampleRate)
	if err != nil {
		return nil, err
	}
	e.extractor, err = gammatone.New(cfg.Features.Gammatone(cfg.Model.SampleRate))
	if err != nil {
		return nil, err
	}

	labels, err := cfg.Model.ClassLabels()
	if err != nil {
		return nil, err
	}
	filters, frames := e.extractor.Shape()
	e.classifier, err = onnx.NewClassifier(appFs, onnx.ClassifierConfig{
		Path:           cfg.Model.Path,
		Labels:         labels,
		InputName:      cfg.Model.InputName,
		OutputName:     cfg.Model.OutputName,
		Filters:        filters,
		Frames:         frames,
		IntraOpThreads: cfg.Model.IntraOpThreads,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load classifier: %w", err)
	}

	if cfg.Journal.Enabled() {
		e.journal, err = openJournal(cfg.Journal, logger)
		if err != nil {
			return nil, err
		}
	}

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e.metrics = metrics.New(e.registry)

	logger.Info("engine ready",
		"segment_samples", e.segments.Size(),
		"capture_rate", captureRate,
		"model_rate", cfg.Model.SampleRate,
		"features", fmt.Sprintf("%dx%d", filters, frames),
		"journal", cfg.Journal.Enabled(),
	)
	return e, nil
}

func openJournal(c config.JournalConfig, logger *slog.Logger) (*journal.Journal, error) {
	store, err := journal.NewBadger(journal.BadgerOptions{
		Dir:      c.Dir,
		InMemory: c.InMemory,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return journal.New(store)
}

// connect opens the serial link when enabled. A failed handshake is logged
// and leaves the link Faulted; the pipeline then runs without a peer.
func (e *engine) connect(ctx context.Context) *seriallink.Link {
	if !e.cfg.Serial.Enabled {
		e.logger.Info("serial link disabled")
		return nil
	}
	link := seriallink.New(e.cfg.Serial.Link(), seriallink.WithLogger(e.logger))
	if err := link.Connect(ctx); err != nil {
		e.logger.Warn("no serial peer, continuing without dispatch", "error", err)
	}
	e.metrics.SetSerialState(int(link.State()))
	return link
}

// controller builds the main loop around link, which may be nil.
func (e *engine) controller(link *seriallink.Link) (*pipeline.Controller, error) {
	cfg := pipeline.Config{
		Segments:     e.segments,
		Resampler:    e.resampler,
		Extractor:    e.extractor,
		Classifier:   e.classifier,
		Debouncer:    debounce.New(e.cfg.Decision.Options()...),
		Metrics:      e.metrics,
		Logger:       e.logger,
		IdleInterval: e.cfg.Pipeline.IdleInterval,
	}
	if link != nil {
		cfg.Link = link
	}
	if e.journal != nil {
		cfg.Journal = e.journal
	}
	return pipeline.New(cfg)
}

// serveMetrics starts the Prometheus endpoint when configured.
func (e *engine) serveMetrics(ctx context.Context) {
	addr := e.cfg.Metrics.Listen
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, e.registry, e.logger); err != nil {
			e.logger.Error("metrics server", "error", err)
		}
	}()
}

// Close releases the classifier and the journal.
func (e *engine) Close() error {
	var errs []error
	if e.segments != nil {
		e.segments.Close()
	}
	if e.classifier != nil {
		errs = append(errs, e.classifier.Close())
	}
	if e.journal != nil {
		errs = append(errs, e.journal.Close())
	}
	return errors.Join(errs...)
}

func statsSummary(title, status string, s pipeline.Stats, elapsed time.Duration, extra ...cli.Field) cli.Summary {
	fields := []cli.Field{
		{Label: "segments", Value: fmt.Sprint(s.Processed)},
		{Label: "dropped", Value: fmt.Sprint(s.Dropped)},
		{Label: "confirmed", Value: fmt.Sprint(s.Confirmed)},
		{Label: "dispatched", Value: fmt.Sprint(s.Dispatched)},
		{Label: "elapsed", Value: elapsed.Round(time.Millisecond).String()},
	}
	return cli.Summary{Title: title, Status: status, Fields: append(fields, extra...)}
}
