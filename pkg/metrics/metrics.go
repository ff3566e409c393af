// Package metrics exposes pipeline instrumentation to Prometheus.
//
// All Record*/Set* methods are safe on a nil *Metrics, so instrumented code
// does not need to check whether metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "echo"

// Metrics contains the Prometheus collectors of the detector.
type Metrics struct {
	SegmentsProcessed prometheus.Counter
	SegmentsDropped   *prometheus.CounterVec
	Predictions       *prometheus.CounterVec
	Confirmed         *prometheus.CounterVec
	Dispatched        *prometheus.CounterVec
	Backlog           prometheus.Gauge
	ProcessingTime    prometheus.Histogram
	Confidence        prometheus.Histogram
	SerialState       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SegmentsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_processed_total",
			Help:      "Segments that produced a prediction",
		}),
		SegmentsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_dropped_total",
			Help:      "Segments dropped because a processing stage failed",
		}, []string{"stage"}),
		Predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Raw classifier decisions per class",
		}, []string{"class"}),
		Confirmed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmed_total",
			Help:      "Debounced decisions per class",
		}, []string{"class"}),
		Dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Commands written to the serial peer",
		}, []string{"command"}),
		Backlog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backlog_samples",
			Help:      "Samples buffered and not yet processed",
		}),
		ProcessingTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_processing_seconds",
			Help:      "Time from segment drain to decision",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		}),
		Confidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_confidence",
			Help:      "Probability of the winning class",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		SerialState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "serial_state",
			Help:      "Serial link state (0 disconnected, 1 connecting, 2 handshaking, 3 ready, 4 faulted)",
		}),
	}
}

// RecordPrediction counts a classifier decision and its processing time.
func (m *Metrics) RecordPrediction(class string, confidence float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SegmentsProcessed.Inc()
	m.Predictions.WithLabelValues(class).Inc()
	m.Confidence.Observe(confidence)
	m.ProcessingTime.Observe(elapsed.Seconds())
}

// RecordDrop counts a segment dropped at stage.
func (m *Metrics) RecordDrop(stage string) {
	if m == nil {
		return
	}
	m.SegmentsDropped.WithLabelValues(stage).Inc()
}

// RecordConfirmed counts a debounced decision.
func (m *Metrics) RecordConfirmed(class string) {
	if m == nil {
		return
	}
	m.Confirmed.WithLabelValues(class).Inc()
}

// RecordDispatched counts a command written to the peer.
func (m *Metrics) RecordDispatched(command string) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(command).Inc()
}

// SetBacklog sets the number of buffered samples.
func (m *Metrics) SetBacklog(samples int) {
	if m == nil {
		return
	}
	m.Backlog.Set(float64(samples))
}

// SetSerialState sets the serial link state gauge.
func (m *Metrics) SetSerialState(state int) {
	if m == nil {
		return
	}
	m.SerialState.Set(float64(state))
}

// Serve exposes the collectors of g on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
