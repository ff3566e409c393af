package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gonum.org/v1/gonum/mat"

	"github.com/LCH-chanho/ECHO/pkg/audio/gammatone"
	"github.com/LCH-chanho/ECHO/pkg/audio/resampler"
	"github.com/LCH-chanho/ECHO/pkg/audio/segment"
	"github.com/LCH-chanho/ECHO/pkg/classify"
	"github.com/LCH-chanho/ECHO/pkg/debounce"
	"github.com/LCH-chanho/ECHO/pkg/journal"
	"github.com/LCH-chanho/ECHO/pkg/metrics"
	"github.com/LCH-chanho/ECHO/pkg/seriallink"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// scripted returns preds in call order. A non-nil errs[i] fails call i+1
// instead, and panicOn makes that call (1-based) panic.
type scripted struct {
	mu      sync.Mutex
	preds   []classify.Prediction
	errs    []error
	panicOn int
	calls   int
}

func (s *scripted) Infer(*mat.Dense) (classify.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == s.panicOn {
		panic("model exploded")
	}
	i := s.calls - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return classify.Prediction{}, s.errs[i]
	}
	if i < len(s.preds) {
		return s.preds[i], nil
	}
	return classify.Prediction{Class: classify.None, Probability: 0.1}, nil
}

type passthrough struct{ err error }

func (p passthrough) Resample(seg []float32) ([]float32, error) { return seg, p.err }

type zeros struct{}

func (zeros) Extract([]float32) (*mat.Dense, error) { return mat.NewDense(64, 60, nil), nil }

type recordingLink struct {
	mu     sync.Mutex
	cmds   []seriallink.Command
	drains int
}

func (l *recordingLink) Dispatch(cmd seriallink.Command) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cmds = append(l.cmds, cmd)
	return true
}

func (l *recordingLink) DrainUnsolicited() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drains++
	return 0
}

func (l *recordingLink) State() seriallink.State { return seriallink.Ready }

// peer is a serial port that answers the first ping.
type peer struct {
	mu      sync.Mutex
	inbound bytes.Buffer
	wire    bytes.Buffer
}

func (p *peer) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inbound.Len() == 0 {
		return 0, nil
	}
	return p.inbound.Read(b)
}

func (p *peer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wire.Write(b)
	if string(b) == "ping\n" {
		p.inbound.WriteString("pong\n")
	}
	return len(b), nil
}

func (p *peer) Close() error                       { return nil }
func (p *peer) SetReadTimeout(time.Duration) error { return nil }
func (p *peer) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound.Reset()
	return nil
}

func newSegments(t *testing.T, size, count int) *segment.Buffer {
	t.Helper()
	buf, err := segment.New(size)
	if err != nil {
		t.Fatal(err)
	}
	for range count {
		if err := buf.Push(make([]float32, size)); err != nil {
			t.Fatal(err)
		}
	}
	return buf
}

func siren(p float32) classify.Prediction {
	return classify.Prediction{Class: classify.Siren, Probability: p}
}

func TestRun_SirenTwiceDispatchesOnce(t *testing.T) {
	port := &peer{}
	link := seriallink.New(seriallink.Config{
		Port:           "/dev/fake",
		Baud:           9600,
		MaxAttempts:    3,
		AttemptTimeout: 20 * time.Millisecond,
	},
		seriallink.WithOpener(func(string, int) (seriallink.Port, error) { return port, nil }),
		seriallink.WithLogger(discard),
	)
	defer link.Close()
	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	rs, err := resampler.New(48000, 44100)
	if err != nil {
		t.Fatal(err)
	}
	ex, err := gammatone.New(gammatone.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	segs := newSegments(t, 28800, 2)
	segs.Close()

	jr, err := journal.New(journal.NewMemory())
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New(prometheus.NewRegistry())

	c, err := New(Config{
		Segments:   segs,
		Resampler:  rs,
		Extractor:  ex,
		Classifier: &scripted{preds: []classify.Prediction{siren(0.97), siren(0.97)}},
		Debouncer:  debounce.New(debounce.WithThreshold(classify.Siren, 0.94)),
		Link:       link,
		Journal:    jr,
		Metrics:    m,
		Logger:     discard,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	port.mu.Lock()
	wire := port.wire.String()
	port.mu.Unlock()
	if wire != "ping\nINIT\nSIREN\n" {
		t.Fatalf("wire = %q, want one SIREN after the handshake", wire)
	}

	want := Stats{Processed: 2, Confirmed: 1, Dispatched: 1}
	if got := c.Stats(); got != want {
		t.Fatalf("Stats = %+v, want %+v", got, want)
	}

	events, err := jr.List(context.Background(), journal.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Class != "Siren" || events[0].Command != "SIREN" || !events[0].Dispatched {
		t.Fatalf("journal = %+v", events)
	}
	if got := testutil.ToFloat64(m.Dispatched.WithLabelValues("SIREN")); got != 1 {
		t.Fatalf("dispatched metric = %v, want 1", got)
	}
}

func TestRun_DropsFailingSegments(t *testing.T) {
	segs := newSegments(t, 100, 4)
	segs.Close()

	cls := &scripted{
		preds:   []classify.Prediction{{}, {}, siren(0.99), siren(0.99)},
		errs:    []error{errors.New("bad tensor")},
		panicOn: 2,
	}
	link := &recordingLink{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	c, err := New(Config{
		Segments:   segs,
		Resampler:  passthrough{},
		Extractor:  zeros{},
		Classifier: cls,
		Link:       link,
		Metrics:    m,
		Logger:     discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := Stats{Processed: 2, Dropped: 2, Confirmed: 1, Dispatched: 1}
	if got := c.Stats(); got != want {
		t.Fatalf("Stats = %+v, want %+v", got, want)
	}
	if len(link.cmds) != 1 || link.cmds[0] != seriallink.CmdSiren {
		t.Fatalf("dispatched %v", link.cmds)
	}
	if got := testutil.ToFloat64(m.SegmentsDropped.WithLabelValues(StageInfer)); got != 2 {
		t.Fatalf("dropped{infer} = %v, want 2", got)
	}
	if link.drains == 0 {
		t.Fatal("unsolicited traffic was never drained")
	}
}

func TestRun_ResampleErrorStage(t *testing.T) {
	segs := newSegments(t, 10, 1)
	segs.Close()
	m := metrics.New(prometheus.NewRegistry())

	c, err := New(Config{
		Segments:   segs,
		Resampler:  passthrough{err: errors.New("rate")},
		Extractor:  zeros{},
		Classifier: &scripted{},
		Metrics:    m,
		Logger:     discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.SegmentsDropped.WithLabelValues(StageResample)); got != 1 {
		t.Fatalf("dropped{resample} = %v, want 1", got)
	}
}

func TestRun_NoPeer(t *testing.T) {
	segs := newSegments(t, 10, 2)
	segs.Close()

	c, err := New(Config{
		Segments:   segs,
		Resampler:  passthrough{},
		Extractor:  zeros{},
		Classifier: &scripted{preds: []classify.Prediction{siren(0.99), siren(0.99)}},
		Logger:     discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := Stats{Processed: 2, Confirmed: 1}
	if got := c.Stats(); got != want {
		t.Fatalf("Stats = %+v, want %+v", got, want)
	}
}

func TestRun_Cancel(t *testing.T) {
	segs := newSegments(t, 10, 0)
	c, err := New(Config{
		Segments:     segs,
		Resampler:    passthrough{},
		Extractor:    zeros{},
		Classifier:   &scripted{},
		Logger:       discard,
		IdleInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_WakesOnPush(t *testing.T) {
	segs := newSegments(t, 10, 0)
	c, err := New(Config{
		Segments:     segs,
		Resampler:    passthrough{},
		Extractor:    zeros{},
		Classifier:   &scripted{},
		Logger:       discard,
		IdleInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	// Irregular chunks that add up to three segments.
	for _, n := range []int{3, 9, 7, 11} {
		if err := segs.Push(make([]float32, n)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	segs.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not finish after the source closed")
	}
	if got := c.Stats().Processed; got != 3 {
		t.Fatalf("processed %d segments, want 3", got)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	segs := newSegments(t, 10, 0)
	cases := []Config{
		{Resampler: passthrough{}, Extractor: zeros{}, Classifier: &scripted{}},
		{Segments: segs, Extractor: zeros{}, Classifier: &scripted{}},
		{Segments: segs, Resampler: passthrough{}, Classifier: &scripted{}},
		{Segments: segs, Resampler: passthrough{}, Extractor: zeros{}},
	}
	for i, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Errorf("case %d: New should fail", i)
		}
	}
}
