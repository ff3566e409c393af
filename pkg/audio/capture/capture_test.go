package capture

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

type recordSink struct {
	pushes  int
	samples []float32
	err     error
}

func (s *recordSink) Push(p []float32) error {
	if s.err != nil {
		return s.err
	}
	s.pushes++
	s.samples = append(s.samples, p...)
	return nil
}

func TestInt32Channel(t *testing.T) {
	// Two frames of stereo: L=full-scale/2, R=-full-scale/4.
	in := []int32{1 << 30, -(1 << 29), 1 << 30, -(1 << 29)}

	left := Int32Channel(nil, in, 2, 0, 0.1)
	if len(left) != 2 {
		t.Fatalf("len = %d, want 2", len(left))
	}
	if math.Abs(float64(left[0])-0.05) > 1e-7 {
		t.Errorf("left[0] = %v, want 0.05", left[0])
	}

	right := Int32Channel(left, in, 2, 1, 1)
	if math.Abs(float64(right[1])+0.25) > 1e-7 {
		t.Errorf("right[1] = %v, want -0.25", right[1])
	}
	if &right[0] != &left[0] {
		t.Error("dst with enough capacity should be reused")
	}

	if got := Int32Channel(nil, in, 2, 2, 1); len(got) != 0 {
		t.Errorf("out-of-range channel returned %v", got)
	}
}

func TestReplay(t *testing.T) {
	samples := make([]float32, 1050)
	for i := range samples {
		samples[i] = float32(i)
	}
	sink := &recordSink{}
	if err := Replay(context.Background(), sink, samples, 48000, ReplayOptions{Chunk: 100}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if sink.pushes != 11 {
		t.Errorf("pushes = %d, want 11", sink.pushes)
	}
	if len(sink.samples) != len(samples) || sink.samples[1049] != 1049 {
		t.Fatalf("replayed %d samples", len(sink.samples))
	}
}

func TestReplay_Realtime(t *testing.T) {
	sink := &recordSink{}
	start := time.Now()
	// 10 chunks of 10 ms.
	err := Replay(context.Background(), sink, make([]float32, 1600), 16000, ReplayOptions{Chunk: 160, Realtime: true})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("realtime replay took %v, want >= 80ms", elapsed)
	}
}

func TestReplay_Errors(t *testing.T) {
	sinkErr := errors.New("closed")
	err := Replay(context.Background(), &recordSink{err: sinkErr}, make([]float32, 10), 100, ReplayOptions{})
	if !errors.Is(err, sinkErr) {
		t.Errorf("got %v, want sink error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Replay(ctx, &recordSink{}, make([]float32, 10), 100, ReplayOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}

	if err := Replay(context.Background(), &recordSink{}, nil, 0, ReplayOptions{}); err == nil {
		t.Error("zero rate should fail")
	}
}

func writeWAV(t *testing.T, fs afero.Fs, path string, rate, depth, channels int, data []int) {
	t.Helper()
	f, err := fs.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, depth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: depth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("encode close: %v", err)
	}
	f.Close()
}

func TestReadWAV(t *testing.T) {
	fs := afero.NewMemMapFs()
	// Stereo 16-bit: left ramps, right is constant half scale.
	var data []int
	for i := 0; i < 100; i++ {
		data = append(data, i*100, 16384)
	}
	writeWAV(t, fs, "/bench/siren.wav", 48000, 16, 2, data)

	rec, err := ReadWAV(fs, "/bench/siren.wav", 1, 1)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if rec.SampleRate != 48000 || rec.Channels != 2 || rec.BitDepth != 16 {
		t.Fatalf("header = %+v", rec)
	}
	if len(rec.Samples) != 100 {
		t.Fatalf("samples = %d, want 100", len(rec.Samples))
	}
	if rec.Samples[0] != 0.5 {
		t.Errorf("right channel = %v, want 0.5", rec.Samples[0])
	}

	left, err := ReadWAV(fs, "/bench/siren.wav", 0, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	want := float32(9900.0 / 32768 * 0.1)
	if math.Abs(float64(left.Samples[99]-want)) > 1e-6 {
		t.Errorf("left[99] = %v, want %v", left.Samples[99], want)
	}
	if d := left.Duration(); math.Abs(d-100.0/48000) > 1e-9 {
		t.Errorf("Duration = %v", d)
	}
}

func TestReadWAV_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, err := ReadWAV(fs, "/missing.wav", 0, 1); err == nil {
		t.Error("missing file should fail")
	}

	afero.WriteFile(fs, "/noise.wav", []byte("definitely not riff data"), 0o644)
	if _, err := ReadWAV(fs, "/noise.wav", 0, 1); !errors.Is(err, ErrNotWAV) {
		t.Errorf("got %v, want ErrNotWAV", err)
	}

	writeWAV(t, fs, "/mono.wav", 16000, 16, 1, []int{1, 2, 3})
	if _, err := ReadWAV(fs, "/mono.wav", 1, 1); err == nil {
		t.Error("channel 1 of a mono file should fail")
	}
}
