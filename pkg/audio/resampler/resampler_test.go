package resampler

import (
	"errors"
	"math"
	"testing"
)

func sine(n, rate int, freq, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestOutputLen(t *testing.T) {
	tests := []struct {
		n, from, to int
		want        int
	}{
		{28800, 48000, 44100, 26460},
		{48000, 48000, 16000, 16000},
		{100, 16000, 48000, 300},
		{0, 48000, 44100, 0},
		{10, 0, 44100, 0},
	}
	for _, tt := range tests {
		if got := OutputLen(tt.n, tt.from, tt.to); got != tt.want {
			t.Errorf("OutputLen(%d, %d, %d) = %d, want %d", tt.n, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestResample_SameRateCopies(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3}
	out, err := Resample(in, 44100, 44100)
	if err != nil {
		t.Fatalf("Resample error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
	out[0] = 9
	if in[0] == 9 {
		t.Fatal("Resample returned the input slice instead of a copy")
	}
}

func TestResample_InvalidRate(t *testing.T) {
	if _, err := Resample([]float32{0}, 0, 44100); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("got %v, want ErrInvalidRate", err)
	}
	if _, err := New(48000, -1); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("New: got %v, want ErrInvalidRate", err)
	}
}

func TestResample_Empty(t *testing.T) {
	out, err := Resample(nil, 48000, 44100)
	if err != nil {
		t.Fatalf("Resample error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("len = %d, want 0", len(out))
	}
}

func TestResample_Segment(t *testing.T) {
	r, err := New(48000, 44100)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	in := sine(28800, 48000, 1000, 0.5)

	out, err := r.Resample(in)
	if err != nil {
		t.Fatalf("Resample error: %v", err)
	}
	if len(out) != 26460 {
		t.Fatalf("len = %d, want 26460", len(out))
	}

	// The middle of the output carries the tone at roughly the input level.
	mid := out[len(out)/4 : 3*len(out)/4]
	var sum float64
	for _, s := range mid {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(mid)))
	want := 0.5 / math.Sqrt2
	if math.Abs(rms-want) > 0.1*want {
		t.Errorf("rms = %f, want ~%f", rms, want)
	}
}

func TestResample_TailNotSilent(t *testing.T) {
	out, err := Resample(sine(28800, 48000, 1000, 0.5), 48000, 44100)
	if err != nil {
		t.Fatalf("Resample error: %v", err)
	}
	// Near its zero crossings the tone moves ~0.07 per sample, so only a
	// zero-padded tail produces a run of near-silent samples.
	tail := out[len(out)-250:]
	run, longest := 0, 0
	for _, s := range tail {
		if math.Abs(float64(s)) < 1e-4 {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	if longest > 4 {
		t.Fatalf("last 250 samples contain %d consecutive silent samples", longest)
	}
	var sum float64
	for _, s := range tail {
		sum += float64(s) * float64(s)
	}
	if rms := math.Sqrt(sum / float64(len(tail))); rms < 0.2 {
		t.Errorf("tail rms = %f, want ~%f", rms, 0.5/math.Sqrt2)
	}
}

func TestResample_Deterministic(t *testing.T) {
	in := sine(4800, 48000, 440, 0.3)
	a, err := Resample(in, 48000, 44100)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Resample(in, 48000, 44100)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("output differs at %d: %f vs %f", i, a[i], b[i])
		}
	}
}
