package portaudio

import (
	"errors"
	"testing"

	pa "github.com/gordonklaus/portaudio"
)

type sliceSink struct {
	got [][]float32
	err error
}

func (s *sliceSink) Push(samples []float32) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, append([]float32(nil), samples...))
	return nil
}

func TestStreamConfigValidate(t *testing.T) {
	valid := StreamConfig{SampleRate: 48000, Channels: 2, Channel: 0, Gain: 0.1}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*StreamConfig)
	}{
		{"zero rate", func(c *StreamConfig) { c.SampleRate = 0 }},
		{"zero channels", func(c *StreamConfig) { c.Channels = 0 }},
		{"channel out of range", func(c *StreamConfig) { c.Channel = 2 }},
		{"negative channel", func(c *StreamConfig) { c.Channel = -1 }},
		{"zero gain", func(c *StreamConfig) { c.Gain = 0 }},
		{"negative frames", func(c *StreamConfig) { c.FramesPerBuffer = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if c.Validate() == nil {
				t.Fatal("Validate should fail")
			}
		})
	}
}

func TestCallback(t *testing.T) {
	sink := &sliceSink{}
	s := &InputStream{
		cfg:  StreamConfig{SampleRate: 48000, Channels: 2, Channel: 1, Gain: 1},
		sink: sink,
	}

	// Two stereo frames; channel 1 carries half scale and negative full scale.
	s.callback([]int32{7, 1 << 30, 9, -1 << 31}, pa.StreamCallbackTimeInfo{}, 0)
	if len(sink.got) != 1 {
		t.Fatalf("pushes = %d, want 1", len(sink.got))
	}
	if got := sink.got[0]; len(got) != 2 || got[0] != 0.5 || got[1] != -1 {
		t.Fatalf("samples = %v, want [0.5 -1]", got)
	}

	s.callback([]int32{0, 0}, pa.StreamCallbackTimeInfo{}, pa.InputOverflow)
	if s.Overflows() != 1 {
		t.Fatalf("Overflows = %d, want 1", s.Overflows())
	}

	sink.err = errors.New("closed")
	s.callback([]int32{0, 0}, pa.StreamCallbackTimeInfo{}, 0)
	if s.Rejected() != 1 {
		t.Fatalf("Rejected = %d, want 1", s.Rejected())
	}
}
