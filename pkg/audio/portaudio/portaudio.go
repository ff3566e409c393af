// Package portaudio opens callback-driven capture streams on PortAudio
// devices (github.com/gordonklaus/portaudio) and feeds them into a
// capture.Sink.
//
// The stream callback runs on a PortAudio thread. It only converts the
// requested channel and pushes into the sink; it never logs or blocks.
//
// Building requires the PortAudio headers and library (pkg-config
// portaudio-2.0).
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/LCH-chanho/ECHO/pkg/audio/capture"
)

var (
	initMu   sync.Mutex
	initRefs int
)

// Initialize initializes the PortAudio library. Calls are reference
// counted; every successful Initialize must be paired with Terminate.
func Initialize() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	initRefs++
	return nil
}

// Terminate releases one Initialize reference.
func Terminate() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return nil
	}
	initRefs--
	if initRefs == 0 {
		return pa.Terminate()
	}
	return nil
}

// DeviceInfo describes an audio device.
type DeviceInfo struct {
	Index             int     `json:"index" yaml:"index"`
	Name              string  `json:"name" yaml:"name"`
	HostAPI           string  `json:"host_api" yaml:"host_api"`
	MaxInputChannels  int     `json:"max_input_channels" yaml:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate" yaml:"default_sample_rate"`
	IsDefaultInput    bool    `json:"default_input" yaml:"default_input"`
}

// InputDevices lists devices with at least one input channel. Initialize
// must have been called.
func InputDevices() ([]DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var out []DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		info := DeviceInfo{
			Index:             d.Index,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefaultInput:    def != nil && def.Index == d.Index,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// findDevice resolves a device by index or by case-insensitive name
// substring. An empty name selects the default input device.
func findDevice(name string) (*pa.DeviceInfo, error) {
	if name == "" {
		d, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return d, nil
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	if idx, err := strconv.Atoi(name); err == nil {
		for _, d := range devices {
			if d.Index == idx {
				return d, nil
			}
		}
		return nil, fmt.Errorf("portaudio: no device with index %d", idx)
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matching %q", name)
}

// StreamConfig describes a capture stream.
type StreamConfig struct {
	Device          string // index, name substring, or "" for the default
	SampleRate      int
	Channels        int     // channels opened on the device
	Channel         int     // channel forwarded to the sink
	Gain            float64 // applied after full-scale normalization
	FramesPerBuffer int     // 0 lets PortAudio choose
}

// Validate checks the configuration.
func (c StreamConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", c.Channels)
	}
	if c.Channel < 0 || c.Channel >= c.Channels {
		return fmt.Errorf("channel %d out of range [0, %d)", c.Channel, c.Channels)
	}
	if c.Gain <= 0 {
		return fmt.Errorf("gain must be positive, got %v", c.Gain)
	}
	if c.FramesPerBuffer < 0 {
		return fmt.Errorf("invalid frames per buffer %d", c.FramesPerBuffer)
	}
	return nil
}

// InputStream is a running capture stream.
type InputStream struct {
	cfg     StreamConfig
	stream  *pa.Stream
	sink    capture.Sink
	scratch []float32

	overflows atomic.Uint64
	rejected  atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// OpenInput opens and starts a capture stream that pushes channel
// cfg.Channel of every callback buffer into sink. Initialize must have been
// called.
func OpenInput(cfg StreamConfig, sink capture.Sink, logger *slog.Logger) (*InputStream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	if sink == nil {
		return nil, errors.New("portaudio: nil sink")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dev, err := findDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	if dev.MaxInputChannels < cfg.Channels {
		return nil, fmt.Errorf("portaudio: device %q has %d input channels, need %d", dev.Name, dev.MaxInputChannels, cfg.Channels)
	}

	s := &InputStream{cfg: cfg, sink: sink}
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultHighInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	stream, err := pa.OpenStream(params, s.callback)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start %q: %w", dev.Name, err)
	}
	s.stream = stream

	logger.Info("capture started",
		"device", dev.Name,
		"rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"channel", cfg.Channel,
		"gain", cfg.Gain,
	)
	return s, nil
}

func (s *InputStream) callback(in []int32, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
	if flags&pa.InputOverflow != 0 {
		s.overflows.Add(1)
	}
	s.scratch = capture.Int32Channel(s.scratch, in, s.cfg.Channels, s.cfg.Channel, s.cfg.Gain)
	if err := s.sink.Push(s.scratch); err != nil {
		s.rejected.Add(1)
	}
}

// Overflows returns how many callbacks reported an input overflow.
func (s *InputStream) Overflows() uint64 { return s.overflows.Load() }

// Rejected returns how many callback buffers the sink refused.
func (s *InputStream) Rejected() uint64 { return s.rejected.Load() }

// Close stops and closes the stream. It is safe to call more than once.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	return errors.Join(stopErr, closeErr)
}
