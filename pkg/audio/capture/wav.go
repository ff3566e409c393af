package capture

import (
	"errors"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// ErrNotWAV is returned for files that are not valid RIFF/WAVE audio.
var ErrNotWAV = errors.New("capture: not a wav file")

// Recording is one channel of a decoded WAV file.
type Recording struct {
	Samples    []float32
	SampleRate int
	Channels   int
	BitDepth   int
}

// Duration returns the recording length in seconds.
func (r *Recording) Duration() float64 {
	if r.SampleRate == 0 {
		return 0
	}
	return float64(len(r.Samples)) / float64(r.SampleRate)
}

// ReadWAV decodes channel ch of the PCM WAV file at path, scaled to
// [-gain, gain].
func ReadWAV(fs afero.Fs, path string, ch int, gain float64) (*Recording, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrNotWAV, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("capture: decode %s: %w", path, err)
	}
	channels := int(dec.NumChans)
	if ch < 0 || ch >= channels {
		return nil, fmt.Errorf("capture: channel %d out of range, file has %d", ch, channels)
	}
	depth := int(dec.BitDepth)
	samples, err := channelSamples(buf, channels, ch, depth, gain)
	if err != nil {
		return nil, err
	}
	return &Recording{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   channels,
		BitDepth:   depth,
	}, nil
}

func channelSamples(buf *audio.IntBuffer, channels, ch, depth int, gain float64) ([]float32, error) {
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("capture: unsupported bit depth %d", depth)
	}
	scale := gain / float64(int64(1)<<(depth-1))
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := range out {
		out[i] = float32(float64(buf.Data[i*channels+ch]) * scale)
	}
	return out, nil
}
