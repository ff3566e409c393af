// Package capture feeds normalized mono samples into a Sink from a live
// device callback or from a recorded file.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FullScale32 is the magnitude of a full-scale 32-bit integer sample.
const FullScale32 = 1 << 31

// Sink receives mono float32 samples. Push must not block on I/O and must
// not retain the slice.
type Sink interface {
	Push(samples []float32) error
}

// Int32Channel extracts channel ch from interleaved frames in and scales
// each sample by gain / 2^31. dst is reused when large enough.
func Int32Channel(dst []float32, in []int32, channels, ch int, gain float64) []float32 {
	if channels <= 0 || ch < 0 || ch >= channels {
		return dst[:0]
	}
	frames := len(in) / channels
	if cap(dst) < frames {
		dst = make([]float32, frames)
	}
	dst = dst[:frames]
	scale := gain / FullScale32
	for i := range dst {
		dst[i] = float32(float64(in[i*channels+ch]) * scale)
	}
	return dst
}

// ReplayOptions controls Replay.
type ReplayOptions struct {
	// Chunk is the number of samples per push. Defaults to 10 ms of audio.
	Chunk int

	// Realtime paces pushes at the sample rate.
	Realtime bool
}

// Replay pushes samples to sink in chunks. It stops early when ctx is done
// or the sink rejects a push.
func Replay(ctx context.Context, sink Sink, samples []float32, rate int, opts ReplayOptions) error {
	if rate <= 0 {
		return fmt.Errorf("capture: invalid sample rate %d", rate)
	}
	if sink == nil {
		return errors.New("capture: nil sink")
	}
	chunk := opts.Chunk
	if chunk <= 0 {
		chunk = max(rate/100, 1)
	}

	var ticker *time.Ticker
	if opts.Realtime {
		ticker = time.NewTicker(time.Duration(chunk) * time.Second / time.Duration(rate))
		defer ticker.Stop()
	}

	for off := 0; off < len(samples); off += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+chunk, len(samples))
		if err := sink.Push(samples[off:end]); err != nil {
			return fmt.Errorf("capture: push: %w", err)
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return nil
}
