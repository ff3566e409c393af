// Package resampler provides sample rate conversion for mono audio segments
// using a pure Go polyphase resampler (github.com/tphakala/go-audio-resampling).
//
// Conversion is segment-at-a-time: each call builds its own high-quality
// converter, so results depend only on the input. The output length is
// always round(len(in) * to / from).
//
// Example usage:
//
//	r, err := resampler.New(48000, 44100)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := r.Resample(segment) // 28800 samples -> 26460 samples
package resampler
