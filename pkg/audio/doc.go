// Package audio groups the audio front end of the detector:
//
//   - capture: sample conversion, WAV loading and paced replay
//   - portaudio: live input devices
//   - segment: fixed-length segment assembly
//   - resampler: sample-rate conversion to the model rate
//   - gammatone: log gammatone feature matrices
package audio
