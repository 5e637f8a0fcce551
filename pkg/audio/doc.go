// Package audio is the umbrella for the audio front-end of the wake-word
// pipeline:
//
//   - pcm: sample formats, frames, conversion and RMS energy
//   - capture: the AudioSource contract with timeout and reconnect
//   - portaudio, miniaudio: capture devices (cgo)
//   - wavfile: WAV encoding and a file replay device
//   - resampler: anti-aliased sample-rate conversion
//   - mfcc: the feature extractor producing fixed-shape windows
//
// Example usage:
//
//	import (
//	    "github.com/haivivi/wakeword/pkg/audio/mfcc"
//	    "github.com/haivivi/wakeword/pkg/audio/resampler"
//	)
//
//	samples, err := resampler.Resample(frame.Samples, 48000, 16000)
//	win := extractor.Extract(samples)
package audio
