// Package pcm provides the audio frame types shared by the capture,
// resampling and recording stages.
//
// Samples are carried as float32 normalized to [-1, 1]. Conversion helpers
// move between that representation and 16-bit little-endian PCM, which is
// what capture devices deliver and what WAV files and transcription services
// expect.
//
// Key types:
//   - Format: sample rate and channel count
//   - Frame: a fixed-duration block of mono samples with a monotonic timestamp
//
// Example usage:
//
//	format := pcm.Format{SampleRate: 48000, Channels: 1}
//
//	// Samples needed for a 1.5s frame
//	n := format.SamplesInDuration(1500 * time.Millisecond)
//
//	// Short-term energy of a frame
//	energy := pcm.RMS(frame.Samples)
package pcm
