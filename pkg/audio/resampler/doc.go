// Package resampler converts mono audio between sample rates.
//
// Conversion is a pure function of its input. Every call builds a fresh
// polyphase filter from github.com/tphakala/go-audio-resampling and feeds it
// the whole block plus a short zero tail. The filter's group delay is
// measured once per rate pair from its impulse response and cut from the
// front of the output, so output sample i lines up with input time i/to.
// The result is then trimmed to exactly round(N * to / from) samples. No
// state is carried between calls, so the same input always produces the
// same output. The filter runs at high quality, which includes the
// anti-aliasing low-pass required before decimation.
//
// Example usage:
//
//	out, err := resampler.Resample(frame.Samples, 48000, 16000)
//	if err != nil {
//	    return err
//	}
package resampler
