// Package mfcc turns mono PCM into the fixed-size cepstral windows the
// wake-word models consume.
//
// The front-end matches the librosa defaults the models were trained
// against:
//
//	SampleRate:  16000
//	FFTSize:     2048 (Hann, centered, zero padded)
//	HopSize:     512
//	NumMels:     128 (Slaney scale and area normalization)
//	TopDB:       80
//	NumCoeffs:   13 (orthonormal DCT-II)
//	TimeSteps:   29
//
// Extract pads or truncates the time axis to TimeSteps and applies a
// single z-score over the whole matrix.
package mfcc
