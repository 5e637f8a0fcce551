// Package model loads wake-word model artifacts and scores feature windows.
//
// An artifact is a YAML manifest next to one or more backend files:
//
//	format_version: 1
//	name: alfred
//	version: "1.0.0"
//	input_shape: {coefficients: 13, time_steps: 29}
//	output_cardinality: 1
//	features:
//	  sample_rate: 16000
//	  n_fft: 2048
//	  hop_length: 512
//	  n_mels: 128
//	  normalization: global-zscore
//	  epsilon: 1.0e-8
//	backends:
//	  native: {weights: alfred.msgpack}
//	  onnx: {model: alfred.onnx, input: mfcc, output: probability}
//	  ncnn: {param: alfred.param, bin: alfred.bin, input: in0, output: out0}
//
// Backends register an [OpenFunc] with [RegisterBackend]. The pure-Go
// "native" backend is always available; "onnx" and "ncnn" register
// themselves when their cgo packages are linked in.
//
// Every [Scorer] is stateless across calls: a window carries all the
// temporal context the network sees.
package model
