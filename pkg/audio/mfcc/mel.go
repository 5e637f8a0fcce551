package mfcc

import "math"

// hannWindow generates a periodic Hann window of the given length.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Scale selects the Hz to mel mapping.
type Scale string

const (
	// ScaleSlaney is linear below 1 kHz and logarithmic above.
	ScaleSlaney Scale = "slaney"
	// ScaleHTK is 2595*log10(1+f/700).
	ScaleHTK Scale = "htk"
)

const (
	slaneyMinLogHz  = 1000.0
	slaneyLinStep   = 200.0 / 3
	slaneyMinLogMel = slaneyMinLogHz / slaneyLinStep
)

var slaneyLogStep = math.Log(6.4) / 27.0

func hzToMel(hz float64, scale Scale) float64 {
	if scale == ScaleHTK {
		return 2595.0 * math.Log10(1.0+hz/700.0)
	}
	if hz < slaneyMinLogHz {
		return hz / slaneyLinStep
	}
	return slaneyMinLogMel + math.Log(hz/slaneyMinLogHz)/slaneyLogStep
}

func melToHz(mel float64, scale Scale) float64 {
	if scale == ScaleHTK {
		return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
	}
	if mel < slaneyMinLogMel {
		return mel * slaneyLinStep
	}
	return slaneyMinLogHz * math.Exp(slaneyLogStep*(mel-slaneyMinLogMel))
}

// melFilterBank creates the mel filterbank matrix.
// Returns [numMels][fftSize/2+1]. Triangles are placed on continuous
// frequencies and, when normalize is set, scaled to unit area
// (2 / bandwidth in Hz).
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64, scale Scale, normalize bool) [][]float64 {
	halfFFT := fftSize/2 + 1

	fftFreqs := make([]float64, halfFFT)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(fftSize)
	}

	lowMel := hzToMel(lowFreq, scale)
	highMel := hzToMel(highFreq, scale)
	melHz := make([]float64, numMels+2)
	step := (highMel - lowMel) / float64(numMels+1)
	for i := range melHz {
		melHz[i] = melToHz(lowMel+float64(i)*step, scale)
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		filter := make([]float64, halfFFT)
		left, center, right := melHz[m], melHz[m+1], melHz[m+2]
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			w := math.Min(lower, upper)
			if w > 0 {
				filter[k] = w
			}
		}
		if normalize {
			enorm := 2.0 / (right - left)
			for k := range filter {
				filter[k] *= enorm
			}
		}
		bank[m] = filter
	}
	return bank
}
