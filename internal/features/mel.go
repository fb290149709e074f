package features

import "math"

// hzToMel converts frequency in Hz to the HTK mel scale.
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// melToHz converts an HTK mel value back to Hz.
func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// MelFilterBank builds numMels triangular filters spanning lowFreq..highFreq.
// Returns [numMels][fftSize/2+1].
func MelFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	points := make([]float64, numMels+2)
	step := (highMel - lowMel) / float64(numMels+1)
	for i := range points {
		points[i] = lowMel + float64(i)*step
	}

	bins := make([]int, numMels+2)
	for i, m := range points {
		bin := int(math.Round(melToHz(m) * float64(fftSize) / float64(sampleRate)))
		if bin >= halfFFT {
			bin = halfFFT - 1
		}
		bins[i] = bin
	}

	// every filter spans at least one bin
	for i := 1; i < len(bins); i++ {
		if bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		filter := make([]float64, halfFFT)
		left, center, right := bins[m], bins[m+1], bins[m+2]

		for k := left; k < center && k < halfFFT; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < halfFFT; k++ {
			filter[k] = float64(right-k) / float64(right-center)
		}
		bank[m] = filter
	}
	return bank
}

// applyFilterBank projects each spectrum row through bank.
func applyFilterBank(spectra [][]float64, bank [][]float64) [][]float64 {
	out := make([][]float64, len(spectra))
	for t, row := range spectra {
		projected := make([]float64, len(bank))
		for m, filter := range bank {
			var sum float64
			for k, w := range filter {
				if w != 0 {
					sum += w * row[k]
				}
			}
			projected[m] = sum
		}
		out[t] = projected
	}
	return out
}
