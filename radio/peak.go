package radio

import (
	"math"

	"github.com/jrwynneiii/railtuner/instrument"
	"github.com/racerxdl/segdsp/tools"
	"gonum.org/v1/gonum/dsp/fourier"
)

// peakBin returns the offset from the tuned frequency and power in dB relative
// to a full scale tone of the strongest bin.
func peakBin(samples []complex64, sampleRate float64) (offset, level float64) {
	n := len(samples)
	input := make([]complex128, n)
	for i, s := range samples {
		input[i] = complex128(s)
	}
	fft := fourier.NewCmplxFFT(n)
	coeff := fft.Coefficients(nil, input)

	best, power := 0, float32(-1)
	for i := range coeff {
		if v := tools.ComplexAbsSquared(complex64(coeff[i])); v > power {
			best, power = i, v
		}
	}
	norm := float64(power) / float64(n*n)
	return fft.Freq(best) * sampleRate, 10 * math.Log10(norm)
}

func (a *Analyzer) ReadPeakMarker() (instrument.Marker, error) {
	if len(a.captured) == 0 {
		return instrument.Marker{}, ErrNoSamples
	}
	offset, level := peakBin(a.captured, a.SampleRate)
	return instrument.Marker{Frequency: a.Frequency + offset, Level: level + a.RefLevel}, nil
}
