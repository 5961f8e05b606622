package radio

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/jrwynneiii/railtuner/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n, bin int, amplitude float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = complex64(cmplx.Rect(amplitude, 2*math.Pi*float64(bin*i)/float64(n)))
	}
	return out
}

func TestPeakBin(t *testing.T) {
	offset, level := peakBin(tone(1024, 128, 1), 1e6)
	assert.InDelta(t, 125e3, offset, 1e-6)
	assert.InDelta(t, 0, level, 1e-3)

	offset, level = peakBin(tone(1024, 1024-64, 0.1), 1e6)
	assert.InDelta(t, -62.5e3, offset, 1e-6)
	assert.InDelta(t, -20, level, 1e-3)
}

func TestReadPeakMarker(t *testing.T) {
	a := New(config.SDRConf{Driver: "rtlsdr", SampleRate: 1e6, ChunkSize: 1024, RefLevel: -30})

	_, err := a.ReadPeakMarker()
	assert.ErrorIs(t, err, ErrNoSamples)

	require.NoError(t, a.SetFrequency(915e6))
	a.captured = tone(1024, 128, 1)
	m, err := a.ReadPeakMarker()
	require.NoError(t, err)
	assert.InDelta(t, 915.125e6, m.Frequency, 1e-3)
	assert.InDelta(t, -30, m.Level, 1e-3)

	// Retuning drops the stale capture.
	require.NoError(t, a.SetSpan(2e6))
	_, err = a.ReadPeakMarker()
	assert.ErrorIs(t, err, ErrNoSamples)
}
