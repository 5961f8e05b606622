// Package instrument drives the bench equipment around the DUT: spectrum
// analyzers, signal generators and power supplies.
package instrument

// Marker is a peak reading. Frequency is in Hz (seconds in zero span), Level in dBm.
type Marker struct {
	Frequency float64
	Level     float64
}

type SpectrumAnalyzer interface {
	SetFrequency(hz float64) error
	SetSpan(hz float64) error
	InitiateSweep() error
	ReadPeakMarker() (Marker, error)
}

type SignalGenerator interface {
	SetFrequency(hz float64) error
	SetAmplitude(dbm float64) error
	SetOutputEnabled(on bool) error
}

// Modulator is implemented by generators that can switch their modulation source.
type Modulator interface {
	SetModulationEnabled(on bool) error
}

// Triggerer is implemented by generators that can send a burst of n packets on demand.
type Triggerer interface {
	SendTrigger(n int) error
}

type PowerSupply interface {
	SetVoltage(v float64) error
	SetOutputEnabled(on bool) error
	MeasureCurrent() (float64, error)
}
