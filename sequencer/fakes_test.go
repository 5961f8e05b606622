package sequencer

import (
	"time"

	"github.com/jrwynneiii/railtuner/device"
	"github.com/jrwynneiii/railtuner/instrument"
)

type fakeDUT struct {
	ctune   int
	toneOn  bool
	rxHz    float64
	stops   int
	ctunes  []int
	measure func(hz float64) device.Measurement
	rssi    func(trim int) float64
}

func (d *fakeDUT) Stop() error {
	d.stops++
	d.toneOn = false
	return nil
}

func (d *fakeDUT) Transmit(mode device.TxMode, hz float64, p device.Power) error {
	d.toneOn = mode == device.TxCW
	return nil
}

func (d *fakeDUT) SetTxTone(on bool, mode device.ToneMode, antenna int) error {
	d.toneOn = on
	return nil
}

func (d *fakeDUT) SetCtune(v int) error {
	d.ctune = v
	d.ctunes = append(d.ctunes, v)
	return nil
}

func (d *fakeDUT) StartReceive(hz float64) error {
	d.rxHz = hz
	return nil
}

func (d *fakeDUT) ReadRSSI() (float64, error) {
	return d.rssi(d.ctune), nil
}

func (d *fakeDUT) MeasureBER(nbytes int, timeout time.Duration, hz float64) (device.Measurement, error) {
	return d.measure(hz), nil
}

func (d *fakeDUT) MeasurePER(npackets int, timeout time.Duration, hz float64, trigger device.Trigger) (device.Measurement, error) {
	if err := trigger(npackets); err != nil {
		return device.Measurement{}, err
	}
	return d.measure(hz), nil
}

type fakeGenerator struct {
	freq     float64
	amp      float64
	on       bool
	triggers int
	amps     []float64
	// calls records output and modulation switching in order.
	calls []string
}

func (g *fakeGenerator) SetFrequency(hz float64) error {
	g.freq = hz
	return nil
}

func (g *fakeGenerator) SetAmplitude(dbm float64) error {
	g.amp = dbm
	g.amps = append(g.amps, dbm)
	return nil
}

func (g *fakeGenerator) SetOutputEnabled(on bool) error {
	g.on = on
	g.calls = append(g.calls, "output "+onOff(on))
	return nil
}

type modulatingGenerator struct {
	fakeGenerator
	modulated bool
}

func (g *modulatingGenerator) SetModulationEnabled(on bool) error {
	g.modulated = on
	g.calls = append(g.calls, "modulation "+onOff(on))
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

type triggeringGenerator struct {
	fakeGenerator
}

func (g *triggeringGenerator) SendTrigger(n int) error {
	g.triggers += n
	return nil
}

type fakeAnalyzer struct {
	center float64
	span   float64
	sweeps int
	peak   func(center float64) instrument.Marker
}

func (a *fakeAnalyzer) SetFrequency(hz float64) error {
	a.center = hz
	return nil
}

func (a *fakeAnalyzer) SetSpan(hz float64) error {
	a.span = hz
	return nil
}

func (a *fakeAnalyzer) InitiateSweep() error {
	a.sweeps++
	return nil
}

func (a *fakeAnalyzer) ReadPeakMarker() (instrument.Marker, error) {
	return a.peak(a.center), nil
}

type fakeSupply struct {
	volts float64
	on    bool
}

func (p *fakeSupply) SetVoltage(v float64) error {
	p.volts = v
	return nil
}

func (p *fakeSupply) SetOutputEnabled(on bool) error {
	p.on = on
	return nil
}

func (p *fakeSupply) MeasureCurrent() (float64, error) {
	return 0.02 + p.volts/1000, nil
}
