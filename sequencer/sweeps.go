package sequencer

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
	"github.com/jrwynneiii/railtuner/device"
)

type TxPoint struct {
	Frequency float64
	// Voltage is 0 when no supply is driven.
	Voltage  float64
	Power    float64
	Harmonic int
	// Measured is the analyzer peak; Level already has cable loss added back.
	Measured float64
	Level    float64
	// Current is only read at the fundamental, and only with a supply.
	Current float64
}

type TxSweepResult struct {
	RunID  string
	Points []TxPoint
}

// TxCWSweep transmits a CW tone at every frequency, supply voltage and PA
// power and reads the analyzer peak at the fundamental and each harmonic.
func TxCWSweep(ctx context.Context, rig Rig, conf config.TxSweepConf) (TxSweepResult, error) {
	res := TxSweepResult{RunID: newRunID()}
	if err := need("tx sweep needs a spectrum analyzer", rig.Analyzer != nil); err != nil {
		return res, err
	}
	harmonics := max(conf.Harmonics, 1)
	log.Infof("Run %s: tx CW sweep, %d frequencies, %d harmonics", res.RunID, len(conf.Frequencies), harmonics)

	voltages := orZero(conf.Voltages)
	if rig.Supply == nil {
		voltages = []float64{0}
	} else {
		defer disableOutput(rig.Supply)
	}
	defer stopDUT(rig.DUT)

	for _, hz := range conf.Frequencies {
		for _, v := range voltages {
			if rig.Supply != nil && v > 0 {
				if err := rig.Supply.SetVoltage(v); err != nil {
					return res, err
				}
				if err := rig.Supply.SetOutputEnabled(true); err != nil {
					return res, err
				}
			}
			for _, p := range conf.PowerLevels {
				power := device.DBm(p)
				if conf.RawPower {
					power = device.RawPower(int(p))
				}
				if err := rig.DUT.Transmit(device.TxCW, hz, power); err != nil {
					return res, err
				}
				for h := 1; h <= harmonics; h++ {
					if err := ctx.Err(); err != nil {
						return res, err
					}
					pt, err := readHarmonic(rig, conf, hz, h)
					if err != nil {
						return res, err
					}
					pt.Voltage, pt.Power = v, p
					res.Points = append(res.Points, pt)
					rig.point(Event{RunID: res.RunID, Sweep: "txsweep", Frequency: hz, X: p, Y: pt.Level, Note: harmonicNote(h)})
				}
				if err := rig.DUT.Stop(); err != nil {
					return res, err
				}
			}
		}
	}
	rig.finish(Event{RunID: res.RunID, Sweep: "txsweep", X: float64(len(res.Points))})
	return res, nil
}

func readHarmonic(rig Rig, conf config.TxSweepConf, hz float64, h int) (TxPoint, error) {
	pt := TxPoint{Frequency: hz, Harmonic: h}
	if err := rig.Analyzer.SetFrequency(hz * float64(h)); err != nil {
		return pt, err
	}
	if conf.SpanHz > 0 {
		if err := rig.Analyzer.SetSpan(conf.SpanHz); err != nil {
			return pt, err
		}
	}
	settle(conf.SettleMs)
	if err := rig.Analyzer.InitiateSweep(); err != nil {
		return pt, err
	}
	m, err := rig.Analyzer.ReadPeakMarker()
	if err != nil {
		return pt, err
	}
	pt.Measured, pt.Level = m.Frequency, m.Level+conf.CableLoss
	if h == 1 && rig.Supply != nil {
		if pt.Current, err = rig.Supply.MeasureCurrent(); err != nil {
			return pt, err
		}
	}
	log.Debugf("%.3f MHz H%d: %.2f dBm at %.0f Hz", hz/1e6, h, pt.Level, pt.Measured)
	return pt, nil
}

func harmonicNote(h int) string {
	if h == 1 {
		return "fundamental"
	}
	return fmt.Sprintf("H%d", h)
}

type RSSIPoint struct {
	Frequency float64
	Injected  float64
	// Level is the generator setting after cable loss.
	Level float64
	RSSI  float64
}

type RSSISweepResult struct {
	RunID  string
	Points []RSSIPoint
}

// RSSISweep keeps the DUT receiving at each frequency while the generator
// steps through injected offsets and levels.
func RSSISweep(ctx context.Context, rig Rig, conf config.RSSISweepConf) (RSSISweepResult, error) {
	res := RSSISweepResult{RunID: newRunID()}
	if err := need("rssi sweep needs a signal generator", rig.Generator != nil); err != nil {
		return res, err
	}
	log.Infof("Run %s: RSSI sweep over %d frequencies", res.RunID, len(conf.Frequencies))

	gen := rig.Generator
	if err := gen.SetOutputEnabled(true); err != nil {
		return res, err
	}
	defer disableOutput(gen)
	defer stopDUT(rig.DUT)

	for _, hz := range conf.Frequencies {
		if err := rig.DUT.StartReceive(hz); err != nil {
			return res, err
		}
		for _, off := range orZero(conf.InjectedOffsets) {
			if err := gen.SetFrequency(hz + off); err != nil {
				return res, err
			}
			for _, level := range conf.Levels {
				if err := ctx.Err(); err != nil {
					return res, err
				}
				if err := gen.SetAmplitude(level); err != nil {
					return res, err
				}
				settle(conf.SettleMs)
				rssi, err := rig.DUT.ReadRSSI()
				if err != nil {
					return res, err
				}
				pt := RSSIPoint{Frequency: hz, Injected: hz + off, Level: level - conf.CableLoss, RSSI: rssi}
				res.Points = append(res.Points, pt)
				rig.point(Event{RunID: res.RunID, Sweep: "rssisweep", Frequency: hz, X: pt.Level, Y: rssi, Note: offsetNote(off)})
			}
		}
	}
	rig.finish(Event{RunID: res.RunID, Sweep: "rssisweep", X: float64(len(res.Points))})
	return res, nil
}
