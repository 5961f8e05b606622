package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
	"github.com/jrwynneiii/railtuner/device"
	"github.com/jrwynneiii/railtuner/instrument"
	"github.com/jrwynneiii/railtuner/metrics"
)

// ThresholdPoint is one error-rate reading. Level is the instrument setting,
// before cable loss. Failed marks a reading with neither progress nor signal.
type ThresholdPoint struct {
	Frequency float64
	Offset    float64
	Level     float64
	device.Measurement
	Failed bool
}

// MeasureFunc applies level and takes one reading.
type MeasureFunc func(level float64) (device.Measurement, error)

// ThresholdSearch walks Levels in the given order and stops at the first point
// whose error rate reaches Threshold.
type ThresholdSearch struct {
	Levels    []float64
	Threshold float64
	Measure   MeasureFunc
	// Abort is consulted after each point; true ends the walk without a crossing.
	Abort func(ThresholdPoint) bool
}

type ThresholdOutcome struct {
	Points []ThresholdPoint
	// Index of the crossing point in Points, -1 when none crossed.
	Index   int
	Aborted bool
}

func (o ThresholdOutcome) Crossed() bool { return o.Index >= 0 }

// Level is the setting at the crossing.
func (o ThresholdOutcome) Level() float64 {
	if !o.Crossed() {
		return 0
	}
	return o.Points[o.Index].Level
}

func (s ThresholdSearch) Run(ctx context.Context) (ThresholdOutcome, error) {
	out := ThresholdOutcome{Index: -1}
	for _, level := range s.Levels {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		m, err := s.Measure(level)
		if err != nil {
			return out, fmt.Errorf("at %.1f dBm: %w", level, err)
		}
		p := ThresholdPoint{Level: level, Measurement: m, Failed: m.NoSignal()}
		out.Points = append(out.Points, p)
		if s.Abort != nil && s.Abort(p) {
			out.Aborted = true
			return out, nil
		}
		if m.ErrorRatePercent >= s.Threshold {
			out.Index = len(out.Points) - 1
			return out, nil
		}
	}
	return out, nil
}

// Threshold is the level at which one frequency/offset crossed, after cable loss.
type Threshold struct {
	Frequency float64
	Offset    float64
	Level     float64
	Found     bool
}

type SensitivityResult struct {
	RunID      string
	Points     []ThresholdPoint
	Thresholds []Threshold
	// Failed is set when the very first reading of the run saw nothing.
	Failed bool
}

// Lookup returns the crossing for frequency hz at carrier offset 0.
func (r SensitivityResult) Lookup(hz float64) (Threshold, bool) {
	for _, t := range r.Thresholds {
		if t.Frequency == hz && t.Offset == 0 {
			return t, t.Found
		}
	}
	return Threshold{}, false
}

var errUnknownMetric = errors.New("unknown error metric")

// meter builds the reading for one DUT frequency using the configured metric.
func meter(rig Rig, conf config.SensitivityConf, hz float64) (func() (device.Measurement, error), error) {
	timeout := time.Duration(conf.TimeoutMs) * time.Millisecond
	switch conf.Metric {
	case "", "ber":
		return func() (device.Measurement, error) {
			return rig.DUT.MeasureBER(conf.BerBytes, timeout, hz)
		}, nil
	case "per":
		trig, ok := rig.Generator.(instrument.Triggerer)
		if !ok {
			return nil, need("packet error rate needs a generator that can trigger packets", false)
		}
		return func() (device.Measurement, error) {
			return rig.DUT.MeasurePER(conf.Packets, timeout, hz, trig.SendTrigger)
		}, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownMetric, conf.Metric)
}

// Sensitivity finds, for each frequency and carrier offset, the generator
// level at which the DUT error rate first reaches conf.Threshold.
func Sensitivity(ctx context.Context, rig Rig, conf config.SensitivityConf) (SensitivityResult, error) {
	res := SensitivityResult{RunID: newRunID()}
	if err := need("sensitivity needs a signal generator", rig.Generator != nil); err != nil {
		return res, err
	}
	log.Infof("Run %s: sensitivity over %d frequencies", res.RunID, len(conf.Frequencies))

	gen := rig.Generator
	outputOff, err := enableOutput(gen, true)
	if err != nil {
		return res, err
	}
	defer outputOff()
	defer stopDUT(rig.DUT)

	first := true
	for _, hz := range conf.Frequencies {
		read, err := meter(rig, conf, hz)
		if err != nil {
			return res, err
		}
		for _, off := range orZero(conf.Offsets) {
			if err := gen.SetFrequency(hz + off); err != nil {
				return res, err
			}
			search := ThresholdSearch{
				Levels:    conf.Levels,
				Threshold: conf.Threshold,
				Measure: func(level float64) (device.Measurement, error) {
					if err := gen.SetAmplitude(level); err != nil {
						return device.Measurement{}, err
					}
					m, err := read()
					if err == nil {
						rig.point(Event{RunID: res.RunID, Sweep: "sensitivity", Frequency: hz, X: level - conf.CableLoss, Y: m.ErrorRatePercent})
					}
					return m, err
				},
				Abort: func(p ThresholdPoint) bool {
					dead := first && p.Failed
					first = false
					return dead
				},
			}
			out, err := search.Run(ctx)
			res.Points = append(res.Points, tag(out.Points, hz, off, "sensitivity")...)
			if err != nil {
				return res, err
			}
			if out.Aborted {
				log.Errorf("No signal at the first point (%.3f MHz, %.1f dBm), check the RF path", hz/1e6, out.Points[0].Level)
				res.Failed = true
				return res, nil
			}
			th := Threshold{Frequency: hz, Offset: off, Found: out.Crossed()}
			if th.Found {
				th.Level = out.Level() - conf.CableLoss
				log.Infof("Sensitivity at %.3f MHz%s: %.1f dBm", hz/1e6, offsetNote(off), th.Level)
				rig.finish(Event{RunID: res.RunID, Sweep: "sensitivity", Frequency: hz + off, X: th.Level})
			} else {
				log.Warnf("Error rate never reached %.3g%% at %.3f MHz%s", conf.Threshold, hz/1e6, offsetNote(off))
			}
			res.Thresholds = append(res.Thresholds, th)
		}
	}
	return res, nil
}

type BlockingResult struct {
	RunID       string
	Sensitivity *SensitivityResult
	Points      []ThresholdPoint
	// Thresholds hold blocker levels after blocker cable loss; Offset is the blocker offset.
	Thresholds []Threshold
	Failed     bool
}

// Blocking holds the wanted signal a margin above sensitivity and raises an
// offset blocker until the error rate crosses the threshold. Every offset is
// measured whether or not the previous one crossed.
func Blocking(ctx context.Context, rig Rig, sconf config.SensitivityConf, bconf config.BlockingConf) (BlockingResult, error) {
	res := BlockingResult{RunID: newRunID()}
	if err := need("blocking needs a signal generator", rig.Generator != nil); err != nil {
		return res, err
	}
	if err := need("blocking needs a blocker generator", rig.Blocker != nil); err != nil {
		return res, err
	}

	desired := map[float64]float64{}
	if bconf.SkipSensitivity {
		for _, hz := range sconf.Frequencies {
			desired[hz] = bconf.DesiredLevel
		}
	} else {
		centered := sconf
		centered.Offsets = nil
		sens, err := Sensitivity(ctx, rig, centered)
		res.Sensitivity = &sens
		if err != nil {
			return res, err
		}
		if sens.Failed {
			res.Failed = true
			return res, nil
		}
		for _, hz := range sconf.Frequencies {
			if th, ok := sens.Lookup(hz); ok {
				desired[hz] = th.Level + sconf.CableLoss + bconf.MarginDb
			} else {
				log.Warnf("No sensitivity at %.3f MHz, skipping blocking there", hz/1e6)
			}
		}
	}
	log.Infof("Run %s: blocking over %d offsets", res.RunID, len(bconf.Offsets))

	gen, blk := rig.Generator, rig.Blocker
	genOff, err := enableOutput(gen, true)
	if err != nil {
		return res, err
	}
	defer genOff()
	// The blocker is a plain carrier.
	blkOff, err := enableOutput(blk, false)
	if err != nil {
		return res, err
	}
	defer blkOff()
	defer stopDUT(rig.DUT)

	for _, hz := range sconf.Frequencies {
		level, ok := desired[hz]
		if !ok {
			continue
		}
		if err := gen.SetFrequency(hz); err != nil {
			return res, err
		}
		if err := gen.SetAmplitude(level); err != nil {
			return res, err
		}
		read, err := meter(rig, sconf, hz)
		if err != nil {
			return res, err
		}
		for _, off := range bconf.Offsets {
			if err := blk.SetFrequency(hz + off); err != nil {
				return res, err
			}
			search := ThresholdSearch{
				Levels:    bconf.BlockerLevels,
				Threshold: sconf.Threshold,
				Measure: func(bl float64) (device.Measurement, error) {
					if err := blk.SetAmplitude(bl); err != nil {
						return device.Measurement{}, err
					}
					m, err := read()
					if err == nil {
						rig.point(Event{RunID: res.RunID, Sweep: "blocking", Frequency: hz, X: bl - bconf.BlockerLoss, Y: m.ErrorRatePercent, Note: offsetNote(off)})
					}
					return m, err
				},
			}
			out, err := search.Run(ctx)
			res.Points = append(res.Points, tag(out.Points, hz, off, "blocking")...)
			if err != nil {
				return res, err
			}
			th := Threshold{Frequency: hz, Offset: off, Found: out.Crossed()}
			if th.Found {
				th.Level = out.Level() - bconf.BlockerLoss
				log.Infof("Blocking at %.3f MHz%s: %.1f dBm", hz/1e6, offsetNote(off), th.Level)
				rig.finish(Event{RunID: res.RunID, Sweep: "blocking", Frequency: hz + off, X: th.Level})
			} else {
				log.Warnf("Blocker at %.3f MHz%s never broke the link", hz/1e6, offsetNote(off))
			}
			res.Thresholds = append(res.Thresholds, th)
		}
	}
	return res, nil
}

func tag(points []ThresholdPoint, hz, off float64, sweep string) []ThresholdPoint {
	for i := range points {
		points[i].Frequency, points[i].Offset = hz, off
		if points[i].Failed {
			metrics.FailedPoints.WithLabelValues(sweep).Inc()
		}
	}
	return points
}

func offsetNote(off float64) string {
	if off == 0 {
		return ""
	}
	return fmt.Sprintf(" %+.0f kHz", off/1e3)
}
