package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
	"github.com/jrwynneiii/railtuner/device"
	"gonum.org/v1/gonum/floats"
)

const (
	trimMin = 0
	trimMax = 255
)

// CtuneSample is one observation at one trim code. For the frequency search
// Error is observed minus target in Hz; for the signal-strength search
// Observed is the RSSI and Error is unused.
type CtuneSample struct {
	Trim     int
	Observed float64
	Error    float64
}

type CtuneResult struct {
	RunID    string
	Trim     int
	Observed float64
	Error    float64
	// Steps counts distinct trim codes observed.
	Steps   int
	Samples []CtuneSample
	// Converged is false when the observation limit ended the search and
	// Trim is only the best code seen so far.
	Converged bool
}

// Probe applies a trim code and returns what was observed.
type Probe func(trim int) (float64, error)

var errStepLimit = errors.New("ctune observation limit reached")

type ctuneRun struct {
	ctx     context.Context
	conf    config.CtuneConf
	target  float64
	probe   Probe
	seen    map[int]CtuneSample
	samples []CtuneSample
	best    CtuneSample
}

func (r *ctuneRun) measure(trim int) (CtuneSample, error) {
	if s, ok := r.seen[trim]; ok {
		return s, nil
	}
	if err := r.ctx.Err(); err != nil {
		return CtuneSample{}, err
	}
	if len(r.samples) >= r.conf.MaxSteps {
		return CtuneSample{}, errStepLimit
	}
	observed, err := r.probe(trim)
	if err != nil {
		return CtuneSample{}, fmt.Errorf("ctune %d: %w", trim, err)
	}
	s := CtuneSample{Trim: trim, Observed: observed, Error: observed - r.target}
	log.Debugf("ctune %3d: %.0f Hz (error %+.0f Hz)", trim, observed, s.Error)
	r.seen[trim] = s
	if len(r.samples) == 0 {
		r.best = s
	} else {
		r.best = closer(r.best, s)
	}
	r.samples = append(r.samples, s)
	return s, nil
}

func (r *ctuneRun) result(best CtuneSample) CtuneResult {
	return CtuneResult{
		Trim:      best.Trim,
		Observed:  best.Observed,
		Error:     best.Error,
		Steps:     len(r.samples),
		Samples:   r.samples,
		Converged: true,
	}
}

func withCtuneDefaults(conf config.CtuneConf) config.CtuneConf {
	if conf.Max <= conf.Min {
		conf.Min, conf.Max = trimMin, trimMax
	}
	conf.Min = max(conf.Min, trimMin)
	conf.Max = min(conf.Max, trimMax)
	if conf.Step <= 0 {
		conf.Step = 1
	}
	if conf.CoarsePoints < 2 {
		conf.CoarsePoints = 20
	}
	if conf.BandHz <= 0 {
		conf.BandHz = 5000
	}
	if conf.MaxSteps <= 0 {
		// Enough for the coarse sweep plus a walk across the whole range.
		conf.MaxSteps = conf.CoarsePoints + (conf.Max-conf.Min)/conf.Step + 2
	}
	if conf.MaxStalls <= 0 {
		conf.MaxStalls = 2
	}
	return conf
}

// SearchFrequencyError finds the trim code whose observed carrier is closest
// to target. Starting from conf.Initial it coarse-sweeps the range when the
// error is outside conf.BandHz, then walks one trim step at a time in the
// direction that shrinks the error until the sign flips or the error stops
// improving for conf.MaxStalls consecutive samples. Running into
// conf.MaxSteps is not an error: the closest code seen is returned with
// Converged unset.
func SearchFrequencyError(ctx context.Context, conf config.CtuneConf, target float64, probe Probe) (CtuneResult, error) {
	conf = withCtuneDefaults(conf)
	r := &ctuneRun{ctx: ctx, conf: conf, target: target, probe: probe, seen: map[int]CtuneSample{}}

	best, err := r.search()
	if errors.Is(err, errStepLimit) {
		log.Warnf("ctune stopped after %d observations, keeping %d (%+.0f Hz)", len(r.samples), r.best.Trim, r.best.Error)
		res := r.result(r.best)
		res.Converged = false
		return res, nil
	}
	return r.result(best), err
}

func (r *ctuneRun) search() (CtuneSample, error) {
	start, err := r.measure(clampTrim(r.conf.Initial, r.conf))
	if err != nil {
		return start, err
	}
	if math.Abs(start.Error) > r.conf.BandHz {
		if start, err = r.coarse(start); err != nil {
			return start, err
		}
	}
	return r.refine(start)
}

// coarse sweeps evenly spaced trim codes and returns the first inside the band,
// or the closest one when none is.
func (r *ctuneRun) coarse(best CtuneSample) (CtuneSample, error) {
	points := floats.Span(make([]float64, r.conf.CoarsePoints), float64(r.conf.Min), float64(r.conf.Max))
	for _, p := range points {
		s, err := r.measure(int(math.Round(p)))
		if err != nil {
			return best, err
		}
		best = closer(best, s)
		if math.Abs(s.Error) <= r.conf.BandHz {
			return s, nil
		}
	}
	log.Warnf("No coarse ctune point within %.0f Hz, refining from %d (%+.0f Hz)", r.conf.BandHz, best.Trim, best.Error)
	return best, nil
}

func (r *ctuneRun) refine(start CtuneSample) (CtuneSample, error) {
	if start.Error == 0 {
		return start, nil
	}
	step := r.conf.Step

	// Which way the carrier moves with trim is found by probing a neighbour.
	next := start.Trim + step
	if next > r.conf.Max {
		next = start.Trim - step
	}
	if next < r.conf.Min {
		return start, nil
	}
	probe, err := r.measure(next)
	if err != nil {
		return start, err
	}
	if flipped(start, probe) {
		return closer(start, probe), nil
	}

	slope := (probe.Error - start.Error) / float64(probe.Trim-start.Trim)
	dir := 1
	if slope != 0 && math.Signbit(slope) == math.Signbit(start.Error) {
		dir = -1
	}
	if slope == 0 && probe.Trim < start.Trim {
		dir = -1
	}

	cur, best := start, closer(start, probe)
	if (probe.Trim-start.Trim)*dir > 0 {
		cur = probe
	}
	stalls := 0
	for {
		t := cur.Trim + dir*step
		if t < r.conf.Min || t > r.conf.Max {
			log.Debugf("ctune walk reached range edge at %d", cur.Trim)
			return best, nil
		}
		s, err := r.measure(t)
		if err != nil {
			return best, err
		}
		if flipped(cur, s) {
			return closer(cur, s), nil
		}
		if math.Abs(s.Error) < math.Abs(cur.Error) {
			stalls = 0
		} else {
			stalls++
			if stalls >= r.conf.MaxStalls {
				return closer(best, s), nil
			}
		}
		best = closer(best, s)
		cur = s
	}
}

// flipped reports a zero crossing between consecutive samples.
func flipped(a, b CtuneSample) bool {
	return b.Error == 0 || (a.Error < 0) != (b.Error < 0)
}

// closer prefers the strictly smaller absolute error, then the lower trim.
func closer(a, b CtuneSample) CtuneSample {
	ea, eb := math.Abs(a.Error), math.Abs(b.Error)
	switch {
	case ea < eb:
		return a
	case eb < ea:
		return b
	case b.Trim < a.Trim:
		return b
	}
	return a
}

func clampTrim(t int, conf config.CtuneConf) int {
	return min(max(t, conf.Min), conf.Max)
}

// SearchSignalStrength observes every trim code from conf.Min to conf.Max at
// conf.Step and keeps the one with the highest reading, the lowest trim on ties.
func SearchSignalStrength(ctx context.Context, conf config.CtuneConf, probe Probe) (CtuneResult, error) {
	conf = withCtuneDefaults(conf)
	conf.MaxSteps = max(conf.MaxSteps, (conf.Max-conf.Min)/conf.Step+1)
	r := &ctuneRun{ctx: ctx, conf: conf, probe: probe, seen: map[int]CtuneSample{}}

	var best CtuneSample
	for t := conf.Min; t <= conf.Max; t += conf.Step {
		s, err := r.measure(t)
		if err != nil {
			return r.result(best), err
		}
		if len(r.samples) == 1 || s.Observed > best.Observed {
			best = s
		}
	}
	res := r.result(best)
	res.Error = 0
	return res, nil
}

// TuneByFrequencyError transmits a CW carrier and trims the crystal until the
// analyzer peak sits on conf.Frequency. The chosen trim is left applied.
func TuneByFrequencyError(ctx context.Context, rig Rig, conf config.CtuneConf) (CtuneResult, error) {
	if err := need("ctune by frequency error needs a spectrum analyzer", rig.Analyzer != nil); err != nil {
		return CtuneResult{}, err
	}
	runID := newRunID()
	log.Infof("Run %s: ctune by frequency error at %.3f MHz", runID, conf.Frequency/1e6)

	if err := rig.Analyzer.SetFrequency(conf.Frequency); err != nil {
		return CtuneResult{}, err
	}
	if conf.SpanHz > 0 {
		if err := rig.Analyzer.SetSpan(conf.SpanHz); err != nil {
			return CtuneResult{}, err
		}
	}
	if err := rig.DUT.Transmit(device.TxCW, conf.Frequency, device.DBm(conf.Power)); err != nil {
		return CtuneResult{}, err
	}
	defer stopDUT(rig.DUT)

	probe := func(trim int) (float64, error) {
		if err := rig.DUT.SetTxTone(false, device.ToneCW, 0); err != nil {
			return 0, err
		}
		if err := rig.DUT.SetCtune(trim); err != nil {
			return 0, err
		}
		if err := rig.DUT.SetTxTone(true, device.ToneCW, 0); err != nil {
			return 0, err
		}
		settle(conf.SettleMs)
		if err := rig.Analyzer.InitiateSweep(); err != nil {
			return 0, err
		}
		m, err := rig.Analyzer.ReadPeakMarker()
		if err != nil {
			return 0, err
		}
		rig.point(Event{RunID: runID, Sweep: "ctune", Frequency: conf.Frequency, X: float64(trim), Y: m.Frequency - conf.Frequency})
		return m.Frequency, nil
	}

	res, err := SearchFrequencyError(ctx, conf, conf.Frequency, probe)
	res.RunID = runID
	if err != nil {
		return res, err
	}
	if err := rig.DUT.SetCtune(res.Trim); err != nil {
		return res, err
	}
	if !res.Converged {
		log.Warnf("ctune did not converge, applying closest code %d", res.Trim)
	}
	log.Infof("Crystal tuned: ctune %d, carrier %.0f Hz (%+.0f Hz) after %d steps", res.Trim, res.Observed, res.Error, res.Steps)
	rig.finish(Event{RunID: runID, Sweep: "ctune", Frequency: conf.Frequency, X: float64(res.Trim), Y: res.Error})
	return res, nil
}

// TuneBySignalStrength injects a carrier from the generator and picks the trim
// with the strongest RSSI at the DUT. The chosen trim is left applied.
func TuneBySignalStrength(ctx context.Context, rig Rig, conf config.CtuneConf) (CtuneResult, error) {
	if err := need("ctune by signal strength needs a signal generator", rig.Generator != nil); err != nil {
		return CtuneResult{}, err
	}
	runID := newRunID()
	log.Infof("Run %s: ctune by signal strength at %.3f MHz", runID, conf.Frequency/1e6)

	gen := rig.Generator
	if err := gen.SetFrequency(conf.Frequency); err != nil {
		return CtuneResult{}, err
	}
	if err := gen.SetAmplitude(conf.GeneratorLevel); err != nil {
		return CtuneResult{}, err
	}
	outputOff, err := enableOutput(gen, false)
	if err != nil {
		return CtuneResult{}, err
	}
	defer outputOff()

	if err := rig.DUT.StartReceive(conf.Frequency); err != nil {
		return CtuneResult{}, err
	}
	defer stopDUT(rig.DUT)

	probe := func(trim int) (float64, error) {
		if err := rig.DUT.SetCtune(trim); err != nil {
			return 0, err
		}
		settle(conf.SettleMs)
		rssi, err := rig.DUT.ReadRSSI()
		if err != nil {
			return 0, err
		}
		rig.point(Event{RunID: runID, Sweep: "ctune", Frequency: conf.Frequency, X: float64(trim), Y: rssi})
		return rssi, nil
	}

	res, err := SearchSignalStrength(ctx, conf, probe)
	res.RunID = runID
	if err != nil {
		return res, err
	}
	if err := rig.DUT.SetCtune(res.Trim); err != nil {
		return res, err
	}
	log.Infof("Crystal tuned: ctune %d, RSSI %.1f dBm after %d steps", res.Trim, res.Observed, res.Steps)
	rig.finish(Event{RunID: runID, Sweep: "ctune", Frequency: conf.Frequency, X: float64(res.Trim), Y: res.Observed})
	return res, nil
}

func stopDUT(d DUT) {
	if err := d.Stop(); err != nil {
		log.Errorf("Could not stop DUT: %v", err)
	}
}

type outputSwitch interface {
	SetOutputEnabled(on bool) error
}

func disableOutput(o outputSwitch) {
	if err := o.SetOutputEnabled(false); err != nil {
		log.Errorf("Could not disable instrument output: %v", err)
	}
}
