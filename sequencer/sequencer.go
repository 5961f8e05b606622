package sequencer

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jrwynneiii/railtuner/device"
	"github.com/jrwynneiii/railtuner/instrument"
	"github.com/jrwynneiii/railtuner/metrics"
)

// DUT is the part of a device session the sweeps drive.
type DUT interface {
	Stop() error
	Transmit(mode device.TxMode, hz float64, p device.Power) error
	SetTxTone(on bool, mode device.ToneMode, antenna int) error
	SetCtune(v int) error
	StartReceive(hz float64) error
	ReadRSSI() (float64, error)
	MeasureBER(nbytes int, timeout time.Duration, hz float64) (device.Measurement, error)
	MeasurePER(npackets int, timeout time.Duration, hz float64, trigger device.Trigger) (device.Measurement, error)
}

// Rig is everything one run borrows. Instruments a sweep does not need may be nil.
type Rig struct {
	DUT       DUT
	Analyzer  instrument.SpectrumAnalyzer
	Generator instrument.SignalGenerator
	Blocker   instrument.SignalGenerator
	Supply    instrument.PowerSupply
	Observer  Observer
}

var ErrMissingInstrument = errors.New("required instrument not configured")

// Event is emitted once per measurement point and once when a run ends.
type Event struct {
	RunID     string
	Sweep     string
	Frequency float64
	// X is the swept variable (trim code, level in dBm), Y what was observed.
	X    float64
	Y    float64
	Done bool
	Note string
}

type Observer func(Event)

func (r Rig) emit(e Event) {
	if r.Observer != nil {
		r.Observer(e)
	}
}

func (r Rig) point(e Event) {
	metrics.SweepPoints.WithLabelValues(e.Sweep).Inc()
	r.emit(e)
}

func (r Rig) finish(e Event) {
	e.Done = true
	metrics.LastResult.WithLabelValues(e.Sweep, strconv.FormatFloat(e.Frequency, 'f', 0, 64)).Set(e.X)
	r.emit(e)
}

// enableOutput sets modulation on generators that can switch it, then turns
// the RF output on. The returned func turns modulation off and then the output.
func enableOutput(g instrument.SignalGenerator, modulated bool) (func(), error) {
	m, canModulate := g.(instrument.Modulator)
	if canModulate {
		err := m.SetModulationEnabled(modulated)
		if errors.Is(err, errors.ErrUnsupported) {
			log.Debugf("Generator cannot switch modulation, leaving it as set up")
			canModulate = false
		} else if err != nil {
			return func() {}, err
		}
	}
	if err := g.SetOutputEnabled(true); err != nil {
		return func() {}, err
	}
	return func() {
		if canModulate {
			if err := m.SetModulationEnabled(false); err != nil {
				log.Errorf("Could not disable modulation: %v", err)
			}
		}
		disableOutput(g)
	}, nil
}

func need(what string, present bool) error {
	if !present {
		return fmt.Errorf("%s: %w", what, ErrMissingInstrument)
	}
	return nil
}

func newRunID() string {
	return uuid.NewString()
}

func settle(ms int) {
	if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}

func orZero(values []float64) []float64 {
	if len(values) == 0 {
		return []float64{0}
	}
	return values
}
