package instrument

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
)

type analyzerDialect struct {
	name   string
	setup  []string
	center func(hz float64) string
	span   func(hz float64) string
	rbw    func(hz float64) string
	marker string
}

var genericAnalyzer = analyzerDialect{
	name:   "generic",
	center: func(hz float64) string { return "FREQ:CENT " + formatFloat(hz) },
	span:   func(hz float64) string { return "FREQ:SPAN " + formatFloat(hz) },
	rbw:    func(hz float64) string { return "BAND " + formatFloat(hz) },
	marker: "CALC:MARK1",
}

var rsAnalyzer = analyzerDialect{
	name:   "Rohde&Schwarz",
	center: func(hz float64) string { return "FREQ:CENT " + formatFloat(hz/1e9) + " GHz" },
	span:   func(hz float64) string { return "FREQ:SPAN " + formatFloat(hz/1e6) + " MHz" },
	rbw:    func(hz float64) string { return "BAND " + formatFloat(hz/1e3) + " kHz" },
	marker: "CALC1:MARK1",
}

var anritsuAnalyzer = analyzerDialect{
	name:   "Anritsu",
	setup:  []string{"INST SPECT"},
	center: genericAnalyzer.center,
	span:   genericAnalyzer.span,
	rbw:    genericAnalyzer.rbw,
	marker: genericAnalyzer.marker,
}

func analyzerDialectFor(idn string) analyzerDialect {
	switch {
	case strings.Contains(idn, "Rohde&Schwarz"):
		return rsAnalyzer
	case strings.Contains(idn, "ANRITSU"):
		return anritsuAnalyzer
	default:
		log.Warnf("No specific spectrum analyzer identified from %q, using generic commands", idn)
		return genericAnalyzer
	}
}

type Analyzer struct {
	conn    *Conn
	dialect analyzerDialect
}

// NewSpectrumAnalyzer dials a SCPI analyzer and picks its command set from *IDN?.
func NewSpectrumAnalyzer(ctx context.Context, conf config.InstrumentConf) (*Analyzer, error) {
	c, idn, err := identify(ctx, conf)
	if err != nil {
		return nil, err
	}
	a := &Analyzer{conn: c, dialect: analyzerDialectFor(idn)}
	for _, cmd := range a.dialect.setup {
		if err := c.Command(cmd); err != nil {
			c.Close()
			return nil, err
		}
	}
	if conf.Rbw > 0 {
		if err := a.SetRBW(conf.Rbw); err != nil {
			c.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *Analyzer) Dialect() string { return a.dialect.name }

func (a *Analyzer) SetFrequency(hz float64) error {
	return a.conn.Command(a.dialect.center(hz))
}

func (a *Analyzer) SetSpan(hz float64) error {
	return a.conn.Command(a.dialect.span(hz))
}

func (a *Analyzer) SetRBW(hz float64) error {
	return a.conn.Command(a.dialect.rbw(hz))
}

func (a *Analyzer) InitiateSweep() error {
	return a.conn.Command("INIT")
}

func (a *Analyzer) ReadPeakMarker() (Marker, error) {
	if err := a.conn.Command(a.dialect.marker + ":MAX"); err != nil {
		return Marker{}, err
	}
	x, err := a.conn.QueryFloat(a.dialect.marker + ":X?")
	if err != nil {
		return Marker{}, err
	}
	y, err := a.conn.QueryFloat(a.dialect.marker + ":Y?")
	if err != nil {
		return Marker{}, err
	}
	return Marker{Frequency: x, Level: y}, nil
}

func (a *Analyzer) Close() error {
	if err := a.conn.Close(); err != nil {
		return fmt.Errorf("closing analyzer: %w", err)
	}
	return nil
}
