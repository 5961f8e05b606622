package instrument

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
)

// A nil command builder means the dialect cannot do it.
type generatorDialect struct {
	name       string
	setup      []string
	amplitude  func(dbm float64) string
	modulation func(on bool) string
	trigger    string
}

var genericGenerator = generatorDialect{name: "generic"}

var hpGenerator = generatorDialect{
	name:       "Hewlett-Packard",
	amplitude:  func(dbm float64) string { return "POW:AMPL " + formatFloat(dbm) + " dBm" },
	modulation: func(on bool) string { return "OUTP:MOD " + onOff(on) },
	trigger:    "*TRG",
}

var rsGenerator = generatorDialect{
	name:       "Rohde&Schwarz",
	setup:      []string{"SOURce:POW:MODE FIX"},
	amplitude:  func(dbm float64) string { return "SOURce:POW:POW " + formatFloat(dbm) },
	modulation: func(on bool) string { return "BB:DM:STAT " + onOff(on) },
	trigger:    "BB:DM:TRIG:EXEC",
}

var anritsuGenerator = generatorDialect{
	name:      "Anritsu",
	setup:     []string{"INST SG"},
	amplitude: func(dbm float64) string { return "POW " + formatFloat(dbm) + "DBM" },
}

func generatorDialectFor(idn string) generatorDialect {
	switch {
	case strings.Contains(idn, "Hewlett"):
		return hpGenerator
	case strings.Contains(idn, "Rohde&Schwarz"):
		return rsGenerator
	case strings.Contains(idn, "ANRITSU"):
		return anritsuGenerator
	default:
		log.Warnf("No specific signal generator identified from %q, using generic commands", idn)
		return genericGenerator
	}
}

type SignalGen struct {
	conn    *Conn
	dialect generatorDialect
}

// NewSignalGenerator dials a SCPI generator and picks its command set from *IDN?.
func NewSignalGenerator(ctx context.Context, conf config.InstrumentConf) (*SignalGen, error) {
	c, idn, err := identify(ctx, conf)
	if err != nil {
		return nil, err
	}
	g := &SignalGen{conn: c, dialect: generatorDialectFor(idn)}
	for _, cmd := range g.dialect.setup {
		if err := c.Command(cmd); err != nil {
			c.Close()
			return nil, err
		}
	}
	return g, nil
}

func (g *SignalGen) unsupported(op string) error {
	return fmt.Errorf("%s on %s signal generator: %w", op, g.dialect.name, errors.ErrUnsupported)
}

func (g *SignalGen) Dialect() string { return g.dialect.name }

func (g *SignalGen) SetFrequency(hz float64) error {
	return g.conn.Command("FREQ " + formatFloat(hz) + " Hz")
}

func (g *SignalGen) SetAmplitude(dbm float64) error {
	if g.dialect.amplitude == nil {
		return g.unsupported("set amplitude")
	}
	return g.conn.Command(g.dialect.amplitude(dbm))
}

func (g *SignalGen) SetOutputEnabled(on bool) error {
	return g.conn.Command("OUTP:STAT " + onOff(on))
}

func (g *SignalGen) SetModulationEnabled(on bool) error {
	if g.dialect.modulation == nil {
		return g.unsupported("toggle modulation")
	}
	return g.conn.Command(g.dialect.modulation(on))
}

// SendTrigger fires the packet trigger n times.
func (g *SignalGen) SendTrigger(n int) error {
	if g.dialect.trigger == "" {
		return g.unsupported("trigger")
	}
	for range n {
		if err := g.conn.Command(g.dialect.trigger); err != nil {
			return err
		}
	}
	return nil
}

func (g *SignalGen) Close() error {
	if err := g.conn.Close(); err != nil {
		return fmt.Errorf("closing signal generator: %w", err)
	}
	return nil
}
