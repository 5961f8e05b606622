package instrument

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
)

type Supply struct {
	conn *Conn
}

// NewPowerSupply dials a SCPI supply. Agilent units get output 1 selected.
func NewPowerSupply(ctx context.Context, conf config.InstrumentConf) (*Supply, error) {
	c, idn, err := identify(ctx, conf)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.Contains(idn, "Agilent"):
		if err := c.Command("INST:SEL OUT1"); err != nil {
			c.Close()
			return nil, err
		}
	default:
		log.Warnf("No specific power supply identified from %q, using generic commands", idn)
	}
	return &Supply{conn: c}, nil
}

func (p *Supply) SetVoltage(v float64) error {
	return p.conn.Command("VOLT " + formatFloat(v))
}

func (p *Supply) SetOutputEnabled(on bool) error {
	return p.conn.Command("OUTP " + onOff(on))
}

func (p *Supply) MeasureCurrent() (float64, error) {
	return p.conn.QueryFloat("MEAS:CURR?")
}

func (p *Supply) Close() error {
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("closing power supply: %w", err)
	}
	return nil
}
