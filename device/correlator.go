package device

import (
	"strings"
	"time"

	"github.com/jrwynneiii/railtuner/metrics"
	"github.com/jrwynneiii/railtuner/response"
	"github.com/jrwynneiii/railtuner/transport"
)

// Port is the part of a transport the correlator needs.
type Port interface {
	Write(cmd string) error
	Read(term transport.Terminator, timeout time.Duration) (string, error)
	Flush() error
}

// Correlator turns one command into one validated reply.
type Correlator struct {
	port   Port
	settle time.Duration
}

func NewCorrelator(port Port, settle time.Duration) *Correlator {
	return &Correlator{port: port, settle: settle}
}

// Call writes cmd, waits for the prompt and checks the reply holds a record of
// the expected type, given without parentheses ("status"). An empty expected
// type skips that check.
func (c *Correlator) Call(cmd, expected string, timeout time.Duration) ([]response.Record, error) {
	return c.CallAfter(cmd, expected, c.settle, timeout)
}

// CallAfter is Call with an explicit delay between the write and the read.
func (c *Correlator) CallAfter(cmd, expected string, settle, timeout time.Duration) ([]response.Record, error) {
	name := commandName(cmd)
	start := time.Now()
	recs, err := c.exchange(cmd, expected, settle, timeout)
	metrics.DeviceCallSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.DeviceCalls.WithLabelValues(name, outcome(err)).Inc()
	return recs, err
}

func (c *Correlator) exchange(cmd, expected string, settle, timeout time.Duration) ([]response.Record, error) {
	if err := c.port.Write(cmd); err != nil {
		return nil, err
	}
	if settle > 0 {
		time.Sleep(settle)
	}
	raw, err := c.port.Read(transport.Prompt, timeout)
	if err != nil {
		return nil, err
	}
	recs, err := response.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := Check(cmd, expected, raw, recs); err != nil {
		return recs, err
	}
	return recs, nil
}

// Check applies the reply rules in order: no records, firmware assert, error
// key, then the expected type.
func Check(cmd, expected, raw string, recs []response.Record) error {
	if len(recs) == 0 {
		return &NoResponseError{Command: cmd, Raw: raw}
	}
	for _, r := range recs {
		if r.Type == "(assert)" {
			return &DeviceFaultError{Command: cmd, Message: r.Text("message")}
		}
	}
	for _, r := range recs {
		if msg, ok := r.Get("error"); ok {
			return &DeviceError{Command: cmd, Code: r.Text("errorCode"), Message: msg}
		}
	}
	if expected == "" {
		return nil
	}
	want := "(" + expected + ")"
	for _, r := range recs {
		if r.Type == want {
			return nil
		}
	}
	return &UnexpectedResponseError{Command: cmd, Expected: want, Got: response.Types(recs)}
}

func commandName(cmd string) string {
	if name, _, ok := strings.Cut(cmd, " "); ok {
		return name
	}
	return cmd
}
