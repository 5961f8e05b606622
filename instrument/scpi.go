package instrument

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
)

const (
	defaultPort    = "5025"
	defaultTimeout = time.Second
)

var ErrOperationIncomplete = errors.New("instrument reported operation incomplete")

// Conn is a raw SCPI socket session. Commands and replies are newline terminated.
type Conn struct {
	addr    string
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to addr, adding the raw SCPI port when none is given.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultPort)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to instrument at %s: %w", addr, err)
	}
	return &Conn{addr: addr, conn: conn, reader: bufio.NewReader(conn), timeout: timeout}, nil
}

func dialConf(ctx context.Context, conf config.InstrumentConf) (*Conn, error) {
	if conf.Address == "" {
		return nil, errors.New("instrument address not set")
	}
	return Dial(ctx, conf.Address, time.Duration(conf.TimeoutMs)*time.Millisecond)
}

func (c *Conn) Write(cmd string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	log.Debugf("SCPI %s > %s", c.addr, cmd)
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	return nil
}

func (c *Conn) Query(cmd string) (string, error) {
	if err := c.Write(cmd); err != nil {
		return "", err
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", fmt.Errorf("failed to set read deadline: %w", err)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read reply to %q: %w", cmd, err)
	}
	line = strings.TrimSpace(line)
	log.Debugf("SCPI %s < %s", c.addr, line)
	return line, nil
}

// QueryFloat parses the first comma separated value of the reply.
func (c *Conn) QueryFloat(cmd string) (float64, error) {
	reply, err := c.Query(cmd)
	if err != nil {
		return 0, err
	}
	first, _, _ := strings.Cut(reply, ",")
	v, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: unexpected reply %q: %w", cmd, reply, err)
	}
	return v, nil
}

// Command sends cmd and waits for *OPC? to confirm it finished.
func (c *Conn) Command(cmd string) error {
	if err := c.Write(cmd); err != nil {
		return err
	}
	opc, err := c.QueryFloat("*OPC?")
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if opc == 0 {
		return fmt.Errorf("%s: %w", cmd, ErrOperationIncomplete)
	}
	return nil
}

func (c *Conn) Identify() (string, error) {
	return c.Query("*IDN?")
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func identify(ctx context.Context, conf config.InstrumentConf) (*Conn, string, error) {
	c, err := dialConf(ctx, conf)
	if err != nil {
		return nil, "", err
	}
	idn, err := c.Identify()
	if err != nil {
		c.Close()
		return nil, "", err
	}
	log.Infof("Found instrument at %s: %s", c.addr, idn)
	return c, idn, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
