package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
	"go.bug.st/serial"
)

// Link is the byte pipe under a Transport. go.bug.st/serial ports satisfy it.
type Link interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Opener (re)creates the link. It is kept so a closed transport can be brought
// back for teardown commands.
type Opener func() (Link, error)

// Terminator selects how Read frames its result.
type Terminator int

const (
	// None drains everything that arrives within the window.
	None    Terminator = -1
	Prompt  Terminator = '>'
	Newline Terminator = '\n'
)

func (t Terminator) String() string {
	if t == None {
		return "none"
	}
	return fmt.Sprintf("%q", rune(t))
}

const pollInterval = 20 * time.Millisecond

type Transport struct {
	open    Opener
	link    Link
	pending []byte
	chunk   []byte
}

// SerialOpener opens conf.Port at conf.BaudRate, 8N1.
func SerialOpener(conf config.SerialConf) Opener {
	return func() (Link, error) {
		baud := conf.BaudRate
		if baud == 0 {
			baud = 115200
		}
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(conf.Port, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", conf.Port, err)
		}
		log.Debugf("Opened serial port %s at %d baud", conf.Port, baud)
		return port, nil
	}
}

// ListPorts returns the serial ports visible on this host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func New(open Opener) (*Transport, error) {
	t := &Transport{open: open, chunk: make([]byte, 256)}
	if err := t.Reopen(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open is New with the serial opener for conf.
func Open(conf config.SerialConf) (*Transport, error) {
	return New(SerialOpener(conf))
}

func (t *Transport) Closed() bool {
	return t.link == nil
}

// Reopen brings the link back after Close. It is a no-op on an open link.
func (t *Transport) Reopen() error {
	if t.link != nil {
		return nil
	}
	link, err := t.open()
	if err != nil {
		return &LinkError{Op: "open", Err: err}
	}
	t.link = link
	t.pending = t.pending[:0]
	return nil
}

func (t *Transport) Close() error {
	if t.link == nil {
		return nil
	}
	err := t.link.Close()
	t.link = nil
	t.pending = t.pending[:0]
	if err != nil {
		return &LinkError{Op: "close", Err: err}
	}
	return nil
}

// Write sends cmd followed by a line feed.
func (t *Transport) Write(cmd string) error {
	if t.link == nil {
		return &LinkError{Op: "write", Err: ErrLinkClosed}
	}
	log.Debugf("> %s", cmd)
	if _, err := t.link.Write([]byte(cmd + "\n")); err != nil {
		return &LinkError{Op: "write", Err: err}
	}
	return nil
}

// Read collects bytes for at most timeout. With a terminator it returns the
// text up to and including the first terminator and keeps the remainder for
// the next call; if none arrives it fails with a ReadTimeoutError and the
// partial text stays buffered. With None it waits out the whole window and
// returns everything received, never timing out.
func (t *Transport) Read(term Terminator, timeout time.Duration) (string, error) {
	if t.link == nil {
		return "", &LinkError{Op: "read", Err: ErrLinkClosed}
	}
	deadline := time.Now().Add(timeout)
	for {
		if term != None {
			if idx := bytes.IndexByte(t.pending, byte(term)); idx >= 0 {
				out := string(t.pending[:idx+1])
				t.pending = append(t.pending[:0], t.pending[idx+1:]...)
				logRead(out)
				return out, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := t.link.SetReadTimeout(min(remaining, pollInterval)); err != nil {
			return "", &LinkError{Op: "read", Err: err}
		}
		n, err := t.link.Read(t.chunk)
		if n > 0 {
			t.pending = append(t.pending, t.chunk[:n]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", &LinkError{Op: "read", Err: err}
		}
	}

	if term == None {
		out := string(t.pending)
		t.pending = t.pending[:0]
		logRead(out)
		return out, nil
	}
	return "", &ReadTimeoutError{Terminator: term, Timeout: timeout, Partial: string(t.pending)}
}

// Flush discards anything queued in either direction, including the leftover
// buffer.
func (t *Transport) Flush() error {
	t.pending = t.pending[:0]
	if t.link == nil {
		return nil
	}
	if err := t.link.ResetInputBuffer(); err != nil {
		return &LinkError{Op: "flush", Err: err}
	}
	if err := t.link.ResetOutputBuffer(); err != nil {
		return &LinkError{Op: "flush", Err: err}
	}
	return nil
}

func logRead(text string) {
	if text == "" {
		return
	}
	clean := strings.NewReplacer("\r", "", "\n", "", "\x00", "").Replace(text)
	log.Debugf("< %s", clean)
}
