// Package transporttest provides an in-memory Link that answers commands the
// way RAILtest firmware does, for use in tests.
package transporttest

import (
	"strings"
	"sync"
	"time"

	"github.com/jrwynneiii/railtuner/transport"
)

// Handler produces the raw reply for one command line (without the line feed).
type Handler func(cmd string) string

type Link struct {
	// Handler answers each written line. When nil, Replies is consulted by
	// full command and then by the first word.
	Handler Handler
	Replies map[string]string
	// ReadErr is returned by every Read once set.
	ReadErr error

	mu      sync.Mutex
	written []string
	line    []byte
	rx      []byte
	timeout time.Duration
	closed  bool
	opens   int
}

func New(h Handler) *Link {
	return &Link{Handler: h, Replies: map[string]string{}, timeout: time.Millisecond}
}

// Opener hands out this link, reopening it if it was closed.
func (l *Link) Opener() transport.Opener {
	return func() (transport.Link, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.closed = false
		l.opens++
		return l, nil
	}
}

// Feed queues unsolicited bytes as if the firmware had sent them.
func (l *Link) Feed(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = append(l.rx, s...)
}

// Written returns every command line received so far.
func (l *Link) Written() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.written...)
}

func (l *Link) Opens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens
}

func (l *Link) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range p {
		if b != '\n' {
			l.line = append(l.line, b)
			continue
		}
		cmd := string(l.line)
		l.line = l.line[:0]
		l.written = append(l.written, cmd)
		l.rx = append(l.rx, l.reply(cmd)...)
	}
	return len(p), nil
}

func (l *Link) reply(cmd string) string {
	if l.Handler != nil {
		return l.Handler(cmd)
	}
	if r, ok := l.Replies[cmd]; ok {
		return r
	}
	if fields := strings.Fields(cmd); len(fields) > 0 {
		return l.Replies[fields[0]]
	}
	return ""
}

func (l *Link) Read(p []byte) (int, error) {
	l.mu.Lock()
	if l.ReadErr != nil {
		l.mu.Unlock()
		return 0, l.ReadErr
	}
	if len(l.rx) == 0 {
		wait := l.timeout
		l.mu.Unlock()
		time.Sleep(wait)
		return 0, nil
	}
	n := copy(p, l.rx)
	l.rx = l.rx[n:]
	l.mu.Unlock()
	return n, nil
}

func (l *Link) SetReadTimeout(t time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeout = t
	return nil
}

func (l *Link) ResetInputBuffer() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = l.rx[:0]
	return nil
}

func (l *Link) ResetOutputBuffer() error {
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Record formats a firmware reply record: {{(typ)}{k:v}...}. Pairs are given as
// alternating keys and values.
func Record(typ string, pairs ...string) string {
	var b strings.Builder
	b.WriteString("{{(")
	b.WriteString(typ)
	b.WriteString(")}")
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteString("{")
		b.WriteString(pairs[i])
		b.WriteString(":")
		b.WriteString(pairs[i+1])
		b.WriteString("}")
	}
	b.WriteString("}")
	return b.String()
}

// Reply wraps records the way the firmware frames them, ending at the prompt.
func Reply(records ...string) string {
	return strings.Join(records, "\r\n") + "\r\n> "
}
