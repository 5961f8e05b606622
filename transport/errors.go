package transport

import (
	"errors"
	"fmt"
	"time"
)

var ErrLinkClosed = errors.New("link closed")

// LinkError wraps an I/O failure on the underlying link.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// ReadTimeoutError reports a terminator that never arrived. Partial holds what
// was received; it is still buffered in the transport.
type ReadTimeoutError struct {
	Terminator Terminator
	Timeout    time.Duration
	Partial    string
}

func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("no %s terminator after %v (%d bytes pending)", e.Terminator, e.Timeout, len(e.Partial))
}
