package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jrwynneiii/railtuner/response"
	"github.com/jrwynneiii/railtuner/transport"
)

// NoResponseError means the reply held no records at all.
type NoResponseError struct {
	Command string
	Raw     string
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("%s: no responses found: %q", e.Command, e.Raw)
}

// UnexpectedResponseError means records came back but none of the expected type.
type UnexpectedResponseError struct {
	Command  string
	Expected string
	Got      []string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("%s: wrong response, expected %s got [%s]", e.Command, e.Expected, strings.Join(e.Got, " "))
}

// DeviceError is an application-level rejection: a record carried an error key.
type DeviceError struct {
	Command string
	Code    string
	Message string
}

func (e *DeviceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: firmware error %s: %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: firmware error: %s", e.Command, e.Message)
}

// DeviceFaultError is a firmware assertion.
type DeviceFaultError struct {
	Command string
	Message string
}

func (e *DeviceFaultError) Error() string {
	return fmt.Sprintf("%s: firmware assert: %s", e.Command, e.Message)
}

// UnknownModeError is an AppMode string outside the known set.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown app mode %q", e.Mode)
}

// retryable reports failures that a flush and a second attempt may cure:
// lost or garbled framing rather than a firmware verdict.
func retryable(err error) bool {
	var (
		timeout    *transport.ReadTimeoutError
		none       *NoResponseError
		unexpected *UnexpectedResponseError
	)
	return errors.As(err, &timeout) || errors.As(err, &none) || errors.As(err, &unexpected)
}

func outcome(err error) string {
	var (
		timeout    *transport.ReadTimeoutError
		link       *transport.LinkError
		malformed  *response.MalformedResponseError
		none       *NoResponseError
		unexpected *UnexpectedResponseError
		devErr     *DeviceError
		fault      *DeviceFaultError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &link):
		return "link"
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &none):
		return "no_response"
	case errors.As(err, &unexpected):
		return "unexpected"
	case errors.As(err, &devErr):
		return "device_error"
	case errors.As(err, &fault):
		return "fault"
	}
	return "other"
}
