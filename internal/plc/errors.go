// internal/plc/errors.go
package plc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by operations attempted while the link is
	// down. No I/O was performed. This is an expected condition.
	ErrNotConnected = errors.New("plc: not connected")

	// ErrConnectionLost wraps a transport failure. The link has been marked
	// disconnected and a connection event has been published.
	ErrConnectionLost = errors.New("plc: connection lost")

	// ErrConnectFailed wraps a failed connection attempt.
	ErrConnectFailed = errors.New("plc: connect failed")

	// ErrDeviceException wraps a Modbus exception response. The device
	// answered, so the link stays up.
	ErrDeviceException = errors.New("plc: device exception")

	// ErrInvalidRequest rejects a request before it reaches the link.
	ErrInvalidRequest = errors.New("plc: invalid request")

	// ErrConnected rejects endpoint changes while the link is up.
	ErrConnected = errors.New("plc: endpoint cannot change while connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("plc: client closed")
)

// ExceptionError is a Modbus exception response. It matches
// ErrDeviceException under errors.Is.
type ExceptionError struct {
	Function uint8
	Code     uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("%v: fc=%d code=%d", ErrDeviceException, e.Function, e.Code)
}

func (e *ExceptionError) Is(target error) bool {
	return target == ErrDeviceException
}

// ModbusCode is the raw exception code.
func (e *ExceptionError) ModbusCode() uint16 {
	return uint16(e.Code)
}
