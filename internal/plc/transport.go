// internal/plc/transport.go
package plc

import (
	"context"
	"fmt"
)

// Dialer opens a protocol-capable connection to one endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// Conn is the Modbus operation layer for one open link.
// Implementations are not safe for concurrent use; Client serializes calls.
// Exception responses must be wrapped with ErrDeviceException; any other
// error is treated as a transport failure.
type Conn interface {
	ReadCoils(addr, qty uint16) ([]bool, error)              // FC 1
	ReadDiscreteInputs(addr, qty uint16) ([]bool, error)     // FC 2
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) // FC 3
	ReadInputRegisters(addr, qty uint16) ([]uint16, error)   // FC 4
	WriteCoils(addr uint16, values []bool) error             // FC 5 / 15
	WriteHoldingRegisters(addr uint16, values []uint16) error // FC 6 / 16
	Close() error
}

// Modbus application protocol quantity limits.
const (
	MaxReadBits       = 2000
	MaxReadRegisters  = 125
	MaxWriteCoils     = 1968
	MaxWriteRegisters = 123
)

func validateRead(class RegisterClass, addr, qty uint16) error {
	limit := MaxReadRegisters
	if class.IsBit() {
		limit = MaxReadBits
	}
	return validateWindow(class.String(), addr, int(qty), limit)
}

func validateWindow(what string, addr uint16, qty, limit int) error {
	if qty < 1 || qty > limit {
		return fmt.Errorf("%w: %s quantity %d outside 1..%d", ErrInvalidRequest, what, qty, limit)
	}
	if int(addr)+qty > 1<<16 {
		return fmt.Errorf("%w: %s window %d+%d exceeds address space", ErrInvalidRequest, what, addr, qty)
	}
	return nil
}
