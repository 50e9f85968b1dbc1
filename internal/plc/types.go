// internal/plc/types.go
package plc

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the Modbus TCP port.
const DefaultPort = 502

// RegisterClass is one of the four Modbus data regions.
// Values match the read function code of the region.
type RegisterClass uint8

const (
	Coil            RegisterClass = 1 // FC 1
	DiscreteInput   RegisterClass = 2 // FC 2
	HoldingRegister RegisterClass = 3 // FC 3
	InputRegister   RegisterClass = 4 // FC 4
)

// Valid reports whether c names a known region.
func (c RegisterClass) Valid() bool {
	return c >= Coil && c <= InputRegister
}

// IsBit reports whether the region holds single bits.
func (c RegisterClass) IsBit() bool {
	return c == Coil || c == DiscreteInput
}

func (c RegisterClass) String() string {
	switch c {
	case Coil:
		return "coil"
	case DiscreteInput:
		return "discrete_input"
	case HoldingRegister:
		return "holding_register"
	case InputRegister:
		return "input_register"
	default:
		return fmt.Sprintf("register_class(%d)", uint8(c))
	}
}

// ParseRegisterClass accepts the names produced by String.
func ParseRegisterClass(s string) (RegisterClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coil", "coils":
		return Coil, nil
	case "discrete_input", "discrete_inputs":
		return DiscreteInput, nil
	case "holding_register", "holding_registers":
		return HoldingRegister, nil
	case "input_register", "input_registers":
		return InputRegister, nil
	default:
		return 0, fmt.Errorf("plc: unknown register class %q", s)
	}
}

// Endpoint is the TCP target of the link.
type Endpoint struct {
	Address string
	Port    int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// PayloadKind tags which field of a Payload is used.
type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	PayloadBits
	PayloadRegisters
)

// Payload carries decoded values of one read.
// Exactly one of Bits or Registers is used depending on Kind.
type Payload struct {
	Kind      PayloadKind
	Bits      []bool   // coils, discrete inputs
	Registers []uint16 // holding, input registers
}

func BitsPayload(b []bool) Payload {
	return Payload{Kind: PayloadBits, Bits: b}
}

func RegistersPayload(r []uint16) Payload {
	return Payload{Kind: PayloadRegisters, Registers: r}
}

// Len is the number of decoded elements.
func (p Payload) Len() int {
	switch p.Kind {
	case PayloadBits:
		return len(p.Bits)
	case PayloadRegisters:
		return len(p.Registers)
	default:
		return 0
	}
}

// ConnectionEvent reports a link state transition or a failed connect attempt.
type ConnectionEvent struct {
	Connected bool
	Endpoint  Endpoint
	Timestamp time.Time
	Err       error // nil on success and on explicit disconnect
}

// DataEvent is published after every successful read.
type DataEvent struct {
	Class     RegisterClass
	Address   uint16
	Payload   Payload
	Timestamp time.Time
}
