// internal/plc/modbus/dialer.go
package modbus

import (
	"context"
	"errors"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/plcmon/internal/plc"
)

// Config is minimal transport config.
type Config struct {
	UnitID  uint8
	Timeout time.Duration
}

const defaultTimeout = 3 * time.Second

// Dialer implements plc.Dialer on top of goburrow/modbus TCP.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Dialer{cfg: cfg}
}

// Dial opens one TCP connection. The attempt is bounded by both the
// configured timeout and ctx.
func (d *Dialer) Dial(ctx context.Context, ep plc.Endpoint) (plc.Conn, error) {
	if ep.Address == "" {
		return nil, errors.New("modbus dialer: endpoint address required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := modbus.NewTCPClientHandler(ep.String())
	h.Timeout = d.cfg.Timeout
	h.SlaveId = d.cfg.UnitID
	// Link lifetime belongs to plc.Client; no silent idle close/redial.
	h.IdleTimeout = 0

	done := make(chan error, 1)
	go func() {
		done <- h.Connect()
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		// Release the socket if the attempt completes later.
		go func() {
			if err := <-done; err == nil {
				_ = h.Close()
			}
		}()
		return nil, ctx.Err()
	}

	return &conn{handler: h, client: modbus.NewClient(h)}, nil
}

// conn implements plc.Conn. Calls are serialized by plc.Client.
type conn struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func (c *conn) Close() error {
	return c.handler.Close()
}

func (c *conn) ReadCoils(addr, qty uint16) ([]bool, error) {
	b, err := c.client.ReadCoils(addr, qty)
	if err != nil {
		return nil, translate(err)
	}
	return unpackBitsChecked(b, int(qty))
}

func (c *conn) ReadDiscreteInputs(addr, qty uint16) ([]bool, error) {
	b, err := c.client.ReadDiscreteInputs(addr, qty)
	if err != nil {
		return nil, translate(err)
	}
	return unpackBitsChecked(b, int(qty))
}

func (c *conn) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	b, err := c.client.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, translate(err)
	}
	return unpackRegistersChecked(b, int(qty))
}

func (c *conn) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	b, err := c.client.ReadInputRegisters(addr, qty)
	if err != nil {
		return nil, translate(err)
	}
	return unpackRegistersChecked(b, int(qty))
}

func (c *conn) WriteCoils(addr uint16, values []bool) error {
	var err error
	if len(values) == 1 {
		var v uint16
		if values[0] {
			v = 0xFF00
		}
		_, err = c.client.WriteSingleCoil(addr, v)
	} else {
		_, err = c.client.WriteMultipleCoils(addr, uint16(len(values)), packBits(values))
	}
	return translate(err)
}

func (c *conn) WriteHoldingRegisters(addr uint16, values []uint16) error {
	var err error
	if len(values) == 1 {
		_, err = c.client.WriteSingleRegister(addr, values[0])
	} else {
		_, err = c.client.WriteMultipleRegisters(addr, uint16(len(values)), packRegisters(values))
	}
	return translate(err)
}

// translate marks exception responses so plc.Client keeps the link up.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return &plc.ExceptionError{Function: me.FunctionCode &^ 0x80, Code: me.ExceptionCode}
	}
	return err
}
