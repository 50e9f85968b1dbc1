// internal/plc/client.go
package plc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/plcmon/internal/notify"
)

// Default liveness probe settings.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeAddress  = 0
)

// Config is the link configuration of a Client.
type Config struct {
	Endpoint      Endpoint
	ProbeInterval time.Duration // 0 => DefaultProbeInterval
	ProbeAddress  uint16        // holding register read by the probe
}

// Client owns one Modbus TCP link.
//
// Every network operation, including the liveness probe, runs under opMu:
// the wire layer is not safe for concurrent use. Connection events are
// queued under opMu in transition order and delivered by a dedicated
// goroutine, so handlers never run with the link locked.
type Client struct {
	cfg    Config
	dialer Dialer
	logger zerolog.Logger

	opMu  sync.Mutex
	conn  Conn   // guarded by opMu
	probe *probe // guarded by opMu

	epMu     sync.RWMutex
	endpoint Endpoint

	connected atomic.Bool
	closed    atomic.Bool

	connFeed  notify.Feed[ConnectionEvent]
	connQueue *notify.Queue[ConnectionEvent]
	dataFeed  notify.Feed[DataEvent]
}

// New creates a disconnected client. Call Connect to open the link.
func New(cfg Config, dialer Dialer, logger zerolog.Logger) *Client {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.Endpoint.Port == 0 {
		cfg.Endpoint.Port = DefaultPort
	}

	c := &Client{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger.With().Str("component", "plc").Logger(),
		endpoint: cfg.Endpoint,
	}
	c.connFeed.OnPanic(notify.LogPanic(c.logger, "connection"))
	c.dataFeed.OnPanic(notify.LogPanic(c.logger, "data"))
	c.connQueue = notify.NewQueue(&c.connFeed)
	return c
}

// IsConnected reports whether operations may be attempted.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Endpoint returns the current target.
func (c *Client) Endpoint() Endpoint {
	c.epMu.RLock()
	defer c.epMu.RUnlock()
	return c.endpoint
}

// SubscribeConnection registers fn for connection events.
// Events arrive in transition order on the client's dispatch goroutine.
func (c *Client) SubscribeConnection(fn func(ConnectionEvent)) (unsubscribe func()) {
	return c.connFeed.Subscribe(fn)
}

// SubscribeData registers fn for values decoded by successful reads.
// fn runs on the goroutine that issued the read.
func (c *Client) SubscribeData(fn func(DataEvent)) (unsubscribe func()) {
	return c.dataFeed.Subscribe(fn)
}

// UpdateEndpoint changes the target of the next Connect.
func (c *Client) UpdateEndpoint(ep Endpoint) error {
	if ep.Address == "" {
		return fmt.Errorf("%w: endpoint address required", ErrInvalidRequest)
	}
	if ep.Port <= 0 || ep.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidRequest, ep.Port)
	}

	// opMu: a concurrent Connect resolves before the check.
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.connected.Load() {
		return ErrConnected
	}

	c.epMu.Lock()
	c.endpoint = ep
	c.epMu.Unlock()

	c.logger.Debug().Str("endpoint", ep.String()).Msg("endpoint updated")
	return nil
}

// Connect opens a fresh link, discarding any stale one.
// Calling Connect while connected is a no-op that returns nil.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.connected.Load() {
		return nil
	}

	ep := c.Endpoint()

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("closing stale connection")
		}
		c.conn = nil
	}

	c.logger.Debug().Str("endpoint", ep.String()).Msg("connecting")

	conn, err := c.dialer.Dial(ctx, ep)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", ep.String()).Msg("connect failed")
		failed := fmt.Errorf("%w: %s: %v", ErrConnectFailed, ep, err)
		c.publish(ConnectionEvent{Endpoint: ep, Err: failed})
		return failed
	}

	if c.closed.Load() {
		_ = conn.Close()
		return ErrClosed
	}

	c.conn = conn
	c.connected.Store(true)
	c.startProbeLocked()

	c.logger.Info().Str("endpoint", ep.String()).Msg("connected")
	c.publish(ConnectionEvent{Connected: true, Endpoint: ep})
	return nil
}

// Disconnect closes the link. No-op when already disconnected.
func (c *Client) Disconnect() {
	c.opMu.Lock()
	if !c.connected.Load() {
		c.opMu.Unlock()
		return
	}

	p := c.stopProbeLocked()
	c.closeConnLocked()
	c.connected.Store(false)

	ep := c.Endpoint()
	c.logger.Info().Str("endpoint", ep.String()).Msg("disconnected")
	c.publish(ConnectionEvent{Endpoint: ep})
	c.opMu.Unlock()

	// The probe may be parked on opMu; release it before waiting.
	p.wait()
}

// Close stops the probe and closes the link even in a failed state.
// No events are published once Close has begun.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.connQueue.Close()

	c.opMu.Lock()
	p := c.stopProbeLocked()
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
	c.opMu.Unlock()

	p.wait()
	return err
}

// ReadCoils reads qty coils starting at addr (FC 1).
func (c *Client) ReadCoils(addr, qty uint16) ([]bool, error) {
	bits, err := read(c, Coil, addr, qty, func(conn Conn) ([]bool, error) {
		return conn.ReadCoils(addr, qty)
	})
	if err != nil {
		return nil, err
	}
	c.publishData(Coil, addr, BitsPayload(bits))
	return bits, nil
}

// ReadDiscreteInputs reads qty discrete inputs starting at addr (FC 2).
func (c *Client) ReadDiscreteInputs(addr, qty uint16) ([]bool, error) {
	bits, err := read(c, DiscreteInput, addr, qty, func(conn Conn) ([]bool, error) {
		return conn.ReadDiscreteInputs(addr, qty)
	})
	if err != nil {
		return nil, err
	}
	c.publishData(DiscreteInput, addr, BitsPayload(bits))
	return bits, nil
}

// ReadHoldingRegisters reads qty holding registers starting at addr (FC 3).
func (c *Client) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	regs, err := read(c, HoldingRegister, addr, qty, func(conn Conn) ([]uint16, error) {
		return conn.ReadHoldingRegisters(addr, qty)
	})
	if err != nil {
		return nil, err
	}
	c.publishData(HoldingRegister, addr, RegistersPayload(regs))
	return regs, nil
}

// ReadInputRegisters reads qty input registers starting at addr (FC 4).
func (c *Client) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	regs, err := read(c, InputRegister, addr, qty, func(conn Conn) ([]uint16, error) {
		return conn.ReadInputRegisters(addr, qty)
	})
	if err != nil {
		return nil, err
	}
	c.publishData(InputRegister, addr, RegistersPayload(regs))
	return regs, nil
}

// WriteCoils writes one coil (FC 5) or many (FC 15).
func (c *Client) WriteCoils(addr uint16, values []bool) error {
	if err := validateWindow("coil write", addr, len(values), MaxWriteCoils); err != nil {
		return err
	}
	return c.write("write coils", func(conn Conn) error {
		return conn.WriteCoils(addr, values)
	})
}

// WriteHoldingRegisters writes one register (FC 6) or many (FC 16).
func (c *Client) WriteHoldingRegisters(addr uint16, values []uint16) error {
	if err := validateWindow("holding register write", addr, len(values), MaxWriteRegisters); err != nil {
		return err
	}
	return c.write("write holding registers", func(conn Conn) error {
		return conn.WriteHoldingRegisters(addr, values)
	})
}

// ---- internal ----

func read[V bool | uint16](c *Client, class RegisterClass, addr, qty uint16, fn func(Conn) ([]V, error)) ([]V, error) {
	if err := validateRead(class, addr, qty); err != nil {
		return nil, err
	}
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.connected.Load() || c.conn == nil {
		return nil, ErrNotConnected
	}

	vals, err := fn(c.conn)
	if err != nil {
		return nil, c.failLocked("read "+class.String(), err)
	}
	if len(vals) != int(qty) {
		// A short or long answer means the stream is out of step.
		return nil, c.failLocked("read "+class.String(),
			fmt.Errorf("response carried %d values, want %d", len(vals), qty))
	}

	c.logger.Trace().
		Stringer("class", class).
		Uint16("address", addr).
		Uint16("quantity", qty).
		Msg("read")

	return vals, nil
}

func (c *Client) write(op string, fn func(Conn) error) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.connected.Load() || c.conn == nil {
		return ErrNotConnected
	}

	if err := fn(c.conn); err != nil {
		return c.failLocked(op, err)
	}

	c.logger.Debug().Str("op", op).Msg("write")
	return nil
}

// failLocked classifies an operation error. Anything but a device
// exception is a transport failure and drops the link.
func (c *Client) failLocked(op string, err error) error {
	if errors.Is(err, ErrDeviceException) {
		c.logger.Warn().Err(err).Str("op", op).Msg("device exception")
		return fmt.Errorf("plc: %s: %w", op, err)
	}

	c.logger.Warn().Err(err).Str("op", op).Msg("transport failure, link lost")
	c.markLostLocked(err)
	return fmt.Errorf("%w: %s: %v", ErrConnectionLost, op, err)
}

// markLostLocked performs the Connected->Disconnected transition after a
// failure. It does not wait for the probe: the caller may be the probe.
func (c *Client) markLostLocked(cause error) {
	if !c.connected.Load() {
		return
	}
	c.connected.Store(false)
	c.stopProbeLocked()
	c.closeConnLocked()

	ep := c.Endpoint()
	c.logger.Info().Str("endpoint", ep.String()).Msg("connection lost")
	c.publish(ConnectionEvent{Endpoint: ep, Err: fmt.Errorf("%w: %v", ErrConnectionLost, cause)})
}

func (c *Client) closeConnLocked() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("closing connection")
	}
	c.conn = nil
}

func (c *Client) publish(ev ConnectionEvent) {
	if c.closed.Load() {
		return
	}
	ev.Timestamp = time.Now()
	c.connQueue.Push(ev)
}

func (c *Client) publishData(class RegisterClass, addr uint16, p Payload) {
	c.dataFeed.Send(DataEvent{
		Class:     class,
		Address:   addr,
		Payload:   p,
		Timestamp: time.Now(),
	})
}

// FlushEvents blocks until connection events queued before the call have
// been delivered. Must not be called from a connection handler.
func (c *Client) FlushEvents() {
	c.connQueue.Flush()
}
