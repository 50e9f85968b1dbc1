// internal/plc/supervisor.go
package plc

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SupervisorConfig bounds the reconnect backoff.
type SupervisorConfig struct {
	Interval    time.Duration // first retry delay
	MaxInterval time.Duration // cap for the doubling delay
}

// Supervisor re-opens a link that was lost or failed to open.
// An explicit Disconnect is honoured and not retried.
type Supervisor struct {
	client *Client
	cfg    SupervisorConfig
	logger zerolog.Logger

	kick chan struct{}
	held atomic.Bool // explicit disconnect seen
}

// NewSupervisor builds a supervisor for c.
func NewSupervisor(c *Client, cfg SupervisorConfig, logger zerolog.Logger) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	return &Supervisor{
		client: c,
		cfg:    cfg,
		logger: logger.With().Str("component", "supervisor").Logger(),
		kick:   make(chan struct{}, 1),
	}
}

// Run blocks until ctx is cancelled or the client is closed.
func (s *Supervisor) Run(ctx context.Context) {
	unsubscribe := s.client.SubscribeConnection(s.onConnection)
	defer unsubscribe()

	// Cover a link that was already down before Run subscribed.
	if !s.client.IsConnected() {
		s.signal()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}

		if err := s.reconnect(ctx); errors.Is(err, ErrClosed) {
			return
		}
	}
}

func (s *Supervisor) onConnection(ev ConnectionEvent) {
	switch {
	case ev.Connected:
		s.held.Store(false)
	case ev.Err == nil:
		s.held.Store(true)
	default:
		s.signal()
	}
}

func (s *Supervisor) signal() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// reconnect retries Connect with doubling delay until the link is up, an
// explicit disconnect is seen, or ctx ends.
func (s *Supervisor) reconnect(ctx context.Context) error {
	delay := s.cfg.Interval

	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if s.held.Load() || s.client.IsConnected() {
			return nil
		}

		err := s.client.Connect(ctx)
		if err == nil {
			s.logger.Info().Int("attempt", attempt).Msg("link recovered")
			return nil
		}
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return err
		}

		s.logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("reconnect failed")

		// Our own failed attempt queued a kick; it is covered by this loop.
		select {
		case <-s.kick:
		default:
		}

		delay *= 2
		if delay > s.cfg.MaxInterval {
			delay = s.cfg.MaxInterval
		}
	}
}
