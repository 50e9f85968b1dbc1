// internal/plc/probe.go
package plc

import (
	"context"
	"fmt"
	"time"
)

// probe is one armed liveness loop. A new probe is created per successful
// Connect; a cancelled probe never touches the link again.
type probe struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *probe) wait() {
	if p == nil {
		return
	}
	<-p.done
}

func (c *Client) startProbeLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p := &probe{cancel: cancel, done: make(chan struct{})}
	c.probe = p
	go c.runProbe(ctx, p)
}

// stopProbeLocked cancels the current probe and returns it so the caller
// can wait for it after releasing opMu.
func (c *Client) stopProbeLocked() *probe {
	p := c.probe
	if p != nil {
		p.cancel()
		c.probe = nil
	}
	return p
}

func (c *Client) runProbe(ctx context.Context, p *probe) {
	defer close(p.done)

	ticker := time.NewTicker(c.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.probeOnce(ctx) {
				return
			}
		}
	}
}

// probeOnce issues the minimal read. It reports whether the probe should
// keep running.
func (c *Client) probeOnce(ctx context.Context) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if ctx.Err() != nil || !c.connected.Load() || c.conn == nil {
		return false
	}

	if _, err := c.conn.ReadHoldingRegisters(c.cfg.ProbeAddress, 1); err != nil {
		c.logger.Warn().Err(err).Msg("liveness probe failed")
		c.markLostLocked(fmt.Errorf("liveness probe: %w", err))
		return false
	}
	return true
}
