// cmd/plcmon/run.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tamzrod/plcmon/internal/api"
	"github.com/tamzrod/plcmon/internal/metrics"
	"github.com/tamzrod/plcmon/internal/plc"
	"github.com/tamzrod/plcmon/internal/poller"
	"github.com/tamzrod/plcmon/internal/status"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the device and poll until interrupted",
	Long: `Connect to the configured device and run every enabled task.

The process runs until interrupted (Ctrl+C) or it receives SIGTERM.
A lost link is re-opened with backoff unless reconnect_interval_ms is 0.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addConfigFlag(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Link + scheduler
	// --------------------

	client := newClient(cfg.PLC, logger)
	defer client.Close()

	sched, err := poller.Build(client, cfg.Tasks, logger)
	if err != nil {
		return fmt.Errorf("scheduler build failed: %w", err)
	}
	defer sched.Close()

	offLog := sched.SubscribeResults(logResult(logger))
	defer offLog()

	// --------------------
	// Status, metrics, control API
	// --------------------

	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()

	tracker := status.NewTracker(logger)
	defer tracker.Attach(client, sched)()

	wg.Add(1)
	go func() {
		defer wg.Done()
		tracker.Run(ctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewRecorder(reg, func() uint16 { return tracker.Snapshot().Health })
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer rec.Attach(client, sched)()

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, reg, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	if cfg.API.Addr != "" {
		rest := api.NewREST(sched, tracker, client, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rest.Serve(ctx, cfg.API.Addr); err != nil {
				logger.Error().Err(err).Msg("control API failed")
			}
		}()
	}

	// --------------------
	// Reconnect supervisor
	// --------------------

	if *cfg.PLC.ReconnectIntervalMs > 0 {
		sup := plc.NewSupervisor(client, plc.SupervisorConfig{
			Interval:    ms(*cfg.PLC.ReconnectIntervalMs),
			MaxInterval: ms(cfg.PLC.ReconnectMaxIntervalMs),
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Run(ctx)
		}()
	}

	if *cfg.Poll.Autostart {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("scheduler start failed: %w", err)
		}
	}

	logger.Info().
		Str("endpoint", client.Endpoint().String()).
		Int("tasks", len(sched.Tasks())).
		Bool("polling", sched.IsActive()).
		Msg("plcmon running")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	sched.Pause()
	return nil
}

func logResult(logger zerolog.Logger) func(poller.Result) {
	log := logger.With().Str("component", "results").Logger()
	return func(r poller.Result) {
		if r.Success {
			log.Debug().
				Str("task", r.Task.ID).
				Int("values", r.Payload.Len()).
				Dur("took", r.Duration).
				Msg("task ok")
			return
		}
		ev := log.Warn().Str("task", r.Task.ID).Dur("took", r.Duration)
		if r.Err != nil {
			ev = ev.Err(r.Err)
		}
		ev.Msg("task failed")
	}
}
