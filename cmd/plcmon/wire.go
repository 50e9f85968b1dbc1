// cmd/plcmon/wire.go
package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tamzrod/plcmon/internal/config"
	"github.com/tamzrod/plcmon/internal/logging"
	"github.com/tamzrod/plcmon/internal/plc"
	"github.com/tamzrod/plcmon/internal/plc/modbus"
)

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")
}

// loadConfig reads the -c file and builds the root logger from it.
func loadConfig(cmd *cobra.Command, w io.Writer) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, w)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

// newClient maps the link section onto a client with a goburrow-backed dialer.
func newClient(p config.PLCConfig, logger zerolog.Logger) *plc.Client {
	dialer := modbus.NewDialer(modbus.Config{
		UnitID:  *p.UnitID,
		Timeout: ms(p.TimeoutMs),
	})

	return plc.New(plc.Config{
		Endpoint:      plc.Endpoint{Address: p.Address, Port: p.Port},
		ProbeInterval: ms(p.ProbeIntervalMs),
		ProbeAddress:  *p.ProbeAddress,
	}, dialer, logger)
}
