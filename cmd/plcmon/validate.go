// cmd/plcmon/validate.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tamzrod/plcmon/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Parse and validate a configuration file without touching the device.

Exit codes:
  0 - config is valid
  1 - config is invalid`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	addConfigFlag(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  PLC:   %s:%d (unit %d)\n", cfg.PLC.Address, cfg.PLC.Port, *cfg.PLC.UnitID)
	fmt.Fprintf(out, "  Tasks: %d\n", len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		state := "enabled"
		if !*t.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "    %-20s %-18s %5d +%-4d every %dms (%s)\n",
			t.ID, t.Register, t.Address, t.Length, t.IntervalMs, state)
	}
	return nil
}
