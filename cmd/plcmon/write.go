// cmd/plcmon/write.go
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/plcmon/internal/plc"
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write coils or holding registers once",
	Example: `  plcmon write -c config.yaml --register coil --address 3 --values 1,0,1
  plcmon write -c config.yaml --register holding_register --address 100 --values 7,0x10`,
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
	addConfigFlag(writeCmd)
	writeCmd.Flags().String("register", "", "coil or holding_register (required)")
	writeCmd.Flags().Uint16("address", 0, "first address")
	writeCmd.Flags().String("values", "", "comma separated values (required)")
	_ = writeCmd.MarkFlagRequired("register")
	_ = writeCmd.MarkFlagRequired("values")
}

func runWrite(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, os.Stderr)
	if err != nil {
		return err
	}

	regName, _ := cmd.Flags().GetString("register")
	addr, _ := cmd.Flags().GetUint16("address")
	raw, _ := cmd.Flags().GetString("values")

	class, err := plc.ParseRegisterClass(regName)
	if err != nil {
		return err
	}

	var write func(*plc.Client) error
	var n int
	switch class {
	case plc.Coil:
		bits, err := parseBits(raw)
		if err != nil {
			return err
		}
		n = len(bits)
		write = func(c *plc.Client) error { return c.WriteCoils(addr, bits) }
	case plc.HoldingRegister:
		regs, err := parseRegisters(raw)
		if err != nil {
			return err
		}
		n = len(regs)
		write = func(c *plc.Client) error { return c.WriteHoldingRegisters(addr, regs) }
	default:
		return fmt.Errorf("%s is read-only", class)
	}

	client := newClient(cfg.PLC, logger)
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), ms(cfg.PLC.TimeoutMs)+time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	if err := write(client); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d %s value(s) at %d\n", n, class, addr)
	return nil
}

func splitValues(raw string) []string {
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseBits(raw string) ([]bool, error) {
	fields := splitValues(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no values")
	}
	out := make([]bool, len(fields))
	for i, f := range fields {
		switch strings.ToLower(f) {
		case "1", "true", "on":
			out[i] = true
		case "0", "false", "off":
		default:
			return nil, fmt.Errorf("value %d: %q is not a coil state", i, f)
		}
	}
	return out, nil
}

func parseRegisters(raw string) ([]uint16, error) {
	fields := splitValues(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no values")
	}
	out := make([]uint16, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = uint16(v)
	}
	return out, nil
}
