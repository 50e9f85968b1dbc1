// cmd/plcmon/read.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tamzrod/plcmon/internal/config"
	"github.com/tamzrod/plcmon/internal/plc"
	"github.com/tamzrod/plcmon/internal/poller"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Run one configured task once and print the values",
	Example: `  plcmon read -c config.yaml --task hr`,
	RunE:  runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	addConfigFlag(readCmd)
	readCmd.Flags().String("task", "", "task id (required)")
	_ = readCmd.MarkFlagRequired("task")
}

func runRead(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, os.Stderr)
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetString("task")

	res, err := readOnce(cmd.Context(), cfg, id, logger)
	if err != nil {
		return err
	}
	printPayload(cmd.OutOrStdout(), res.Task, res.Payload)
	return nil
}

// readOnce connects, runs task id once and returns its successful result.
func readOnce(ctx context.Context, cfg *config.Config, id string, logger zerolog.Logger) (poller.Result, error) {
	client := newClient(cfg.PLC, logger)
	defer client.Close()

	sched, err := poller.Build(client, cfg.Tasks, logger)
	if err != nil {
		return poller.Result{}, fmt.Errorf("scheduler build failed: %w", err)
	}
	defer sched.Close()

	ctx, cancel := context.WithTimeout(ctx, ms(cfg.PLC.TimeoutMs)+time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return poller.Result{}, err
	}

	var res poller.Result
	off := sched.SubscribeResults(func(r poller.Result) { res = r })
	_, err = sched.ExecuteNow(id)
	off()
	if err != nil {
		return poller.Result{}, err
	}

	// No result means the read was never issued.
	if res.Timestamp.IsZero() {
		return poller.Result{}, plc.ErrNotConnected
	}
	if !res.Success {
		if res.Err != nil {
			return res, fmt.Errorf("task %s: %w", id, res.Err)
		}
		return res, fmt.Errorf("task %s: empty result", id)
	}
	return res, nil
}

func printPayload(w io.Writer, t poller.Task, p plc.Payload) {
	fmt.Fprintf(w, "%s %s @%d\n", t.ID, t.Class, t.Address)
	for i := 0; i < p.Len(); i++ {
		addr := int(t.Address) + i
		switch p.Kind {
		case plc.PayloadBits:
			fmt.Fprintf(w, "  %5d  %t\n", addr, p.Bits[i])
		case plc.PayloadRegisters:
			fmt.Fprintf(w, "  %5d  %d (0x%04X)\n", addr, p.Registers[i], p.Registers[i])
		}
	}
}
