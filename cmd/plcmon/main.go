// cmd/plcmon/main.go
//
// plcmon polls one Modbus TCP device on a fixed set of periodic tasks.
//
// Usage:
//
//	plcmon run -c config.yaml
//	plcmon validate -c config.yaml
//	plcmon read -c config.yaml --task hr
//	plcmon write -c config.yaml --register holding_register --address 10 --values 1,2,3
//	plcmon version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "plcmon",
	Short: "Resilient Modbus TCP polling daemon",
	Long: `plcmon keeps one Modbus TCP link open, detects silent link loss
with a periodic probe, and runs periodic read tasks over coils, discrete
inputs, holding registers and input registers.

Example config:
  plc:
    address: 192.168.0.10
  tasks:
    - id: hr
      register: holding_register
      address: 100
      length: 10
      interval_ms: 500`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "plcmon %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
