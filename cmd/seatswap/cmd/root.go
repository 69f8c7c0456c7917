// Package cmd provides the CLI commands for seatswap.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/seatswap/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "seatswap",
	Short: "seatswap - StudentLink registration automation",
	Long: `seatswap keeps your BU StudentLink enrollment in line with a list of
desired sections. Each entry either registers a section or swaps it in for
one you already hold, and is retried until a seat opens.

Quick start:
  1. Create a config file: seatswap.yaml (term, credentials, spec path)
  2. List the sections you want in the spec file:
       entries:
         - add: CAS CS111 A1
           replace: CAS CS111 A2
  3. Run: seatswap check, then seatswap start

Configuration:
  Config is loaded from seatswap.yaml in the current directory,
  $HOME/.seatswap/, or /etc/seatswap/.

  Environment variables can override config values with the SEATSWAP_ prefix.
  Example: SEATSWAP_RECONCILE_INTERVAL=10s

Commands:
  start       Run the reconciliation loop
  stop        Stop the running loop
  check       Log in and show what start would do
  history     Show recent registration attempts
  reset       Forget the saved login session
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./seatswap.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
