// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stampede.dev/stampede/internal/log"
)

var (
	configFile string
	socketPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stampede",
	Short: "Stampede - a distributed HTTP load-generation engine",
	Long: `Stampede drives a collection of weighted HTTP task sets against a target
host with many concurrent simulated users, applying coordinated-omission-aware
timing and per-process rate limits, and records per-request, per-task, and
error metrics.

A test can run as a single process, or be sharded across a manager and any
number of workers (--manager / --worker).`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(&log.LoggerConfig{
			Pattern: "%time [%level] %msg",
			Time:    "2006-01-02T15:04:05.000Z07:00",
			Level:   logLevel,
		})
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"YAML config file layered beneath CLI flags")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"control-plane Unix socket path (default /tmp/stampede.sock)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"ambient logger level: trace|debug|info|warn|error")
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

// exitWithRuntimeError exits with code 2, per spec's exit-code convention
// (0 success, 1 invalid config, 2 runtime error).
func exitWithRuntimeError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(2)
}
