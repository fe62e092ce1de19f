package cmd

import (
	"github.com/spf13/cobra"

	"stampede.dev/stampede/internal/rpc"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Abort a running attack",
	Long:  `Connect to a running stampede attack over its control-plane socket and cancel it, triggering its Stopping transition early.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStop()
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop() {
	client, err := rpc.Dial(socketPath)
	if err != nil {
		exitWithError("attack process is not running or socket is inaccessible", err)
	}
	defer client.Close()

	if err := client.Abort(); err != nil {
		exitWithError("failed to abort attack", err)
	}
}
