package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"stampede.dev/stampede/internal/rpc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running attack's state and metrics",
	Long:  `Connect to a running stampede attack over its control-plane socket and print its lifecycle state and current metrics snapshot.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStatus()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus() {
	client, err := rpc.Dial(socketPath)
	if err != nil {
		exitWithError("attack process is not running or socket is inaccessible", err)
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		exitWithError("failed to query status", err)
	}

	fmt.Printf("state: %s\n", status.State)
	fmt.Printf("endpoints: %d, dropped metrics: %d\n", len(status.Snapshot.Endpoints), status.Snapshot.DroppedMetrics)
	for name, ep := range status.Snapshot.Endpoints {
		fmt.Printf("  %-20s total=%d success=%d fail=%d\n", name, ep.Counter, ep.SuccessCount, ep.FailCount)
	}
}
