package cmd

import (
	"github.com/spf13/cobra"

	"stampede.dev/stampede/internal/rpc"
)

var reloadCmd = &cobra.Command{
	Use:    "reload",
	Short:  "Round-trip a no-op reload against a running attack",
	Hidden: true,
	Long: `Task sets are compiled in, not scripted at runtime, so a running attack has
no configuration to hot-reload. This command exists only to keep the
control-plane surface uniform with status/stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReload()
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}

func runReload() {
	client, err := rpc.Dial(socketPath)
	if err != nil {
		exitWithError("attack process is not running or socket is inaccessible", err)
	}
	defer client.Close()

	if err := client.Reload(); err != nil {
		exitWithError("reload failed", err)
	}
}
