package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stampede.dev/stampede/internal/attack"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate task sets without running an attack",
	Long: `Freeze and fingerprint the task sets named by --tasks without launching
the Logger Sink, Throttle, or any User — for pre-checking a build before a
real run. Exits 1 on an invalid or empty task-set selection.`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidate()
	},
}

func init() {
	registerTasksFlag(validateCmd.Flags())
	rootCmd.AddCommand(validateCmd)
}

func runValidate() {
	col, err := buildCollection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}
	fingerprint, err := attack.ValidateOnly(col)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}
	total := 0
	for _, ts := range col.Sets {
		total += len(ts.Tasks())
	}
	fmt.Printf("VALID: %d task set(s), %d task(s), fingerprint %s\n", len(col.Sets), total, fingerprint)
}
