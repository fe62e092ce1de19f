// Package main is the entry point for the stampede load-generation engine.
package main

import (
	"fmt"
	"os"

	"stampede.dev/stampede/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
