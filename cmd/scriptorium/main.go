// Package main provides the entry point for the scriptorium CLI.
package main

import (
	"os"

	"github.com/scriptorium/scriptorium/cmd/scriptorium/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
