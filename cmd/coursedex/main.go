// Package main provides the entry point for the coursedex CLI.
package main

import (
	"os"

	"github.com/coursedex/coursedex/cmd/coursedex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
