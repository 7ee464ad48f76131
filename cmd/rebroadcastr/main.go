// Package main is the entry point for the rebroadcastr application.
package main

import (
	"os"

	"github.com/jmylchreest/rebroadcastr/cmd/rebroadcastr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
