// Package main is the entry point for the klarvia CLI.
package main

import (
	"os"

	"github.com/jmylchreest/klarvia/cmd/klarvia/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
