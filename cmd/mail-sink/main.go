// Package main is the entry point for the mail sink.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newCLI(os.Stdout).Run(os.Args); err != nil {
		slog.Error("mail-sink failed", "error", err)
		os.Exit(1)
	}
}
