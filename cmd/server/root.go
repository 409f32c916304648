package main

import (
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ptybridge",
	Short: "Bridge browser terminals to a supervised agent process",
	Long: `ptybridge serves a WebSocket endpoint that gives every connection its
own pseudo-terminal running the agent runner. A runner that exits is
restarted with exponential backoff; a runner that cannot start is replaced
by a plain shell.`,
	SilenceUsage: true,
}
