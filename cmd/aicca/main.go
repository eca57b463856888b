// Package main is the entry point for the aicca gateway server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version         = "0.1.0"
	protocolVersion = "1.0"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aicca",
		Short: "Real-time content credibility analysis gateway",
		Long: `AICCA serves a websocket session protocol for interactive chat and
content credibility analysis, backed by a streaming reasoning engine
with tool execution, chunked file uploads, and artifact storage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
