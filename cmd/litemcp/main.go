// Command litemcp hosts LiteMCP servers and runs them under interactive MCP
// clients during development.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("litemcp.fatal", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "litemcp",
		Short:         "Run and develop Model Context Protocol servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newDevCmd())
	return root
}
