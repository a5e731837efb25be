package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

const (
	cliPackage       = "@wong2/mcp-cli"
	inspectorPackage = "@modelcontextprotocol/inspector"
)

// devArgs builds the npx argument list that launches a client against
// `go run path`.
func devArgs(path string, inspector bool) []string {
	pkg := cliPackage
	if inspector {
		pkg = inspectorPackage
	}
	return []string{pkg, "go", "run", path}
}

func newDevCmd() *cobra.Command {
	var inspector bool
	cmd := &cobra.Command{
		Use:   "dev <path>",
		Short: "Run a server package under an interactive MCP client",
		Long: "dev starts `go run <path>` as a stdio MCP server and attaches " +
			cliPackage + " to it, or the MCP Inspector with --inspector.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("server package %q: %w", args[0], err)
			}
			c := exec.CommandContext(cmd.Context(), "npx", devArgs(args[0], inspector)...)
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			if err := c.Run(); err != nil {
				return fmt.Errorf("dev client: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&inspector, "inspector", false, "use the MCP Inspector instead of the terminal client")
	return cmd
}
