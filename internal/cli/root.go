// Package cli wires the warden commands: the tool server, the agent
// runner, and the catalog seeding utilities.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func NewRoot(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Warden is a permission-aware tool server and agent runner",
	}

	root.AddCommand(newServeCommand(logger))
	root.AddCommand(newRunCommand(logger))
	root.AddCommand(newSeedCommand(logger))
	root.AddCommand(newTokenCommand(logger))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
