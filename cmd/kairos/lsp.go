package main

import (
	"github.com/spf13/cobra"

	"github.com/chazu/kairos/server"
)

func newLSPCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lsp",
		Short: "Run the kernel language server on stdio",
		Long: `Run a Language Server Protocol server on stdin/stdout. It publishes
positioned syntax and name-resolution diagnostics for kernel files and
offers completion, hover, go-to-definition and references.

Logs go to stderr (or --log); stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.NewLSP(version).Run()
		},
	}
}
