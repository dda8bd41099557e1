// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"github.com/adiadia/promptflow/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	logger := logging.New(logging.Options{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "promptflow-cli",
		Writer:  os.Stderr,
		JSON:    true,
	})

	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "promptflow",
		Short:         "Workflow authoring and repository tooling",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newValidateCmd(logger),
		newRenderCmd(),
		newCheckCmd(logger),
	)
	return root
}
