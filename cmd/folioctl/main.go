package main

import (
	"fmt"
	"os"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger/console"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "folioctl",
		Short:         "Ask questions about a portfolio export and manage its index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("collection", util.GetEnvString("RAG_COLLECTION", "portfolio"), "Collection name")
	root.PersistentFlags().Bool("debug", util.GetEnvBool("DEBUG", false), "Enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		if debug {
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: true}))
		}
	}

	root.AddCommand(newAskCmd(), newGraphCmd(), newIngestCmd())
	return root
}

func main() {
	util.LoadEnv()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
