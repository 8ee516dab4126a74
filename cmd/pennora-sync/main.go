// Command pennora-sync runs the Pennora offline sync backend: the local
// operation queue, the sync engine, connectivity monitoring and the HTTP
// API the UI talks to.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", apperrors.Message(err))
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	dataDir    string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "pennora-sync",
		Short:         "Pennora offline sync backend",
		Long:          "Queues writes made while offline and replays them against the remote store when connectivity returns.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default: pennora.yaml in the working or data directory)")
	rootCmd.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "directory holding the queue database")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		serveCommand(flags),
		syncCommand(flags),
		queueCommand(flags),
		migrateCommand(flags),
	)
	return rootCmd
}
