package main

import (
	"github.com/spf13/cobra"

	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/remote"
	syncpkg "github.com/Andival-Sei/pennora/backend/internal/sync"
)

func syncCommand(flags *globalFlags) *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued operations once and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.remoteStore()
			if err != nil {
				return err
			}
			engine := syncpkg.NewEngine(a.queue, store, nil, syncpkg.WithNoticeDuration(0))
			defer engine.Close()

			var result *models.SyncResult
			if table != "" {
				t := models.Table(table)
				if err := remote.ValidateTable(t); err != nil {
					return err
				}
				result, err = engine.SyncTable(cmd.Context(), t)
			} else {
				result, err = engine.SyncAll(cmd.Context())
			}
			if result != nil {
				if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "only replay operations for this table")
	return cmd
}
