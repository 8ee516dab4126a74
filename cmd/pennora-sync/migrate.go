package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Andival-Sei/pennora/backend/internal/db"
	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
)

func migrateCommand(flags *globalFlags) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply queue database migrations, or roll back the latest with --down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// bootstrap already migrates up.
			a, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			mg, err := db.NewMigrator(a.db.DB.DB)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrMigration, "failed to prepare migrations", err)
			}
			if down {
				if err := mg.Down(); err != nil {
					return apperrors.Wrap(apperrors.ErrMigration, "rollback failed", err)
				}
			}

			version, dirty, err := mg.CurrentVersion()
			if err != nil {
				return apperrors.Wrap(apperrors.ErrMigration, "failed to read schema version", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t) at %s\n", version, dirty, a.db.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}
