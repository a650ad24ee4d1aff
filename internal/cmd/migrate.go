package cmd

import (
	"log/slog"

	"github.com/kavelund/accessgate/internal/config"
	"github.com/kavelund/accessgate/internal/database"
	"github.com/kavelund/accessgate/pkg/log"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			conf, errConfig := config.Read(cfgFile)
			if errConfig != nil {
				return errConfig
			}

			action := database.MigrationAction(database.MigrateUp)
			if down {
				action = database.MigrateDn
			}

			if errMigrate := database.Migrate(conf.DB.DSN, action); errMigrate != nil {
				slog.Error("Could not migrate schema", log.ErrAttr(errMigrate))

				return errMigrate
			}

			slog.Info("Migration completed successfully")

			return nil
		},
	}

	cmd.Flags().BoolVarP(&down, "down", "d", false, "Fully reverts all migrations")

	return cmd
}
