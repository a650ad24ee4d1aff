package cmd

import (
	"log/slog"

	"github.com/kavelund/accessgate/internal/access"
	"github.com/kavelund/accessgate/internal/config"
	"github.com/kavelund/accessgate/internal/database"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import blacklist and whitelist rules from a seed file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			conf, errConfig := config.Read(cfgFile)
			if errConfig != nil {
				return errConfig
			}

			dbConn := database.New(conf.DB.DSN, conf.DB.AutoMigrate, conf.DB.LogQueries)
			if errConnect := dbConn.Connect(ctx); errConnect != nil {
				return errConnect
			}

			defer func() {
				_ = dbConn.Close()
			}()

			rules := access.NewRules(access.NewRuleRepository(dbConn))

			imported, errImport := rules.ImportSeed(ctx, seedFile)
			if errImport != nil {
				return errImport
			}

			slog.Info("Seed import complete", slog.Int("imported", imported), slog.String("file", seedFile))

			return nil
		},
	}

	cmd.Flags().StringVarP(&seedFile, "file", "f", "seed.json", "Seed file to import")

	return cmd
}
