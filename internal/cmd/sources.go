package cmd

import (
	"github.com/kavelund/accessgate/internal/access"
	"github.com/kavelund/accessgate/internal/config"
	"github.com/kavelund/accessgate/internal/database"
	"github.com/kavelund/accessgate/internal/httphelper"
	"github.com/spf13/cobra"
)

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage remote blacklist sources",
	}

	cmd.AddCommand(sourcesSyncCmd())

	return cmd
}

func sourcesSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch all enabled sources and mirror their entries",
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

			sources := access.NewSources(access.NewRuleRepository(dbConn), httphelper.NewClient(conf.HTTP.ClientTimeout))
			sources.Sync(ctx)

			return nil
		},
	}
}
