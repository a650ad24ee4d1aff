// Package cmd implements the CLI of the application.
//
// migrate - Initiate a database migration manually
// rule    - Manage blacklist and whitelist rules from the command line
// seed    - Import rules from a seed file, used for development mostly
// serve   - The main application service entry point
// sources sync - Fetch remote blacklist sources and mirror them locally
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string //nolint:gochecknoglobals

var rootCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "accessgate",
	Short: "Network access control engine",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	setupCLI()

	if errExecute := rootCmd.Execute(); errExecute != nil {
		os.Exit(1)
	}
}

func setupCLI() {
	if BuildVersion == "" {
		BuildVersion = "master"
	}

	rootCmd.Version = BuildVersion
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(sourcesCmd())
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/accessgate.yml)")
}
