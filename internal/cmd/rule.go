package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/kavelund/accessgate/internal/access"
	"github.com/kavelund/accessgate/internal/config"
	"github.com/kavelund/accessgate/internal/database"
	"github.com/spf13/cobra"
)

// withRules opens a database connection and hands a rule manager to fn,
// closing the pool when fn returns.
func withRules(ctx context.Context, fn func(rules *access.Rules) error) error {
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

	return fn(access.NewRules(access.NewRuleRepository(dbConn)))
}

func parseExpiry(duration string) *time.Time {
	if duration == "" {
		return nil
	}

	lifetime, errParse := time.ParseDuration(duration)
	if errParse != nil {
		slog.Warn("Ignoring invalid expiry duration", slog.String("duration", duration))

		return nil
	}

	expiry := time.Now().Add(lifetime)

	return &expiry
}

func ruleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage access rules",
	}

	cmd.AddCommand(ruleAddBlacklistCmd())
	cmd.AddCommand(ruleAddWhitelistCmd())
	cmd.AddCommand(ruleDeactivateCmd())
	cmd.AddCommand(ruleCleanupCmd())

	return cmd
}

func ruleAddBlacklistCmd() *cobra.Command {
	var opts access.BlacklistOpts

	var expiry string

	cmd := &cobra.Command{
		Use:   "add-blacklist",
		Short: "Add a blacklist entry for an exact address or CIDR range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRules(cmd.Context(), func(rules *access.Rules) error {
				opts.ExpiresAt = parseExpiry(expiry)

				entry, errAdd := rules.AddBlacklist(cmd.Context(), opts)
				if errAdd != nil {
					return errAdd
				}

				slog.Info("Blacklist entry created", slog.Int64("blacklist_id", entry.BlacklistID))

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", "", "Exact IPv4 address to block")
	cmd.Flags().StringVar(&opts.CIDR, "cidr", "", "CIDR range to block")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "Reason shown in audit records")
	cmd.Flags().StringVar(&opts.AddedBy, "added-by", "cli", "Operator identity")
	cmd.Flags().StringVar(&expiry, "expires-in", "", "Optional lifetime, e.g. 72h")

	return cmd
}

func ruleAddWhitelistCmd() *cobra.Command {
	var opts access.WhitelistOpts

	var expiry string

	cmd := &cobra.Command{
		Use:   "add-whitelist",
		Short: "Add a whitelist entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRules(cmd.Context(), func(rules *access.Rules) error {
				opts.ExpiresAt = parseExpiry(expiry)

				entry, errAdd := rules.AddWhitelist(cmd.Context(), opts)
				if errAdd != nil {
					return errAdd
				}

				slog.Info("Whitelist entry created", slog.Int64("whitelist_id", entry.WhitelistID))

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", "", "Exact IPv4 address to allow")
	cmd.Flags().StringVar(&opts.CIDR, "cidr", "", "CIDR range to allow")
	cmd.Flags().StringVar(&opts.AddressPattern, "address-pattern", "", "Glob pattern matched against the address")
	cmd.Flags().StringVar(&opts.EndpointPattern, "endpoint-pattern", "", "Glob pattern matched against the endpoint path")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "Client identifier the rule applies to")
	cmd.Flags().StringVar(&opts.Description, "description", "", "Operator description")
	cmd.Flags().IntVar(&opts.Priority, "priority", 100, "Rule priority, lower wins")
	cmd.Flags().StringVar(&opts.AddedBy, "added-by", "cli", "Operator identity")
	cmd.Flags().StringVar(&expiry, "expires-in", "", "Optional lifetime, e.g. 72h")

	return cmd
}

func ruleDeactivateCmd() *cobra.Command {
	var (
		kind   string
		ruleID int64
	)

	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate a rule by id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRules(cmd.Context(), func(rules *access.Rules) error {
				affected, errDrop := rules.Deactivate(cmd.Context(), access.RuleKind(kind), ruleID)
				if errDrop != nil {
					return errDrop
				}

				slog.Info("Rule deactivated", slog.Int64("affected", affected))

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(access.RuleBlacklist), "Rule kind: blacklist or whitelist")
	cmd.Flags().Int64Var(&ruleID, "id", 0, "Rule id")

	return cmd
}

func ruleCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Deactivate all expired rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRules(cmd.Context(), func(rules *access.Rules) error {
				affected, errCleanup := rules.CleanupExpired(cmd.Context(), time.Now())
				if errCleanup != nil {
					return errCleanup
				}

				slog.Info("Expired rules deactivated", slog.Int64("affected", affected))

				return nil
			})
		},
	}
}
