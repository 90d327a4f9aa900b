package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/refledger/internal/stats"
)

// StatsOptions holds flags for the stats commands.
type StatsOptions struct {
	*RootOptions
	Limit  int
	Type   string
	Recent int
}

// NewStatsCommand creates the stats command group.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report commission statistics",
		Long: `Report commission statistics from one consistent snapshot of the ledger.

Examples:
  refledger stats referrer 1001
  refledger stats top --limit 5
  refledger stats top --type premium
  refledger stats totals
  refledger stats user 1001 --format json`,
	}

	report := func(cmd *cobra.Command, scope func() (stats.Scope, error)) error {
		return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
			s, err := scope()
			if err != nil {
				return err
			}
			rep, err := a.reporter.Report(ctx, s)
			if err != nil {
				return err
			}
			return a.out.Render(rep, func(w io.Writer) error { return renderReport(w, rep) })
		})
	}

	referrer := &cobra.Command{
		Use:           "referrer <user-id>",
		Short:         "Earnings of one referrer",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(cmd, func() (stats.Scope, error) {
				id, err := parseUserID(args[0])
				return stats.ScopeReferrer(id), err
			})
		},
	}

	top := &cobra.Command{
		Use:           "top",
		Short:         "Rank referrers by earnings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(cmd, func() (stats.Scope, error) {
				if opts.Type != "" {
					s := stats.ScopeSubscriptionType(opts.Type)
					s.Limit = opts.Limit
					return s, nil
				}
				return stats.ScopeTop(opts.Limit), nil
			})
		},
	}
	top.Flags().IntVar(&opts.Limit, "limit", stats.DefaultTopLimit, "number of referrers")
	top.Flags().StringVar(&opts.Type, "type", "", "restrict to one subscription type")

	totals := &cobra.Command{
		Use:           "totals",
		Short:         "System-wide totals",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(cmd, func() (stats.Scope, error) {
				return stats.ScopeGlobal(), nil
			})
		},
	}

	user := &cobra.Command{
		Use:           "user <user-id>",
		Short:         "One user's referral overview",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				id, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				ov, err := a.reporter.UserOverview(ctx, id, opts.Recent)
				if err != nil {
					return err
				}
				return a.out.Render(ov, func(w io.Writer) error { return renderOverview(w, ov) })
			})
		},
	}
	user.Flags().IntVar(&opts.Recent, "recent", stats.DefaultTopLimit, "number of recent earnings")

	cmd.AddCommand(referrer, top, totals, user)
	return cmd
}
