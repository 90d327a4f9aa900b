package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/refledger/internal/apperr"
	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/payment"
	"github.com/roach88/refledger/internal/referral"
)

func parseUserID(s string) (model.UserID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("parse user id", "%q is not a positive user id", s)
	}
	return model.UserID(id), nil
}

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	Username  string
	FirstName string
	LastName  string
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register <user-id>",
		Short: "Get or create a user",
		Long: `Get or create a user by external id, assigning a referral code on creation.

Registering an existing user returns it unchanged.

Example:
  refledger register 1001 --username alice --first-name Alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				id, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				u, created, err := a.registry.GetOrCreate(ctx, model.Identity{
					ID:        id,
					Username:  opts.Username,
					FirstName: opts.FirstName,
					LastName:  opts.LastName,
				})
				if err != nil {
					return err
				}
				v := userView{User: u, Created: created}
				if a.cfg.BotHandle != "" {
					v.Link = referral.BuildReferralLink(a.cfg.BotHandle, u.ReferralCode)
				}
				return a.out.Render(v, func(w io.Writer) error { return renderUser(w, v) })
			})
		},
	}

	cmd.Flags().StringVar(&opts.Username, "username", "", "username, with or without @")
	cmd.Flags().StringVar(&opts.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&opts.LastName, "last-name", "", "last name")

	return cmd
}

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "link <user-id>",
		Short: "Print a user's referral link",
		Long: `Print the deep link a registered user shares to invite others.

Requires bot_handle in config or REFLEDGER_BOT_HANDLE.

Example:
  refledger link 1001`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if a.cfg.BotHandle == "" {
					return apperr.Invalid("build referral link", "bot_handle is not configured")
				}
				id, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				u, err := a.registry.Get(ctx, id)
				if err != nil {
					return err
				}
				link := referral.BuildReferralLink(a.cfg.BotHandle, u.ReferralCode)
				data := map[string]any{"user_id": u.ID, "link": link}
				return a.out.Render(data, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, link)
					return err
				})
			})
		},
	}
}

// NewReferCommand creates the refer command.
func NewReferCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refer <ref> <user-id>",
		Short: "Attribute a user to a referrer",
		Long: `Attribute a user to the referrer named by a deep-link parameter.

<ref> is a referral code, "ref_<id>", or a bare user id. Referrals that
cannot be attributed yet are parked as pending.

Example:
  refledger refer ABC12345 1002
  refledger refer ref_1001 1002`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				user, err := parseUserID(args[1])
				if err != nil {
					return err
				}
				att, err := a.resolver.AttributeReferral(ctx, args[0], user)
				if err != nil {
					return err
				}
				return a.out.Render(att, func(w io.Writer) error { return renderAttribution(w, att) })
			})
		},
	}
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <user-id>",
		Short: "Resolve a user's pending referral",
		Long: `Turn a user's pending referral into a referral edge once both users exist.

Example:
  refledger resolve 1002`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				user, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				res, err := a.resolver.ResolvePending(ctx, user)
				if err != nil {
					return err
				}
				return a.out.Render(res, func(w io.Writer) error { return renderResolution(w, res) })
			})
		},
	}
}

// PayOptions holds flags for the pay command.
type PayOptions struct {
	*RootOptions
	Event payment.Event
	Admin int64
}

// NewPayCommand creates the pay command.
func NewPayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Record a confirmed payment",
		Long: `Record an admin-confirmed payment and credit the payer's referrer.

The link id is the dedup key: confirming the same link twice credits once.

Exit codes:
  0 - Payment recorded, or duplicate confirmation
  1 - Unknown subject or invalid payment
  2 - Command error

Example:
  refledger pay --subject @bob --amount 100 --type premium --method TON --admin 1 --link pay-42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				ev := opts.Event
				ev.AdminID = model.UserID(opts.Admin)
				res, err := a.payments.RecordPayment(ctx, ev)
				if err != nil {
					return err
				}
				return a.out.Render(res, func(w io.Writer) error { return renderPayment(w, res) })
			})
		},
	}

	cmd.Flags().StringVar(&opts.Event.Subject, "subject", "", "paying user id or @username (required)")
	cmd.Flags().StringVar(&opts.Event.Amount, "amount", "", "payment amount, at most 2 decimals (required)")
	cmd.Flags().StringVar(&opts.Event.SubscriptionType, "type", "", "subscription type (required)")
	cmd.Flags().StringVar(&opts.Event.PaymentMethod, "method", "", "payment method (required)")
	cmd.Flags().Int64Var(&opts.Admin, "admin", 0, "confirming admin id (required)")
	cmd.Flags().StringVar(&opts.Event.LinkID, "link", "", "payment link id (required)")
	for _, name := range []string{"subject", "amount", "type", "method", "admin", "link"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// GCOptions holds flags for the gc command.
type GCOptions struct {
	*RootOptions
	MaxAge time.Duration
}

// NewGCCommand creates the gc command.
func NewGCCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GCOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete expired pending referrals",
		Long: `Delete pending referrals older than --max-age, or the configured
pending_retention when unset.

Example:
  refledger gc
  refledger gc --max-age 24h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				n, err := a.resolver.GarbageCollect(ctx, opts.MaxAge)
				if err != nil {
					return err
				}
				data := map[string]int{"deleted": n}
				return a.out.Render(data, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "deleted: %d\n", n)
					return err
				})
			})
		},
	}

	cmd.Flags().DurationVar(&opts.MaxAge, "max-age", 0, "age cutoff (default: configured retention)")

	return cmd
}
