package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cashback-referral-system/app"
	"cashback-referral-system/models"
	"cashback-referral-system/services"

	"github.com/spf13/cobra"
)

func settleCmd() *cobra.Command {
	var orderID string
	cmd := &cobra.Command{
		Use:   "settle [reward-id]",
		Short: "Refund a PENDING reward against the referrer's origin order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Settlement.Settle(ctx, args[0], orderID)
				var ceiling *services.CeilingExceededError
				if errors.As(err, &ceiling) {
					return fmt.Errorf("%w (remaining %s)", err, ceiling.Remaining.StringFixed(2))
				}
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "Order id or gid to refund against instead of the code's origin order")
	return cmd
}

func rewardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "Inspect and override rewards",
	}

	var note string
	fail := &cobra.Command{
		Use:   "fail [reward-id]",
		Short: "Mark a PENDING reward as FAILED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				reward, err := a.Ledger.MarkFailed(ctx, args[0], note)
				if err != nil {
					return err
				}
				return printJSON(reward)
			})
		},
	}
	fail.Flags().StringVar(&note, "note", "marked failed by operator", "Reason stored on the reward")

	var status string
	list := &cobra.Command{
		Use:   "list [referrer-id]",
		Short: "List a referrer's rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rewards, err := a.Ledger.ListByReferrer(ctx, args[0], models.RewardStatus(status))
				if err != nil {
					return err
				}
				total, err := a.Ledger.TotalPaidForReferrer(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"rewards": rewards, "total_paid": total.StringFixed(2)})
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "PENDING, PAID or FAILED")

	cmd.AddCommand(fail, list)
	return cmd
}

func provisionCmd() *cobra.Command {
	var req services.ProvisionRequest
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Enrol a referrer by email and send them a code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Provisioning.Provision(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "Customer email")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "Last name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change referral settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				s, err := a.Settings.Get(ctx)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}

	var (
		discount, cashback, refund float64
		validity, maxUses          int
		oncePerCustomer            bool
		segments                   []string
		policy                     string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change settings; only flags given are updated",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in services.SettingsUpdate
			flags := cmd.Flags()
			if flags.Changed("discount-percent") {
				in.DiscountPercent = &discount
			}
			if flags.Changed("cashback") {
				in.CashbackAmount = &cashback
			}
			if flags.Changed("max-refund-percent") {
				in.MaxRefundPercent = &refund
			}
			if flags.Changed("validity-days") {
				in.CodeValidityDays = &validity
			}
			if flags.Changed("max-uses") {
				in.MaxUsagesPerCode = &maxUses
			}
			if flags.Changed("once-per-customer") {
				in.AppliesOncePerCustomer = &oncePerCustomer
			}
			if flags.Changed("segments") {
				in.EligibleSegmentIDs = &segments
			}
			if flags.Changed("code-policy") {
				p := models.CodePolicy(policy)
				in.CodePolicy = &p
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				s, err := a.Settings.Update(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	f := set.Flags()
	f.Float64Var(&discount, "discount-percent", 0, "Discount on referral codes, 0-100")
	f.Float64Var(&cashback, "cashback", 0, "Cashback per referral")
	f.Float64Var(&refund, "max-refund-percent", 0, "Refund ceiling as a percentage of the origin order, 0-100")
	f.IntVar(&validity, "validity-days", 0, "Code validity in days, 0 = no expiry")
	f.IntVar(&maxUses, "max-uses", 0, "Maximum uses per code, 0 = unlimited")
	f.BoolVar(&oncePerCustomer, "once-per-customer", true, "Limit each customer to one use of a code")
	f.StringSliceVar(&segments, "segments", nil, "Eligible customer segment ids; empty = all customers")
	f.StringVar(&policy, "code-policy", "", "reuse or per_purchase")

	cmd.AddCommand(show, set)
	return cmd
}

func backfillCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replay archived order webhooks for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(time.DateOnly, from)
			if err != nil {
				return fmt.Errorf("--from must be YYYY-MM-DD: %w", err)
			}
			end := start
			if to != "" {
				if end, err = time.Parse(time.DateOnly, to); err != nil {
					return fmt.Errorf("--to must be YYYY-MM-DD: %w", err)
				}
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Backfill == nil {
					return errors.New("event archive is not configured (R2_* variables)")
				}
				report, err := a.Backfill.Run(ctx, start, end)
				if report != nil {
					if perr := printJSON(report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Last day, YYYY-MM-DD (default: --from)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
