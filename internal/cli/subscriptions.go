package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"inapp-token-ledger/internal/application"
)

func init() {
	rootCmd.AddCommand(renewCmd, renewDueCmd, cancelSubsCmd, sweepOrdersCmd)

	renewDueCmd.Flags().Int("page-size", 100, "subscriptions per page")
	sweepOrdersCmd.Flags().Duration("older-than", 24*time.Hour, "discard pending orders created before now minus this")
	sweepOrdersCmd.Flags().Int("limit", 500, "maximum orders to discard")
}

var renewCmd = &cobra.Command{
	Use:   "renew ACCOUNT_ID",
	Short: "Renew the account's subscription tokens if its period elapsed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			v, err := app.Subscription.RenewSubscriptionTokens(ctx, accountID)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		})
	},
}

var renewDueCmd = &cobra.Command{
	Use:   "renew-due",
	Short: "Renew every open subscription whose period elapsed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pageSize, _ := cmd.Flags().GetInt("page-size")
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			n, err := app.Subscription.RenewDue(ctx, pageSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renewed=%d\n", n)
			return nil
		})
	},
}

var cancelSubsCmd = &cobra.Command{
	Use:   "cancel-subscriptions ACCOUNT_ID",
	Short: "Cancel the account's active and scheduled subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			return app.Subscription.CancelAllSubscriptions(ctx, accountID)
		})
	},
}

var sweepOrdersCmd = &cobra.Command{
	Use:   "sweep-orders",
	Short: "Discard stale pending orders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			n, err := app.Purchase.SweepStaleOrders(ctx, olderThan, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded=%d\n", n)
			return nil
		})
	},
}
