package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"inapp-token-ledger/internal/application"
)

func init() {
	rootCmd.AddCommand(refillDailyCmd, refillAccountCmd, balanceCmd, historyCmd, grantInitialCmd)

	refillDailyCmd.Flags().Bool("dry-run", false, "count eligible accounts without writing")
	grantInitialCmd.Flags().Int64("amount", 0, "tokens to grant")
	_ = grantInitialCmd.MarkFlagRequired("amount")
}

var refillDailyCmd = &cobra.Command{
	Use:   "refill-daily",
	Short: "Run the daily refill batch for every eligible account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			report, err := app.Refill.RefillBatch(ctx, dryRun)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		})
	},
}

var refillAccountCmd = &cobra.Command{
	Use:   "refill-account ACCOUNT_ID",
	Short: "Refill one account's daily bucket if it has not been refilled today",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			done, err := app.Refill.RefillOne(ctx, accountID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account=%d refilled=%t\n", accountID, done)
			return nil
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT_ID",
	Short: "Print an account's balance by bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			v, err := app.Balance.GetBalance(ctx, accountID)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history ACCOUNT_ID",
	Short: "Print an account's ledger in id order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			rows, err := app.Ledger.History(ctx, accountID)
			if err != nil {
				return err
			}
			for _, r := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%-24s\t%+d\t%s\n",
					r.ID, r.CreatedAt.Format("2006-01-02T15:04:05Z"), r.Kind, r.Amount, r.Reference)
			}
			return nil
		})
	},
}

var grantInitialCmd = &cobra.Command{
	Use:   "grant-initial ACCOUNT_ID",
	Short: "Grant the one-time initial balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		amount, _ := cmd.Flags().GetInt64("amount")
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			granted, err := app.Tokens.GrantInitialBalance(ctx, accountID, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account=%d granted=%t\n", accountID, granted)
			return nil
		})
	},
}
