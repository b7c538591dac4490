package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"inapp-token-ledger/internal/infra/security"
)

func init() {
	rootCmd.AddCommand(mintTokenCmd)
	mintTokenCmd.Flags().Bool("admin", false, "mint an admin token")
	mintTokenCmd.Flags().Int64("account", 0, "mint a token scoped to this account")
	mintTokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
}

var mintTokenCmd = &cobra.Command{
	Use:   "mint-token",
	Short: "Mint an API bearer token signed with http.auth_secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		admin, _ := cmd.Flags().GetBool("admin")
		account, _ := cmd.Flags().GetInt64("account")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if admin == (account != 0) {
			return fmt.Errorf("pass exactly one of --admin or --account")
		}

		issuer, err := security.NewTokenIssuer(cfg.HTTP.AuthSecret)
		if err != nil {
			return err
		}
		var tok string
		if admin {
			tok, err = issuer.MintAdmin(ttl)
		} else {
			tok, err = issuer.MintAccount(account, ttl)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
