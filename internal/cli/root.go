package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inapp-token-ledger/internal/application"
	"inapp-token-ledger/internal/config"
	"inapp-token-ledger/internal/infra/logging"
)

var (
	cfgPath string
	devMode bool

	cfg    *config.Config
	logger *zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tokenctl",
	Short: "Operate the token ledger",
	Long: `tokenctl runs ledger maintenance jobs by hand: schema migrations,
the daily refill batch, subscription renewals and one-off account fixes.
It talks to the same database as the server and goes through the same use cases.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadConfig(cfgPath, devMode)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = c
		logger = logging.NewWithWriter(os.Stderr, c.Log, c.Runtime.Dev)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// withApp builds the application graph for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *application.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func parseAccountID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id %q", s)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
