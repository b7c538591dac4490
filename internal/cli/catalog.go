package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"inapp-token-ledger/internal/application"
	"inapp-token-ledger/internal/domain/model"
	pg "inapp-token-ledger/internal/infra/db/postgres"
)

func init() {
	rootCmd.AddCommand(seedCatalogCmd)
	seedCatalogCmd.Flags().StringP("file", "f", "", "catalog YAML file")
	_ = seedCatalogCmd.MarkFlagRequired("file")
}

type catalogFile struct {
	Products []catalogEntry `yaml:"products"`
}

type catalogEntry struct {
	OfferKey      string `yaml:"offer_key"`
	Title         string `yaml:"title"`
	AppStoreRef   string `yaml:"app_store_ref"`
	PlayMarketRef string `yaml:"play_market_ref"`
	Subscription  bool   `yaml:"subscription"`
	Free          bool   `yaml:"free"`
	Inactive      bool   `yaml:"inactive"`
	Tokens        int64  `yaml:"tokens"`
	DailyTokens   int64  `yaml:"daily_tokens"`
	MonthlyTokens int64  `yaml:"monthly_tokens"`
}

func (e catalogEntry) product() *model.InAppProduct {
	return &model.InAppProduct{
		OfferKey:             e.OfferKey,
		Title:                e.Title,
		AppStoreProductRef:   e.AppStoreRef,
		PlayMarketProductRef: e.PlayMarketRef,
		IsSubscription:       e.Subscription,
		IsFree:               e.Free,
		IsActive:             !e.Inactive,
		Tokens:               e.Tokens,
		DailyTokens:          e.DailyTokens,
		MonthlyTokens:        e.MonthlyTokens,
	}
}

// loadCatalog reads and sanity-checks a catalog file.
func loadCatalog(path string) ([]*model.InAppProduct, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	seen := map[string]bool{}
	out := make([]*model.InAppProduct, 0, len(f.Products))
	for i, e := range f.Products {
		if e.OfferKey == "" {
			return nil, fmt.Errorf("product #%d: offer_key is required", i+1)
		}
		if seen[e.OfferKey] {
			return nil, fmt.Errorf("product %q listed twice", e.OfferKey)
		}
		seen[e.OfferKey] = true
		if e.Subscription && e.Tokens != 0 {
			return nil, fmt.Errorf("product %q: subscriptions carry daily/monthly tokens, not tokens", e.OfferKey)
		}
		if !e.Subscription && (e.DailyTokens != 0 || e.MonthlyTokens != 0) {
			return nil, fmt.Errorf("product %q: consumables carry tokens only", e.OfferKey)
		}
		out = append(out, e.product())
	}
	return out, nil
}

var seedCatalogCmd = &cobra.Command{
	Use:   "seed-catalog",
	Short: "Insert or update in-app products from a YAML file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		products, err := loadCatalog(path)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *application.App) error {
			repo := pg.NewProductRepo(app.Pool)
			for _, p := range products {
				if err := repo.Upsert(ctx, nil, p); err != nil {
					return fmt.Errorf("upsert %q: %w", p.OfferKey, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded: %s (id=%d, tokens=%d, daily=%d, monthly=%d)\n",
					p.OfferKey, p.ID, p.Tokens, p.DailyTokens, p.MonthlyTokens)
			}
			return nil
		})
	},
}
