package store

import (
	"fmt"

	"inapp-token-ledger/internal/config"
	"inapp-token-ledger/internal/domain/ports/adapter"
)

// New builds the validator selected by cfg.Mode.
func New(cfg config.StoreConfig) (adapter.StoreValidator, error) {
	switch cfg.Mode {
	case "http", "":
		return NewHTTPValidator(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	case "static":
		return NewStaticValidator(), nil
	default:
		return nil, fmt.Errorf("unknown store mode %q", cfg.Mode)
	}
}
