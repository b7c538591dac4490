package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"inapp-token-ledger/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	err := fmt.Errorf("complete order: %w", domain.NewAppError(domain.CodeStoreUnavailable, domain.ErrStoreUnavailable))

	assert.Equal(t, domain.CodeStoreUnavailable, domain.CodeOf(err))
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
	assert.True(t, domain.IsRetryable(err))

	assert.Equal(t, "", domain.CodeOf(domain.ErrNotFound))
	assert.False(t, domain.IsRetryable(domain.NewAppError(domain.CodeInvalidStoreReceipt, domain.ErrInvalidReceipt)))
}
