//go:build !integration

package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"inapp-token-ledger/internal/infra/logging"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty stays empty", "", ""},
		{"short values are masked entirely", "abcdefgh", "***"},
		{"long values keep head and tail", "receipt-payload-abcdef", "rece...ef"},
		{"multibyte runes are not split", "ключ-покупки-42", "ключ...42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logging.Redact(tt.in))
		})
	}
}
