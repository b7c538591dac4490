package security

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin   = "admin"
	RoleAccount = "account"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are carried by every API bearer token. For RoleAccount the subject is the account id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AccountID returns the account the token was minted for, or 0.
func (c *Claims) AccountID() int64 {
	if c.Role != RoleAccount {
		return 0
	}
	id, _ := strconv.ParseInt(c.Subject, 10, 64)
	return id
}

// TokenIssuer mints and verifies HS256 API tokens.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes; got %d", len(secret))
	}
	return &TokenIssuer{secret: []byte(secret), now: time.Now}, nil
}

func (i *TokenIssuer) MintAdmin(ttl time.Duration) (string, error) {
	return i.mint(RoleAdmin, RoleAdmin, ttl)
}

func (i *TokenIssuer) MintAccount(accountID int64, ttl time.Duration) (string, error) {
	if accountID <= 0 {
		return "", fmt.Errorf("invalid account id %d", accountID)
	}
	return i.mint(RoleAccount, strconv.FormatInt(accountID, 10), ttl)
}

func (i *TokenIssuer) mint(role, subject string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses tok and checks its signature, expiry and role.
func (i *TokenIssuer) Verify(tok string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil || !tkn.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleAdmin && claims.Role != RoleAccount {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// FromRequest verifies the "Authorization: Bearer" token of r.
func (i *TokenIssuer) FromRequest(r *http.Request) (*Claims, error) {
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return nil, ErrMissingToken
	}
	return i.Verify(strings.TrimSpace(hdr[7:]))
}
