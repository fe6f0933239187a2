// Package auth validates bearer tokens and exposes the caller's account
// and tier to handlers.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/cuongbtq/applyflow/internal/ratelimit"
)

const (
	accountKey = "auth.account_id"
	tierKey    = "auth.tier"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the token payload. Subject is the account id.
type Claims struct {
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// New creates an Authenticator.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Mint issues a token for accountID valid for ttl.
func (a *Authenticator) Mint(accountID string, tier ratelimit.Tier, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Tier: string(tier),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies tok and returns its claims.
func (a *Authenticator) Parse(tok string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := bearer(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := a.Parse(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(accountKey, claims.Subject)
		c.Set(tierKey, ratelimit.ParseTier(claims.Tier))
		c.Next()
	}
}

func bearer(hdr string) (string, error) {
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", ErrMissingToken
	}
	tok := strings.TrimSpace(hdr[7:])
	if tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

// AccountID returns the authenticated account.
func AccountID(c *gin.Context) string {
	return c.GetString(accountKey)
}

// Tier returns the authenticated account's tier, TRIAL if unset.
func Tier(c *gin.Context) ratelimit.Tier {
	if t, ok := c.Get(tierKey); ok {
		if tier, ok := t.(ratelimit.Tier); ok {
			return tier
		}
	}
	return ratelimit.TierTrial
}

// WithAccount marks c as authenticated. Used by tests and internal callers.
func WithAccount(c *gin.Context, accountID string, tier ratelimit.Tier) {
	c.Set(accountKey, accountID)
	c.Set(tierKey, tier)
}
