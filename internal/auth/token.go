package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTypeAccess tags short-lived self-contained credentials.
const TokenTypeAccess = "access"

// AccessClaims are the claims embedded in an access token.
type AccessClaims struct {
	Role      string `json:"role"`
	AccountID int64  `json:"user_id"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// Email returns the subject, which is the account email at issue time.
func (c *AccessClaims) Email() string { return c.Subject }

// TokenCodec issues and validates access tokens with a process-wide HMAC secret.
// It holds no mutable state and is safe for concurrent use.
type TokenCodec struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec builds a codec from cfg. Only the HMAC family is accepted.
func NewTokenCodec(cfg Config, now func() time.Time) (*TokenCodec, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	method, err := hmacMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{secret: cfg.Secret, method: method, ttl: cfg.AccessTTL, now: now}, nil
}

func hmacMethod(alg string) (jwt.SigningMethod, error) {
	method := jwt.GetSigningMethod(strings.ToUpper(strings.TrimSpace(alg)))
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
	}
	return method, nil
}

// Issue signs an access token for the account. Expiry is exactly issued-at
// plus the configured TTL; both are truncated to whole seconds first.
func (c *TokenCodec) Issue(email, role string, accountID int64) (string, *AccessClaims, error) {
	now := c.now().UTC().Truncate(time.Second)
	claims := &AccessClaims{
		Role:      role,
		AccountID: accountID,
		Type:      TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// Validate checks signature and expiry. Every failure collapses into
// ErrInvalidAccessToken so callers cannot tell the causes apart.
func (c *TokenCodec) Validate(token string) (*AccessClaims, error) {
	claims, _, err := c.validate(token)
	return claims, err
}

func (c *TokenCodec) validate(token string) (*AccessClaims, Reason, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ReasonTokenMalformed, ErrInvalidAccessToken
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, tokenFailureReason(err), ErrInvalidAccessToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" || claims.AccountID <= 0 {
		return nil, ReasonTokenMalformed, ErrInvalidAccessToken
	}
	return claims, "", nil
}

func tokenFailureReason(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonTokenSignature
	default:
		return ReasonTokenMalformed
	}
}

// IsAccessType guards against tokens minted for another purpose.
func IsAccessType(claims *AccessClaims) bool {
	return claims != nil && claims.Type == TokenTypeAccess
}

// accountKey formats an account id for log fields and metadata.
func accountKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
