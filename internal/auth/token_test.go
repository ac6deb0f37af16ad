package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenCodecExpiryIsExact(t *testing.T) {
	clock := newFakeClock()
	clock.Advance(750 * time.Millisecond)
	cfg := testConfig()
	codec, err := NewTokenCodec(cfg, clock.Now)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	token, _, err := codec.Issue("a@x.com", RoleStudent, 7)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := codec.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != cfg.AccessTTL {
		t.Fatalf("exp-iat = %v, want %v", got, cfg.AccessTTL)
	}
	if claims.Email() != "a@x.com" || claims.AccountID != 7 || claims.Role != RoleStudent {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !IsAccessType(claims) {
		t.Fatalf("expected access type")
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
}

func TestTokenCodecRejectsExpired(t *testing.T) {
	clock := newFakeClock()
	codec, err := NewTokenCodec(testConfig(), clock.Now)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	token, _, err := codec.Issue("a@x.com", RoleStudent, 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock.Advance(DefaultAccessTTL - time.Second)
	if _, err := codec.Validate(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}
	clock.Advance(time.Second)
	_, reason, err := codec.validate(token)
	if !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken at expiry, got %v", err)
	}
	if reason != ReasonTokenExpired {
		t.Fatalf("reason = %s", reason)
	}
}

func TestTokenCodecRejectsTampering(t *testing.T) {
	clock := newFakeClock()
	codec, _ := NewTokenCodec(testConfig(), clock.Now)
	other, _ := NewTokenCodec(DefaultConfig([]byte("another-secret")), clock.Now)
	token, _, err := other.Issue("a@x.com", RoleAdmin, 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, reason, err := codec.validate(token)
	if !errors.Is(err, ErrInvalidAccessToken) || reason != ReasonTokenSignature {
		t.Fatalf("foreign signature: err=%v reason=%s", err, reason)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	for _, bad := range []string{"", "garbage", parts[0] + "." + parts[1], parts[0] + "." + parts[1] + ".AAAA"} {
		if _, err := codec.Validate(bad); !errors.Is(err, ErrInvalidAccessToken) {
			t.Fatalf("Validate(%q) err = %v", bad, err)
		}
	}
}

func TestTokenCodecRejectsNoneAlgorithm(t *testing.T) {
	clock := newFakeClock()
	codec, _ := NewTokenCodec(testConfig(), clock.Now)
	claims := &AccessClaims{
		Role:      RoleAdmin,
		AccountID: 1,
		Type:      TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a@x.com",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := codec.Validate(unsigned); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected none algorithm to be rejected, got %v", err)
	}
}

func TestTokenCodecOnlyHMAC(t *testing.T) {
	cfg := testConfig()
	cfg.Algorithm = "RS256"
	if _, err := NewTokenCodec(cfg, nil); err == nil {
		t.Fatalf("expected RS256 to be rejected")
	}
	cfg.Algorithm = "hs512"
	if _, err := NewTokenCodec(cfg, nil); err != nil {
		t.Fatalf("HS512: %v", err)
	}
}

func TestIsAccessTypeRejectsOtherTypes(t *testing.T) {
	if IsAccessType(nil) {
		t.Fatalf("nil claims accepted")
	}
	if IsAccessType(&AccessClaims{Type: "refresh"}) {
		t.Fatalf("refresh type accepted")
	}
}
