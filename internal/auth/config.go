package auth

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultAlgorithm     = "HS256"
	DefaultAccessTTL     = 30 * time.Minute
	DefaultRefreshTTL    = 30 * 24 * time.Hour
	DefaultLockThreshold = 5
	DefaultLockDuration  = 15 * time.Minute
)

// Config holds the signing secret and policy constants. It is a value type:
// the service and codec keep their own copy, so nothing mutates it after
// construction.
type Config struct {
	Secret        []byte
	Algorithm     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	LockThreshold int
	LockDuration  time.Duration
}

// DefaultConfig returns the policy defaults with the given secret.
func DefaultConfig(secret []byte) Config {
	return Config{
		Secret:        secret,
		Algorithm:     DefaultAlgorithm,
		AccessTTL:     DefaultAccessTTL,
		RefreshTTL:    DefaultRefreshTTL,
		LockThreshold: DefaultLockThreshold,
		LockDuration:  DefaultLockDuration,
	}
}

func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = DefaultAlgorithm
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.LockThreshold <= 0 {
		c.LockThreshold = DefaultLockThreshold
	}
	if c.LockDuration <= 0 {
		c.LockDuration = DefaultLockDuration
	}
	secret := make([]byte, len(c.Secret))
	copy(secret, c.Secret)
	c.Secret = secret
	return c
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if len(c.Secret) == 0 {
		return errors.New("auth: signing secret is required")
	}
	if _, err := hmacMethod(c.Algorithm); err != nil {
		return err
	}
	if c.LockThreshold < 1 {
		return fmt.Errorf("auth: lock threshold must be >= 1, got %d", c.LockThreshold)
	}
	return nil
}
