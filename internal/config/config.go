package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"campusbot.org/identity/internal/auth"
)

// Config is the resolved runtime configuration: defaults, then the optional
// YAML file, then environment variables.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	// TrustedProxies are the peers whose X-Forwarded-For header is honored.
	TrustedProxies []netip.Prefix

	DatabaseURL    string
	RedisURL       string
	DBMaxConns     int
	MigrateOnStart bool

	JWTSecret     string
	JWTAlgorithm  string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	LockThreshold int
	LockDuration  time.Duration
	BcryptCost    int

	LogLevel string

	RateLimitBurst     int
	RateLimitPerSecond float64
	MaxBodyBytes       int64
}

type configFile struct {
	Server struct {
		HTTPAddr       string   `yaml:"http_addr"`
		GRPCAddr       string   `yaml:"grpc_addr"`
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	Dependencies struct {
		DatabaseURL string `yaml:"database_url"`
		RedisURL    string `yaml:"redis_url"`
		DBMaxConns  int    `yaml:"db_max_conns"`
	} `yaml:"dependencies"`
	Auth struct {
		Algorithm          string `yaml:"algorithm"`
		AccessTokenMinutes int    `yaml:"access_token_minutes"`
		RefreshTokenDays   int    `yaml:"refresh_token_days"`
		LockThreshold      int    `yaml:"lock_threshold"`
		LockMinutes        int    `yaml:"lock_minutes"`
		BcryptCost         int    `yaml:"bcrypt_cost"`
	} `yaml:"auth"`
	RateLimit struct {
		Burst     int     `yaml:"burst"`
		PerSecond float64 `yaml:"per_second"`
	} `yaml:"rate_limit"`
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the built-in configuration without a signing secret.
func Defaults() Config {
	return Config{
		HTTPAddr:           ":8001",
		GRPCAddr:           ":9001",
		DBMaxConns:         10,
		JWTAlgorithm:       auth.DefaultAlgorithm,
		AccessTTL:          auth.DefaultAccessTTL,
		RefreshTTL:         auth.DefaultRefreshTTL,
		LockThreshold:      auth.DefaultLockThreshold,
		LockDuration:       auth.DefaultLockDuration,
		BcryptCost:         12,
		LogLevel:           "info",
		RateLimitBurst:     20,
		RateLimitPerSecond: 5,
		MaxBodyBytes:       1 << 20,
	}
}

// Load resolves configuration. A missing file at path is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = envOrDefault("GRPC_ADDR", cfg.GRPCAddr)
	if raw := strings.TrimSpace(os.Getenv("TRUSTED_PROXIES")); raw != "" {
		proxies, err := ParseTrustedProxies(strings.Split(raw, ","))
		if err != nil {
			return Config{}, err
		}
		cfg.TrustedProxies = proxies
	}
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.DBMaxConns = envInt("DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.MigrateOnStart = envBool("MIGRATE_ON_START", cfg.MigrateOnStart)

	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTAlgorithm = envOrDefault("JWT_ALGORITHM", cfg.JWTAlgorithm)
	cfg.AccessTTL = time.Duration(envInt("ACCESS_TOKEN_EXPIRE_MINUTES", int(cfg.AccessTTL.Minutes()))) * time.Minute
	cfg.RefreshTTL = time.Duration(envInt("REFRESH_TOKEN_EXPIRE_DAYS", int(cfg.RefreshTTL.Hours()/24))) * 24 * time.Hour
	cfg.LockThreshold = envInt("LOCK_THRESHOLD", cfg.LockThreshold)
	cfg.LockDuration = time.Duration(envInt("LOCK_MINUTES", int(cfg.LockDuration.Minutes()))) * time.Minute
	cfg.BcryptCost = envInt("BCRYPT_COST", cfg.BcryptCost)

	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.RateLimitBurst = envInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.RateLimitPerSecond = envFloat("RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond)

	return cfg, cfg.Validate()
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Server.HTTPAddr != "" {
		cfg.HTTPAddr = f.Server.HTTPAddr
	}
	if f.Server.GRPCAddr != "" {
		cfg.GRPCAddr = f.Server.GRPCAddr
	}
	if len(f.Server.TrustedProxies) > 0 {
		proxies, err := ParseTrustedProxies(f.Server.TrustedProxies)
		if err != nil {
			return err
		}
		cfg.TrustedProxies = proxies
	}
	if f.Dependencies.DatabaseURL != "" {
		cfg.DatabaseURL = f.Dependencies.DatabaseURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if f.Dependencies.DBMaxConns > 0 {
		cfg.DBMaxConns = f.Dependencies.DBMaxConns
	}
	if f.Auth.Algorithm != "" {
		cfg.JWTAlgorithm = f.Auth.Algorithm
	}
	if f.Auth.AccessTokenMinutes > 0 {
		cfg.AccessTTL = time.Duration(f.Auth.AccessTokenMinutes) * time.Minute
	}
	if f.Auth.RefreshTokenDays > 0 {
		cfg.RefreshTTL = time.Duration(f.Auth.RefreshTokenDays) * 24 * time.Hour
	}
	if f.Auth.LockThreshold > 0 {
		cfg.LockThreshold = f.Auth.LockThreshold
	}
	if f.Auth.LockMinutes > 0 {
		cfg.LockDuration = time.Duration(f.Auth.LockMinutes) * time.Minute
	}
	if f.Auth.BcryptCost > 0 {
		cfg.BcryptCost = f.Auth.BcryptCost
	}
	if f.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = f.RateLimit.Burst
	}
	if f.RateLimit.PerSecond > 0 {
		cfg.RateLimitPerSecond = f.RateLimit.PerSecond
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	return nil
}

// Validate reports the first setting the service cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	return c.Auth().Validate()
}

// Auth projects the token and lockout settings.
func (c Config) Auth() auth.Config {
	return auth.Config{
		Secret:        []byte(c.JWTSecret),
		Algorithm:     c.JWTAlgorithm,
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		LockThreshold: c.LockThreshold,
		LockDuration:  c.LockDuration,
	}
}

// ParseTrustedProxies accepts bare addresses and CIDR ranges. Blank entries
// are skipped.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
