package token

import (
	"fmt"
	"strings"
	"time"

	"github.com/ferrogym/ferrogym/internal/platform/config"
)

// signingMethod is the only accepted JWT algorithm. Tokens signed with
// anything else, including "none", fail verification.
const signingMethod = "HS256"

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
	defaultLeeway     = 30 * time.Second
	minSecretBytes    = 32
)

// configEnv holds raw env values before post-parse validation.
type configEnv struct {
	Secret     string        `env:"FERROGYM_TOKEN_SECRET"`
	Issuer     string        `env:"FERROGYM_TOKEN_ISSUER" envDefault:"ferrogym"`
	AccessTTL  time.Duration `env:"FERROGYM_TOKEN_ACCESS_TTL"`
	RefreshTTL time.Duration `env:"FERROGYM_TOKEN_REFRESH_TTL"`
}

// Config defines how session tokens are minted and verified.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// LoadConfigFromEnv reads token configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("parse token env: %w", err)
	}
	secret := strings.TrimSpace(raw.Secret)
	if secret == "" {
		return Config{}, fmt.Errorf("FERROGYM_TOKEN_SECRET is required")
	}
	if len(secret) < minSecretBytes {
		return Config{}, fmt.Errorf("FERROGYM_TOKEN_SECRET must be at least %d bytes", minSecretBytes)
	}
	cfg := Config{
		Secret:     []byte(secret),
		Issuer:     strings.TrimSpace(raw.Issuer),
		AccessTTL:  raw.AccessTTL,
		RefreshTTL: raw.RefreshTTL,
		Leeway:     defaultLeeway,
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = defaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = defaultRefreshTTL
	}
	if c.Leeway <= 0 {
		c.Leeway = defaultLeeway
	}
	if c.Issuer == "" {
		c.Issuer = "ferrogym"
	}
	return c
}
