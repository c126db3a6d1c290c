// Package webauthn drives passkey registration and login ceremonies.
package webauthn

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/ferrogym/ferrogym/internal/platform/config"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultChallengeTTL = 5 * time.Minute
)

// configEnv holds raw env values before post-parse validation.
type configEnv struct {
	RPDisplayName    string        `env:"FERROGYM_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"FerroGym"`
	RPID             string        `env:"FERROGYM_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins        []string      `env:"FERROGYM_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	UserVerification string        `env:"FERROGYM_WEBAUTHN_USER_VERIFICATION" envDefault:"preferred"`
	Attestation      string        `env:"FERROGYM_WEBAUTHN_ATTESTATION"     envDefault:"none"`
	Timeout          time.Duration `env:"FERROGYM_WEBAUTHN_TIMEOUT"         envDefault:"60s"`
	ChallengeTTL     time.Duration `env:"FERROGYM_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
	Algorithms       []string      `env:"FERROGYM_WEBAUTHN_ALGORITHMS"      envSeparator:","`
}

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName    string
	RPID             string
	RPOrigins        []string
	UserVerification protocol.UserVerificationRequirement
	Attestation      protocol.ConveyancePreference
	Timeout          time.Duration
	ChallengeTTL     time.Duration
	Algorithms       []webauthncose.COSEAlgorithmIdentifier
}

// LoadConfigFromEnv reads relying party configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("parse webauthn env: %w", err)
	}

	cfg := Config{
		RPDisplayName: strings.TrimSpace(raw.RPDisplayName),
		RPID:          strings.TrimSpace(raw.RPID),
		RPOrigins:     raw.RPOrigins,
		Timeout:       raw.Timeout,
		ChallengeTTL:  raw.ChallengeTTL,
	}

	switch strings.ToLower(strings.TrimSpace(raw.UserVerification)) {
	case "", "preferred":
		cfg.UserVerification = protocol.VerificationPreferred
	case "required":
		cfg.UserVerification = protocol.VerificationRequired
	case "discouraged":
		cfg.UserVerification = protocol.VerificationDiscouraged
	default:
		return Config{}, fmt.Errorf("unknown user verification %q", raw.UserVerification)
	}

	switch strings.ToLower(strings.TrimSpace(raw.Attestation)) {
	case "", "none":
		cfg.Attestation = protocol.PreferNoAttestation
	case "indirect":
		cfg.Attestation = protocol.PreferIndirectAttestation
	case "direct":
		cfg.Attestation = protocol.PreferDirectAttestation
	default:
		return Config{}, fmt.Errorf("unknown attestation preference %q", raw.Attestation)
	}

	for _, name := range raw.Algorithms {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "":
		case "ES256":
			cfg.Algorithms = append(cfg.Algorithms, webauthncose.AlgES256)
		case "RS256":
			cfg.Algorithms = append(cfg.Algorithms, webauthncose.AlgRS256)
		case "EDDSA", "ED25519":
			cfg.Algorithms = append(cfg.Algorithms, webauthncose.AlgEdDSA)
		default:
			return Config{}, fmt.Errorf("unknown algorithm %q", name)
		}
	}

	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.RPDisplayName == "" {
		c.RPDisplayName = "FerroGym"
	}
	if c.RPID == "" {
		c.RPID = "localhost"
	}
	if len(c.RPOrigins) == 0 {
		c.RPOrigins = []string{"http://localhost:8080"}
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = defaultChallengeTTL
	}
	if len(c.Algorithms) == 0 {
		c.Algorithms = []webauthncose.COSEAlgorithmIdentifier{webauthncose.AlgES256, webauthncose.AlgRS256}
	}
	return c
}

// provider builds the go-webauthn relying party from the config.
func (c Config) provider() (*webauthn.WebAuthn, error) {
	timeout := webauthn.TimeoutConfig{
		Enforce:    true,
		Timeout:    c.Timeout,
		TimeoutUVD: c.Timeout,
	}
	return webauthn.New(&webauthn.Config{
		RPDisplayName: c.RPDisplayName,
		RPID:          c.RPID,
		RPOrigins:     c.RPOrigins,
		AttestationPreference: c.Attestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: c.UserVerification,
		},
		Timeouts: webauthn.TimeoutsConfig{
			Login:        timeout,
			Registration: timeout,
		},
	})
}

// credentialParameters maps the configured algorithms to creation options.
func (c Config) credentialParameters() []protocol.CredentialParameter {
	params := make([]protocol.CredentialParameter, 0, len(c.Algorithms))
	for _, alg := range c.Algorithms {
		params = append(params, protocol.CredentialParameter{
			Type:      protocol.PublicKeyCredentialType,
			Algorithm: alg,
		})
	}
	return params
}

func (c Config) allowsAlgorithm(alg webauthncose.COSEAlgorithmIdentifier) bool {
	for _, allowed := range c.Algorithms {
		if allowed == alg {
			return true
		}
	}
	return false
}

func (c Config) allowsOrigin(origin string) bool {
	for _, allowed := range c.RPOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
