package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from environment variables declared through `env:`
// struct tags. Every variable this project reads carries the FERROGYM_
// prefix; defaults live in `envDefault` tags next to the fields they cover.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
