// Package gymd parses configuration for the gym backend command and runs
// the combined server.
package gymd

import (
	"context"
	"flag"
	"time"

	server "github.com/ferrogym/ferrogym/internal/app/server"
	platformcmd "github.com/ferrogym/ferrogym/internal/platform/cmd"
)

// Config holds gymd command configuration.
type Config struct {
	HTTPAddr            string
	DataDir             string
	ExpirySweepInterval time.Duration
	ExpirySweepWindow   time.Duration
}

// ParseConfig loads environment defaults and then parses flags over them.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	serverConfig, err := server.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		HTTPAddr:            serverConfig.HTTPAddr,
		DataDir:             serverConfig.DataDir,
		ExpirySweepInterval: serverConfig.ExpirySweepInterval,
		ExpirySweepWindow:   serverConfig.ExpirySweepWindow,
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP listen address")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for SQLite databases")
	fs.DurationVar(&cfg.ExpirySweepInterval, "expiry-sweep-interval", cfg.ExpirySweepInterval, "How often to sweep for expiring memberships")
	fs.DurationVar(&cfg.ExpirySweepWindow, "expiry-sweep-window", cfg.ExpirySweepWindow, "How far ahead the expiry sweep warns")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the gym backend with telemetry configured.
func Run(ctx context.Context, cfg Config) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceGymd, func(ctx context.Context) error {
		return server.Run(ctx, server.Config{
			HTTPAddr:            cfg.HTTPAddr,
			DataDir:             cfg.DataDir,
			ExpirySweepInterval: cfg.ExpirySweepInterval,
			ExpirySweepWindow:   cfg.ExpirySweepWindow,
		})
	})
}
