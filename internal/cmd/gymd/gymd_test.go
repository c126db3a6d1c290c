package gymd

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("gymd", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "localhost:8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.DataDir != "data" {
		t.Fatalf("expected default data dir, got %q", cfg.DataDir)
	}
	if cfg.ExpirySweepInterval != time.Hour {
		t.Fatalf("expected hourly sweep, got %v", cfg.ExpirySweepInterval)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("FERROGYM_HTTP_ADDR", "env-addr:9000")
	t.Setenv("FERROGYM_DATA_DIR", "/var/lib/ferrogym")

	fs := flag.NewFlagSet("gymd", flag.ContinueOnError)
	args := []string{"-http-addr", "flag-addr:9001", "-expiry-sweep-window", "72h"}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr:9001" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.DataDir != "/var/lib/ferrogym" {
		t.Fatalf("expected env data dir, got %q", cfg.DataDir)
	}
	if cfg.ExpirySweepWindow != 72*time.Hour {
		t.Fatalf("expected 72h window, got %v", cfg.ExpirySweepWindow)
	}
}
