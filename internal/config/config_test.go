package config

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoadWithDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if cfg.Port != "8787" || cfg.RetentionDays != 7 || cfg.MaxBodyBytes != 5242880 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CleanupInterval != 10*time.Minute {
		t.Fatalf("cleanup interval = %s, want 10m", cfg.CleanupInterval)
	}
	if len(cfg.APIKeys) != 0 {
		t.Fatalf("api keys = %v, want none", cfg.APIKeys)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"GRC_PORT":           "9999",
		"GRC_API_KEYS":       "a,b",
		"GRC_RETENTION_DAYS": "2",
	}))
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if cfg.Port != "9999" || cfg.RetentionDays != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[1] != "b" {
		t.Fatalf("api keys = %v, want [a b]", cfg.APIKeys)
	}
}

func TestLoadWithRejectsZeroRetention(t *testing.T) {
	t.Parallel()

	_, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{"GRC_RETENTION_DAYS": "0"}))
	if err == nil {
		t.Fatalf("expected retention validation error")
	}
}

func TestWriteHelpListsEnv(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	WriteHelp(&buf, "v1.2.3")
	out := buf.String()
	for _, want := range []string{"guardrail-collector v1.2.3", "GRC_PORT", "GRC_API_KEYS", "--version"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help output missing %q", want)
		}
	}
}
