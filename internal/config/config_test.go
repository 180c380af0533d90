package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Auth.TokenTTL.Std() != time.Hour {
		t.Fatalf("expected 1h token ttl, got %s", cfg.Auth.TokenTTL.Std())
	}
	if cfg.SignupBonus("buyer") != 50 || cfg.SignupBonus("worker") != 10 || cfg.SignupBonus("admin") != 0 {
		t.Fatalf("unexpected signup bonus %+v", cfg.Signup.Bonus)
	}
	if cfg.Withdrawals.CoinsPerDollar != 20 {
		t.Fatalf("expected 20 coins per dollar, got %d", cfg.Withdrawals.CoinsPerDollar)
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("withdrawals:\n  min_coins: 200\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Withdrawals.MinCoins != 200 {
		t.Fatalf("expected min_coins 200, got %d", cfg.Withdrawals.MinCoins)
	}
	if cfg.Withdrawals.CoinsPerDollar != 20 {
		t.Fatalf("expected default coins_per_dollar, got %d", cfg.Withdrawals.CoinsPerDollar)
	}
	if cfg.Stats.TopWorkerCount != 6 {
		t.Fatalf("expected default top worker count, got %d", cfg.Stats.TopWorkerCount)
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad duration":  "auth:\n  token_ttl: soon\n",
		"unknown role":  "signup:\n  bonus:\n    guest: 5\n",
		"negative rate": "withdrawals:\n  coins_per_dollar: -1\n",
		"negative min":  "withdrawals:\n  min_coins: -5\n",
		"zero top":      "stats:\n  top_worker_count: 0\n",
		"not yaml":      "auth: [",
	}
	for name, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config for missing file, got %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "marketplace.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadRuntimeFromEnv(t *testing.T) {
	t.Setenv("MICROTASK_JWT_SECRET", "s3cret")
	t.Setenv("MICROTASK_ADDR", ":9090")
	rt, err := LoadRuntime()
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if rt.JWTSecret != "s3cret" || rt.Addr != ":9090" || rt.Workspace != "." {
		t.Fatalf("unexpected runtime %+v", rt)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg struct {
		Port int `env:"MICROTASK_TEST_PORT"`
	}
	t.Setenv("MICROTASK_TEST_PORT", "not-an-int")
	err := ParseEnv(&cfg)
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}
