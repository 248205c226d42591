package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	apperrors "nse-alerts/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAppliesDefaultsAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", `
[routing]
source = "rules.csv"

[poll]
workers = 8
`)
	writeFile(t, dir, "credentials.toml", `
[telegram]
bot_token = "123456:abc"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Poll.Interval != 10*time.Second || cfg.Poll.Cooldown != 60*time.Second {
		t.Errorf("poll defaults = %v / %v", cfg.Poll.Interval, cfg.Poll.Cooldown)
	}
	if cfg.Poll.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Poll.Workers)
	}
	if cfg.Notifications.Diagnostic != "@trade_mvd" {
		t.Errorf("diagnostic = %q", cfg.Notifications.Diagnostic)
	}
	if cfg.Notifications.Breaker.FailureThreshold != 5 || cfg.Notifications.Breaker.Timeout != 30*time.Second {
		t.Errorf("breaker = %+v", cfg.Notifications.Breaker)
	}
	if cfg.Notifications.Telegram.BotToken != "123456:abc" {
		t.Errorf("bot token not copied from credentials")
	}
	if want := filepath.Join(dir, "data", "announcements.csv"); cfg.Ledger.Path != want {
		t.Errorf("ledger path = %q, want %q", cfg.Ledger.Path, want)
	}
	if want := filepath.Join(dir, "data", "files", "pdf"); cfg.Enrich.RenderDir != want {
		t.Errorf("render dir = %q, want %q", cfg.Enrich.RenderDir, want)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", "[routing]\nsource = \"from-file.csv\"\n")
	writeFile(t, dir, "credentials.toml", "")

	t.Setenv("TELEGRAM_BOT_TOKEN", "999:env")
	t.Setenv("NSE_ALERTS_RULES_SOURCE", "https://example.com/export?format=csv")
	t.Setenv("NSE_ALERTS_DATA_DIR", filepath.Join(dir, "elsewhere"))

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.Source != "https://example.com/export?format=csv" {
		t.Errorf("rules source = %q", cfg.Routing.Source)
	}
	if cfg.Notifications.Telegram.BotToken != "999:env" {
		t.Errorf("bot token = %q", cfg.Notifications.Telegram.BotToken)
	}
	if !strings.HasPrefix(cfg.Ledger.Path, filepath.Join(dir, "elsewhere")) {
		t.Errorf("ledger path %q not under overridden data dir", cfg.Ledger.Path)
	}
}

func TestMissingConfigCreatesTemplate(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !strings.Contains(err.Error(), filepath.Join(dir, "config.toml")) {
		t.Errorf("error should name the template path: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "config.toml")); statErr != nil {
		t.Errorf("template not written: %v", statErr)
	}
}

func TestCredentialsTemplateIsPrivate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", "")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for missing credentials")
	}
	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credentials mode = %o, want 600", perm)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Poll.Workers = 0
	cfg.Enrich.Analyzer = "claude"
	cfg.Routing.Source = ""
	cfg.Notifications.Telegram.Enabled = true
	cfg.Notifications.Telegram.BotToken = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if n := len(multierr.Errors(err)); n != 4 {
		t.Errorf("got %d errors, want 4: %v", n, err)
	}
	if !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Error("validation errors should match ErrConfigInvalid")
	}
}

func TestSettingsIncludeCredentials(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Credentials.OpenAI.APIKey = "sk-test"

	s := cfg.Settings()
	if s["credentials.openai.api_key"] != "sk-test" {
		t.Errorf("settings missing credential: %v", s["credentials.openai.api_key"])
	}
	if _, ok := s["poll.interval"]; !ok {
		t.Error("settings should be flattened")
	}
}
