// Package config provides configuration management for the alerts pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/logging"
	"nse-alerts/internal/resilience"
)

// Config holds all application configuration.
type Config struct {
	DataDir       string             `mapstructure:"data_dir"`
	Feed          FeedConfig         `mapstructure:"feed"`
	Poll          PollConfig         `mapstructure:"poll"`
	Ledger        LedgerConfig       `mapstructure:"ledger"`
	Routing       RoutingConfig      `mapstructure:"routing"`
	Enrich        EnrichConfig       `mapstructure:"enrich"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Dashboard     DashboardConfig    `mapstructure:"dashboard"`
	Retention     RetentionConfig    `mapstructure:"retention"`
	Logging       logging.LogConfig  `mapstructure:"logging"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately

	dir      string
	settings map[string]interface{}
}

// FeedConfig describes the upstream announcement API.
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Index          string        `mapstructure:"index"`
	UserAgent      string        `mapstructure:"user_agent"`
	FetchBudget    time.Duration `mapstructure:"fetch_budget"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PollConfig controls the cycle loop.
type PollConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	Workers      int           `mapstructure:"workers"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// LedgerConfig locates the seen-announcements ledger and the watchlist.
type LedgerConfig struct {
	Path          string `mapstructure:"path"`
	WatchlistPath string `mapstructure:"watchlist_path"`
}

// RoutingConfig locates the routing rules.
type RoutingConfig struct {
	Source  string        `mapstructure:"source"` // sheet CSV export URL or local path
	Timeout time.Duration `mapstructure:"timeout"`
}

// EnrichConfig controls document rendering and analysis.
type EnrichConfig struct {
	RenderDir     string        `mapstructure:"render_dir"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	Analyzer      string        `mapstructure:"analyzer"` // openai, gemini, none
	Model         string        `mapstructure:"model"`
	APIBaseURL    string        `mapstructure:"api_base_url"`
	PDFToText     string        `mapstructure:"pdftotext"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Diagnostic  string                          `mapstructure:"diagnostic_destination"`
	SendTimeout time.Duration                   `mapstructure:"send_timeout"`
	Telegram    TelegramConfig                  `mapstructure:"telegram"`
	Email       EmailConfig                     `mapstructure:"email"`
	Webhook     WebhookConfig                   `mapstructure:"webhook"`
	RateLimit   RateLimitConfig                 `mapstructure:"rate_limit"`
	Breaker     resilience.CircuitBreakerConfig `mapstructure:"breaker"`
}

// TelegramConfig holds Telegram bot configuration. The token lives in
// credentials.toml.
type TelegramConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIBase        string `mapstructure:"api_base"`
	DisablePreview bool   `mapstructure:"disable_web_page_preview"`
	MaxRetries     int    `mapstructure:"max_retries"`
	BotToken       string `mapstructure:"-"`
}

// EmailConfig holds SMTP configuration for mailto: destinations.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	From     string `mapstructure:"from"`
	Password string `mapstructure:"-"`
}

// WebhookConfig holds configuration for http(s) destinations.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig is a token bucket shared by every destination of one
// transport.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// DashboardConfig controls the live-update endpoint and message store.
type DashboardConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	DBPath       string `mapstructure:"db_path"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// RetentionConfig sets how long generated files are kept.
type RetentionConfig struct {
	FilesDir    string        `mapstructure:"files_dir"`
	PDFMaxAge   time.Duration `mapstructure:"pdf_max_age"`
	MediaMaxAge time.Duration `mapstructure:"media_max_age"`
}

// Credentials holds API secrets.
type Credentials struct {
	Telegram TelegramCredentials `mapstructure:"telegram"`
	OpenAI   APIKeyCredentials   `mapstructure:"openai"`
	Gemini   APIKeyCredentials   `mapstructure:"gemini"`
	SMTP     SMTPCredentials     `mapstructure:"smtp"`
}

// TelegramCredentials holds the bot token.
type TelegramCredentials struct {
	BotToken string `mapstructure:"bot_token"`
}

// APIKeyCredentials holds a single API key.
type APIKeyCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// SMTPCredentials holds the SMTP password.
type SMTPCredentials struct {
	Password string `mapstructure:"password"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/nse-alerts"
	}
	return filepath.Join(home, ".config", "nse-alerts")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{dir: configDir}

	v := newViper(configDir)
	if err := readConfigFile(v, configDir, "config", configTemplate, 0644); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	cfg.settings = v.AllSettings()

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default(configDir string) *Config {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	v := newViper(configDir)
	cfg := &Config{dir: configDir}
	_ = v.Unmarshal(cfg)
	cfg.settings = v.AllSettings()
	cfg.resolve()
	return cfg
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("data_dir", filepath.Join(configDir, "data"))

	v.SetDefault("feed.base_url", "https://www.nseindia.com")
	v.SetDefault("feed.index", "equities")
	v.SetDefault("feed.fetch_budget", 30*time.Second)
	v.SetDefault("feed.request_timeout", 15*time.Second)

	v.SetDefault("poll.interval", 10*time.Second)
	v.SetDefault("poll.cooldown", 60*time.Second)
	v.SetDefault("poll.workers", 4)
	v.SetDefault("poll.call_timeout", 30*time.Second)
	v.SetDefault("poll.drain_timeout", 60*time.Second)

	v.SetDefault("routing.timeout", 15*time.Second)

	v.SetDefault("enrich.analyzer", "none")
	v.SetDefault("enrich.pdftotext", "pdftotext")
	v.SetDefault("enrich.call_timeout", 90*time.Second)

	v.SetDefault("notifications.diagnostic_destination", "@trade_mvd")
	v.SetDefault("notifications.send_timeout", 15*time.Second)
	v.SetDefault("notifications.telegram.enabled", true)
	v.SetDefault("notifications.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notifications.telegram.disable_web_page_preview", true)
	v.SetDefault("notifications.telegram.max_retries", 3)
	v.SetDefault("notifications.email.smtp_port", 587)
	v.SetDefault("notifications.webhook.timeout", 10*time.Second)
	v.SetDefault("notifications.rate_limit.per_second", 20.0)
	v.SetDefault("notifications.rate_limit.burst", 5)
	v.SetDefault("notifications.breaker.failure_threshold", 5)
	v.SetDefault("notifications.breaker.success_threshold", 1)
	v.SetDefault("notifications.breaker.open_timeout", 30*time.Second)

	v.SetDefault("dashboard.history_limit", 100)

	v.SetDefault("retention.pdf_max_age", 30*24*time.Hour)
	v.SetDefault("retention.media_max_age", 7*24*time.Hour)

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "nse-alerts.log"))
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)

	return v
}

func readConfigFile(v *viper.Viper, configDir, name, template string, perm os.FileMode) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createTemplate(configDir, name, template, perm)
		}
		return err
	}
	return nil
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := readConfigFile(v, configDir, "credentials", credentialsTemplate, 0600); err != nil {
		return err
	}
	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Credentials.Telegram.BotToken = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Credentials.Gemini.APIKey = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Credentials.SMTP.Password = v
	}
	if v := os.Getenv("NSE_ALERTS_RULES_SOURCE"); v != "" {
		cfg.Routing.Source = v
	}
	if v := os.Getenv("NSE_ALERTS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

// resolve fills paths left empty relative to DataDir and copies secrets
// into the sections that use them.
func (c *Config) resolve() {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.dir, "data")
	}
	under := func(p *string, rel string) {
		if *p == "" {
			*p = filepath.Join(c.DataDir, rel)
		}
	}
	under(&c.Ledger.Path, "announcements.csv")
	under(&c.Ledger.WatchlistPath, "watchlist.csv")
	under(&c.Dashboard.DBPath, "messages.db")
	under(&c.Retention.FilesDir, "files")
	under(&c.Enrich.RenderDir, filepath.Join("files", "pdf"))

	c.Notifications.Telegram.BotToken = c.Credentials.Telegram.BotToken
	c.Notifications.Email.Password = c.Credentials.SMTP.Password
}

// Validate validates the configuration and reports every problem found.
func (c *Config) Validate() error {
	var err error

	positive := func(field string, d time.Duration) {
		if d <= 0 {
			err = multierr.Append(err, apperrors.NewValidationError(field, d, "must be greater than 0"))
		}
	}
	positive("poll.interval", c.Poll.Interval)
	positive("poll.cooldown", c.Poll.Cooldown)
	positive("poll.call_timeout", c.Poll.CallTimeout)
	positive("poll.drain_timeout", c.Poll.DrainTimeout)
	positive("feed.fetch_budget", c.Feed.FetchBudget)

	if c.Poll.Workers < 1 {
		err = multierr.Append(err, apperrors.NewValidationError("poll.workers", c.Poll.Workers, "must be at least 1"))
	}

	switch strings.ToLower(c.Enrich.Analyzer) {
	case "openai", "gemini", "none", "":
	default:
		err = multierr.Append(err, apperrors.NewValidationError("enrich.analyzer", c.Enrich.Analyzer, "must be openai, gemini or none"))
	}

	if strings.TrimSpace(c.Routing.Source) == "" {
		err = multierr.Append(err, apperrors.NewValidationError("routing.source", c.Routing.Source, "must be set"))
	}

	if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.BotToken == "" {
		err = multierr.Append(err, apperrors.NewValidationError("telegram.bot_token", "", "required when notifications.telegram is enabled"))
	}
	if c.Notifications.Email.Enabled && (c.Notifications.Email.SMTPHost == "" || c.Notifications.Email.From == "") {
		err = multierr.Append(err, apperrors.NewValidationError("notifications.email", c.Notifications.Email.SMTPHost, "smtp_host and from are required"))
	}
	if c.Notifications.RateLimit.PerSecond <= 0 || c.Notifications.RateLimit.Burst < 1 {
		err = multierr.Append(err, apperrors.NewValidationError("notifications.rate_limit", c.Notifications.RateLimit.PerSecond, "per_second and burst must be positive"))
	}

	return err
}

// Dir returns the directory the configuration was loaded from.
func (c *Config) Dir() string {
	return c.dir
}

// ConfigPath returns the path of config.toml.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.dir, "config.toml")
}

// CredentialsPath returns the path of credentials.toml.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.dir, "credentials.toml")
}

// Settings returns the flattened effective settings, secrets included.
// Callers displaying them should mask them first.
func (c *Config) Settings() map[string]interface{} {
	out := make(map[string]interface{})
	flatten("", c.settings, out)
	out["data_dir"] = c.DataDir
	out["ledger.path"] = c.Ledger.Path
	out["ledger.watchlist_path"] = c.Ledger.WatchlistPath
	out["routing.source"] = c.Routing.Source
	out["dashboard.db_path"] = c.Dashboard.DBPath
	out["enrich.render_dir"] = c.Enrich.RenderDir
	out["credentials.telegram.bot_token"] = c.Credentials.Telegram.BotToken
	out["credentials.openai.api_key"] = c.Credentials.OpenAI.APIKey
	out["credentials.gemini.api_key"] = c.Credentials.Gemini.APIKey
	out["credentials.smtp.password"] = c.Credentials.SMTP.Password
	return out
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]interface{}); ok {
			flatten(key, m, out)
			continue
		}
		out[key] = v
	}
}
