// Package config loads application settings from an optional YAML file and
// MEALPLANNER_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"family-meal-planner/internal/shared"
)

const (
	EnvPrefix         = "MEALPLANNER_"
	maxConfigFileSize = 1024 * 1024
)

// Config holds the configuration for the application.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Cloud    CloudConfig    `koanf:"cloud"`
	Auth     AuthConfig     `koanf:"auth"`
	Sync     SyncConfig     `koanf:"sync"`
	Log      LogConfig      `koanf:"log"`
	Gemini   GeminiConfig   `koanf:"gemini"`
	Groq     GroqConfig     `koanf:"groq"`
	Telegram TelegramConfig `koanf:"telegram"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type CloudConfig struct {
	RedisURL string `koanf:"redis_url"`
	Prefix   string `koanf:"prefix"`
}

type AuthConfig struct {
	TokenSecret string `koanf:"token_secret"`
	Issuer      string `koanf:"issuer"`
	// Token is the identity token of the user the CLI acts for.
	Token string `koanf:"token"`
}

type SyncConfig struct {
	Debounce             time.Duration `koanf:"debounce" validate:"gt=0"`
	MetricsRetentionDays int           `koanf:"metrics_retention_days" validate:"gte=1"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type GeminiConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
}

type GroqConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
}

type TelegramConfig struct {
	BotToken       string  `koanf:"bot_token"`
	WebhookURL     string  `koanf:"webhook_url"`
	AllowedUserIDs []int64 `koanf:"allowed_user_ids"`
	Port           int     `koanf:"port" validate:"gte=1,lte=65535"`
}

// Load reads the YAML file at path, when given, and then the environment.
// Environment variables win: MEALPLANNER_SYNC_DEBOUNCE sets sync.debounce.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s is larger than %d bytes", path, maxConfigFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps MEALPLANNER_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/meal-planner.db"
	}
	if cfg.Cloud.Prefix == "" {
		cfg.Cloud.Prefix = "mealplanner:"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "family-meal-planner"
	}
	if cfg.Sync.Debounce == 0 {
		cfg.Sync.Debounce = 2 * time.Second
	}
	if cfg.Sync.MetricsRetentionDays == 0 {
		cfg.Sync.MetricsRetentionDays = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-1.5-flash"
	}
	if cfg.Telegram.Port == 0 {
		cfg.Telegram.Port = 8080
	}
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	return shared.Validate(c)
}

// RequireCloud checks the settings needed to reach the cloud store.
func (c *Config) RequireCloud() error {
	var errs []error
	if c.Cloud.RedisURL == "" {
		errs = append(errs, errors.New("cloud.redis_url is not set"))
	}
	if len(c.Auth.TokenSecret) < 16 {
		errs = append(errs, errors.New("auth.token_secret must be at least 16 bytes"))
	}
	return errors.Join(errs...)
}

// RequireImporter checks that a language model is configured for recipe
// import. Gemini is preferred when both keys are set.
func (c *Config) RequireImporter() error {
	if c.Gemini.APIKey == "" && c.Groq.APIKey == "" {
		return errors.New("neither gemini.api_key nor groq.api_key is set")
	}
	return nil
}

// RequireTelegram checks the settings needed to run the bot.
func (c *Config) RequireTelegram() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("telegram.bot_token is not set"))
	}
	if c.Telegram.WebhookURL == "" {
		errs = append(errs, errors.New("telegram.webhook_url is not set"))
	}
	return errors.Join(errs...)
}

// AllowsTelegramUser reports whether a chat user may use the bot. An empty
// allow list admits everyone.
func (c *Config) AllowsTelegramUser(id int64) bool {
	if len(c.Telegram.AllowedUserIDs) == 0 {
		return true
	}
	for _, allowed := range c.Telegram.AllowedUserIDs {
		if allowed == id {
			return true
		}
	}
	return false
}
