package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	API        APIConfig        `mapstructure:"api"`
	Log        LogConfig        `mapstructure:"log"`
}

type TelegramConfig struct {
	Token       string `mapstructure:"token" validate:"required"`
	PollTimeout int    `mapstructure:"poll_timeout" validate:"gte=0"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required_unless=UseInMemory true"`
	UseInMemory     bool          `mapstructure:"use_in_memory"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type ClassifierConfig struct {
	APIKey           string        `mapstructure:"api_key" validate:"required"`
	Endpoint         string        `mapstructure:"endpoint" validate:"required,url"`
	Model            string        `mapstructure:"model" validate:"required"`
	MaxTokens        int           `mapstructure:"max_tokens" validate:"gt=0"`
	Temperature      float64       `mapstructure:"temperature" validate:"gte=0"`
	TopP             float64       `mapstructure:"top_p" validate:"gte=0,lte=1"`
	FrequencyPenalty float64       `mapstructure:"frequency_penalty"`
	PresencePenalty  float64       `mapstructure:"presence_penalty"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseBackoff      time.Duration `mapstructure:"base_backoff" validate:"gte=0"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

type DedupConfig struct {
	Backend   string        `mapstructure:"backend" validate:"oneof=memory redis"`
	RedisAddr string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// Environment variables recognised on top of the config file.
var envBindings = map[string]string{
	"database.url":        "DATABASE_URL",
	"classifier.api_key":  "NEUROCHAIN_API_KEY",
	"classifier.endpoint": "NEUROCHAIN_ENDPOINT",
	"telegram.token":      "TELEGRAM_API_KEY",
	"dedup.backend":       "DEDUP_BACKEND",
	"dedup.redis_addr":    "REDIS_ADDR",
	"api.enabled":         "API_ENABLED",
	"api.addr":            "API_ADDR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("classifier.endpoint", "https://ncmb.neurochain.io/tasks/message")
	v.SetDefault("classifier.model", "Mistral-7B-Instruct-v0.2-GPTQ")
	v.SetDefault("classifier.max_tokens", 1024)
	v.SetDefault("classifier.temperature", 0.6)
	v.SetDefault("classifier.top_p", 0.95)
	v.SetDefault("classifier.frequency_penalty", 0)
	v.SetDefault("classifier.presence_penalty", 1.1)
	v.SetDefault("classifier.max_attempts", 3)
	v.SetDefault("classifier.base_backoff", time.Second)
	v.SetDefault("classifier.request_timeout", 30*time.Second)
	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.key_prefix", "sentiment:seen:")
	v.SetDefault("dedup.ttl", 24*time.Hour)
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("log.development", false)
}

// LoadConfig reads path if it exists, applies environment overrides and
// validates the result. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make([]string, len(invalid))
			for i, fe := range invalid {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if !c.Database.UseInMemory {
		if err := checkDatabaseURL(c.Database.URL); err != nil {
			return err
		}
	}

	return nil
}

// checkDatabaseURL accepts postgres:// URLs and lib/pq key=value DSNs.
func checkDatabaseURL(dbURL string) error {
	if !strings.Contains(dbURL, "://") {
		if strings.Contains(dbURL, "=") {
			return nil
		}
		return fmt.Errorf("invalid DATABASE_URL: expected a postgres URL or key=value DSN")
	}

	u, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("invalid DATABASE_URL scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("invalid DATABASE_URL: missing host")
	}

	return nil
}
