package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	HTTPPort    int    `json:"http_port" yaml:"http_port" validate:"gte=0" env:"HTTP_PORT"`
	MetricsPort int    `json:"metrics_port" yaml:"metrics_port" validate:"gte=0" env:"METRICS_PORT"`
	LogLevel    string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error" env:"LOG_LEVEL"`
	LogFile     string `json:"log_file" yaml:"log_file" env:"LOG_FILE"`

	// OrgUTCOffset is the organisation's fixed offset from UTC. All calendar
	// days (today, streak gaps, birthdays) are computed in this offset.
	OrgUTCOffset Duration `json:"org_utc_offset" yaml:"org_utc_offset" validate:"min=-12h,max=14h" env:"ORG_UTC_OFFSET"`

	Database struct {
		Driver       string   `json:"driver" yaml:"driver" validate:"oneof=sqlite3 postgres" env:"DB_DRIVER"`
		DSN          string   `json:"dsn" yaml:"dsn" validate:"required" env:"DB_DSN"`
		MaxOpenConns int      `json:"max_open_conns" yaml:"max_open_conns" validate:"min=1" env:"DB_MAX_OPEN_CONNS"`
		MaxIdleConns int      `json:"max_idle_conns" yaml:"max_idle_conns" validate:"min=0" env:"DB_MAX_IDLE_CONNS"`
		ConnMaxLife  Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" validate:"min=0s" env:"DB_CONN_MAX_LIFETIME"`
		Timeout      Duration `json:"timeout" yaml:"timeout" validate:"required,min=100ms" env:"DB_TIMEOUT"`
	} `json:"database" yaml:"database"`

	Redis struct {
		Enabled  bool     `json:"enabled" yaml:"enabled" env:"REDIS_ENABLED"`
		Addr     string   `json:"addr" yaml:"addr" validate:"required_if=Enabled true" env:"REDIS_ADDR"`
		Password string   `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
		DB       int      `json:"db" yaml:"db" validate:"gte=0" env:"REDIS_DB"`
		Timeout  Duration `json:"timeout" yaml:"timeout" validate:"required,min=10ms" env:"REDIS_TIMEOUT"`
		LogsTTL  Duration `json:"logs_ttl" yaml:"logs_ttl" validate:"required,min=1s" env:"REDIS_LOGS_TTL"`
		UserTTL  Duration `json:"user_ttl" yaml:"user_ttl" validate:"required,min=1s" env:"REDIS_USER_TTL"`
	} `json:"redis" yaml:"redis"`

	Auth struct {
		JWTSecret string   `json:"jwt_secret" yaml:"jwt_secret" validate:"required,min=16" env:"JWT_SECRET"`
		TokenTTL  Duration `json:"token_ttl" yaml:"token_ttl" validate:"required,min=1m" env:"JWT_TOKEN_TTL"`
		// LoginRatePerMinute bounds register/login attempts per client IP.
		LoginRatePerMinute int `json:"login_rate_per_minute" yaml:"login_rate_per_minute" validate:"min=1" env:"AUTH_LOGIN_RATE_PER_MINUTE"`
	} `json:"auth" yaml:"auth"`

	Feedback struct {
		APIKey  string   `json:"api_key" yaml:"api_key" env:"OPENAI_API_KEY"`
		Model   string   `json:"model" yaml:"model" validate:"required" env:"OPENAI_MODEL"`
		BaseURL string   `json:"base_url" yaml:"base_url" validate:"omitempty,url" env:"OPENAI_BASE_URL"`
		Timeout Duration `json:"timeout" yaml:"timeout" validate:"required,min=1s" env:"FEEDBACK_TIMEOUT"`
	} `json:"feedback" yaml:"feedback"`

	Telegram struct {
		BotToken string `json:"bot_token" yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
		// APIEndpoint overrides the Bot API endpoint format, mainly for local test servers.
		APIEndpoint   string   `json:"api_endpoint" yaml:"api_endpoint" env:"TELEGRAM_API_ENDPOINT"`
		Timeout       Duration `json:"timeout" yaml:"timeout" validate:"required,min=1s" env:"TELEGRAM_TIMEOUT"`
		RatePerSecond float64  `json:"rate_per_second" yaml:"rate_per_second" validate:"gt=0" env:"TELEGRAM_RATE_PER_SECOND"`
	} `json:"telegram" yaml:"telegram"`

	Scheduler struct {
		Enabled       bool   `json:"enabled" yaml:"enabled" env:"SCHEDULER_ENABLED"`
		LoginResetAt  string `json:"login_reset_at" yaml:"login_reset_at" validate:"clock" env:"SCHEDULER_LOGIN_RESET_AT"`
		ReminderAt    string `json:"reminder_at" yaml:"reminder_at" validate:"clock" env:"SCHEDULER_REMINDER_AT"`
		BirthdayAt    string `json:"birthday_at" yaml:"birthday_at" validate:"clock" env:"SCHEDULER_BIRTHDAY_AT"`
		InactiveAfter int    `json:"inactive_after_days" yaml:"inactive_after_days" validate:"min=1" env:"SCHEDULER_INACTIVE_AFTER_DAYS"`

		// TelegramLogRetention is how long sent-message audit rows are kept; zero keeps them forever.
		TelegramLogRetention Duration `json:"telegram_log_retention" yaml:"telegram_log_retention" validate:"min=0s" env:"SCHEDULER_TELEGRAM_LOG_RETENTION"`
	} `json:"scheduler" yaml:"scheduler"`

	Worker struct {
		Count      int      `json:"count" yaml:"count" validate:"min=1" env:"WORKER_COUNT"`
		QueueSize  int      `json:"queue_size" yaml:"queue_size" validate:"min=1" env:"WORKER_QUEUE_SIZE"`
		MaxRetries int      `json:"max_retries" yaml:"max_retries" validate:"min=0" env:"WORKER_MAX_RETRIES"`
		RetryDelay Duration `json:"retry_delay" yaml:"retry_delay" validate:"min=0s" env:"WORKER_RETRY_DELAY"`
	} `json:"worker" yaml:"worker"`
}

// Default returns a configuration that runs locally against a sqlite file
// with the in-process cache.
func Default() *Config {
	cfg := &Config{
		HTTPPort:     8080,
		MetricsPort:  9090,
		LogLevel:     "info",
		OrgUTCOffset: Duration{7 * time.Hour},
	}

	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = "moodjournal.db"
	cfg.Database.MaxOpenConns = 10
	cfg.Database.MaxIdleConns = 5
	cfg.Database.ConnMaxLife = Duration{time.Hour}
	cfg.Database.Timeout = Duration{5 * time.Second}

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Timeout = Duration{500 * time.Millisecond}
	cfg.Redis.LogsTTL = Duration{1800 * time.Second}
	cfg.Redis.UserTTL = Duration{3600 * time.Second}

	cfg.Auth.TokenTTL = Duration{24 * time.Hour}
	cfg.Auth.LoginRatePerMinute = 20

	cfg.Feedback.Model = "gpt-4o-mini"
	cfg.Feedback.Timeout = Duration{20 * time.Second}

	cfg.Telegram.Timeout = Duration{10 * time.Second}
	cfg.Telegram.RatePerSecond = 25

	cfg.Scheduler.Enabled = true
	cfg.Scheduler.LoginResetAt = "00:00"
	cfg.Scheduler.ReminderAt = "19:00"
	cfg.Scheduler.BirthdayAt = "08:00"
	cfg.Scheduler.InactiveAfter = 1
	cfg.Scheduler.TelegramLogRetention = Duration{90 * 24 * time.Hour}

	cfg.Worker.Count = 4
	cfg.Worker.QueueSize = 256
	cfg.Worker.MaxRetries = 2
	cfg.Worker.RetryDelay = Duration{time.Second}

	return cfg
}

// Duration is a wrapper around time.Duration that can be read from JSON, YAML
// and environment variables.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		return d.Decode(value)
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.Decode(node.Value)
}

// Decode implements envdecode.Decoder
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	d.Duration = parsed
	return nil
}

// Load builds the configuration from defaults, an optional JSON or YAML file
// and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides overrides config fields declared with an env tag.
func (c *Config) applyEnvOverrides() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return err
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.RegisterValidation("clock", validateClock); err != nil {
		return fmt.Errorf("registering clock validation: %w", err)
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

func validateClock(fl validator.FieldLevel) bool {
	_, _, err := ParseClock(fl.Field().String())
	return err == nil
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(s string) (hour, minute uint, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}
