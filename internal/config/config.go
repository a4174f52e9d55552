package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/tutorly/backend/internal/database"
	"github.com/tutorly/backend/internal/gamification"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// devJWTSecret signs tokens for the in-memory driver when JWT_SECRET is unset.
// Validate refuses it for any other driver.
const devJWTSecret = "tutorly-dev-signing-key-change-me"

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Logging      LoggingConfig      `yaml:"logging"`
	Gamification GamificationConfig `yaml:"gamification"`
	Notify       NotifyConfig       `yaml:"notify"`
	Coach        CoachConfig        `yaml:"coach"`
	Jobs         JobsConfig         `yaml:"jobs"`
}

type ServerConfig struct {
	Port            string        `yaml:"port" validate:"required,numeric"`
	AllowedOrigins  []string      `yaml:"allowed_origins" validate:"min=1"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver" validate:"oneof=postgres memory"`
	database.Config `yaml:",inline"`
}

type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret" validate:"required,min=16"`
	ServiceKeyHash string `yaml:"service_key_hash"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

type GamificationConfig struct {
	MaxStreakFreezes int                                   `yaml:"max_streak_freezes" validate:"gte=1"`
	RewardExpiryDays int                                   `yaml:"reward_expiry_days" validate:"gte=1"`
	Events           map[string]gamification.EventOverride `yaml:"events"`
}

type NotifyConfig struct {
	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	FromEmail      string `yaml:"from_email" validate:"required,email"`
	FromName       string `yaml:"from_name"`
}

type CoachConfig struct {
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	Model           string        `yaml:"model" validate:"required"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
}

type JobsConfig struct {
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" validate:"gte=1m"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence. A .env file in the working
// directory is loaded into the environment first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path := getEnv("CONFIG_FILE", "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if cfg.Auth.JWTSecret == "" && cfg.Database.Driver == DriverMemory {
		cfg.Auth.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverPostgres,
			Config: database.Config{
				Host:         "localhost",
				Port:         "5432",
				User:         "tutorly",
				Password:     "tutorly",
				Name:         "tutorly",
				SSLMode:      "disable",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Gamification: GamificationConfig{
			MaxStreakFreezes: 3,
			RewardExpiryDays: 30,
		},
		Notify: NotifyConfig{
			FromEmail: "no-reply@tutorly.app",
			FromName:  "Tutorly",
		},
		Coach: CoachConfig{
			Model:   "claude-sonnet-4-5",
			Timeout: 8 * time.Second,
		},
		Jobs: JobsConfig{
			MaintenanceInterval: time.Hour,
		},
	}
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.ServiceKeyHash, "SERVICE_KEY_HASH")

	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")

	setInt(&c.Gamification.MaxStreakFreezes, "MAX_STREAK_FREEZES")
	setInt(&c.Gamification.RewardExpiryDays, "REWARD_EXPIRY_DAYS")

	setString(&c.Notify.SendGridAPIKey, "SENDGRID_API_KEY")
	setString(&c.Notify.FromEmail, "NOTIFY_FROM_EMAIL")

	setString(&c.Coach.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&c.Coach.Model, "ANTHROPIC_MODEL")
}

// Validate checks struct tags and that event overrides name real events.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Auth.JWTSecret == devJWTSecret && c.Database.Driver != DriverMemory {
		return errors.New("jwt_secret: the development secret is only allowed with the memory driver")
	}
	if _, err := gamification.NewEventTable(c.Gamification.Events); err != nil {
		return err
	}
	return nil
}

// EventTable builds the engine's event values from the configured overrides.
func (c *Config) EventTable() (*gamification.EventTable, error) {
	return gamification.NewEventTable(c.Gamification.Events)
}

func (c *Config) RewardExpiry() time.Duration {
	return time.Duration(c.Gamification.RewardExpiryDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
