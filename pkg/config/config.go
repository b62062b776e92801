package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
)

// Config is the complete service configuration, read from the environment.
type Config struct {
	LogFormat string `env:"LOG_FORMAT" env-default:"text" env-description:"text or json"`
	LogLevel  string `env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`

	Browser   BrowserConfig
	Flow      FlowConfig
	Challenge ChallengeConfig
	Vault     VaultConfig
	Database  DatabaseConfig
	Jobs      JobsConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig

	// Server
	AppConfig app.AppConfig
}

// BrowserConfig controls the headless Chrome instances.
type BrowserConfig struct {
	ExecPath       string        `env:"BROWSER_EXEC_PATH" env-default:"" env-description:"Chrome binary; empty finds one on PATH"`
	Headless       bool          `env:"BROWSER_HEADLESS" env-default:"true"`
	UserAgent      string        `env:"BROWSER_USER_AGENT" env-default:"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	ViewportWidth  int           `env:"BROWSER_VIEWPORT_WIDTH" env-default:"1920"`
	ViewportHeight int           `env:"BROWSER_VIEWPORT_HEIGHT" env-default:"1080"`
	LaunchTimeout  time.Duration `env:"BROWSER_LAUNCH_TIMEOUT" env-default:"30s"`
}

// FlowConfig bounds every wait of a login flow.
type FlowConfig struct {
	NavigationTimeout     time.Duration `env:"FLOW_NAVIGATION_TIMEOUT" env-default:"30s"`
	NavigationRetries     int           `env:"FLOW_NAVIGATION_RETRIES" env-default:"2"`
	ElementTimeout        time.Duration `env:"FLOW_ELEMENT_TIMEOUT" env-default:"15s"`
	OutcomeTimeout        time.Duration `env:"FLOW_OUTCOME_TIMEOUT" env-default:"30s"`
	TwoFactorProbeTimeout time.Duration `env:"FLOW_TWO_FACTOR_PROBE_TIMEOUT" env-default:"5s"`
	PollInterval          time.Duration `env:"FLOW_POLL_INTERVAL" env-default:"250ms"`
	KeystrokeDelay        time.Duration `env:"FLOW_KEYSTROKE_DELAY" env-default:"100ms"`
	KeystrokeJitter       time.Duration `env:"FLOW_KEYSTROKE_JITTER" env-default:"40ms"`
}

// ChallengeConfig controls pending two-factor challenges.
type ChallengeConfig struct {
	TTL           time.Duration `env:"CHALLENGE_TTL" env-default:"5m"`
	MaxPending    int           `env:"CHALLENGE_MAX_PENDING" env-default:"20" env-description:"0 disables the cap"`
	SweepInterval time.Duration `env:"CHALLENGE_SWEEP_INTERVAL" env-default:"30s"`
}

// minEncryptionKeyLength matches vault.MinKeyLength.
const minEncryptionKeyLength = 16

type VaultConfig struct {
	Backend       string `env:"VAULT_BACKEND" env-default:"memory" env-description:"memory or postgres"`
	EncryptionKey string `env:"VAULT_ENCRYPTION_KEY" env-default:"" env-description:"seals stored sessions when set"`
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host     string `env:"PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"PG_PORT" env-default:"5432"`
	Database string `env:"PG_DATABASE" env-default:"platformauth"`
	User     string `env:"PG_USER" env-default:"platformauth"`
	Password string `env:"PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

// ToDbConfig converts the config to a db-utils DbConfig. It carries no
// schema; use ToDatabaseURL for a non-default search path.
func (d DatabaseConfig) ToDbConfig() dbutils.DbConfig {
	return dbutils.DbConfig{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
	}
}

type JobsConfig struct {
	Backend     string `env:"JOBS_BACKEND" env-default:"memory" env-description:"memory or redis"`
	QueuePrefix string `env:"JOBS_QUEUE_PREFIX" env-default:"platformauth:jobs"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// RateLimitConfig throttles initiate-auth per (artist, platform).
type RateLimitConfig struct {
	Capacity  int           `env:"RATE_LIMIT_CAPACITY" env-default:"5"`
	PerMinute float64       `env:"RATE_LIMIT_PER_MINUTE" env-default:"5"`
	BucketTTL time.Duration `env:"RATE_LIMIT_BUCKET_TTL" env-default:"1h"`
}

// Load reads the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError is one rejected setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors lists every rejected setting of one Validate call.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var b strings.Builder
	b.WriteString("configuration validation failed:")
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// checker collects rejected settings so Validate reports all of them at once.
type checker struct {
	errs ValidationErrors
}

func (c *checker) fail(field, format string, args ...any) {
	c.errs = append(c.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) required(field, value string) {
	if value == "" {
		c.fail(field, "is required")
	}
}

func (c *checker) oneOf(field, value string, allowed ...string) {
	if !slices.Contains(allowed, value) {
		c.fail(field, "must be one of %v, got %q", allowed, value)
	}
}

func (c *checker) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}

func positive[T int | uint16 | float64 | time.Duration](c *checker, field string, value T) {
	if value <= 0 {
		c.fail(field, "must be positive, got %v", value)
	}
}

func nonNegative[T int | time.Duration](c *checker, field string, value T) {
	if value < 0 {
		c.fail(field, "must be non-negative, got %v", value)
	}
}

// Validate checks the values cleanenv cannot.
func (c Config) Validate() error {
	var v checker
	v.oneOf("LOG_FORMAT", c.LogFormat, "text", "json")
	v.oneOf("LOG_LEVEL", strings.ToLower(c.LogLevel), "debug", "info", "warn", "error")
	c.Browser.check(&v)
	c.Flow.check(&v)
	c.Challenge.check(&v)
	c.checkBackends(&v)
	c.RateLimit.check(&v)
	return v.err()
}

func (b BrowserConfig) check(v *checker) {
	v.required("BROWSER_USER_AGENT", b.UserAgent)
	positive(v, "BROWSER_VIEWPORT_WIDTH", b.ViewportWidth)
	positive(v, "BROWSER_VIEWPORT_HEIGHT", b.ViewportHeight)
	positive(v, "BROWSER_LAUNCH_TIMEOUT", b.LaunchTimeout)
}

func (f FlowConfig) check(v *checker) {
	positive(v, "FLOW_NAVIGATION_TIMEOUT", f.NavigationTimeout)
	nonNegative(v, "FLOW_NAVIGATION_RETRIES", f.NavigationRetries)
	positive(v, "FLOW_ELEMENT_TIMEOUT", f.ElementTimeout)
	positive(v, "FLOW_OUTCOME_TIMEOUT", f.OutcomeTimeout)
	positive(v, "FLOW_TWO_FACTOR_PROBE_TIMEOUT", f.TwoFactorProbeTimeout)
	positive(v, "FLOW_POLL_INTERVAL", f.PollInterval)
	positive(v, "FLOW_KEYSTROKE_DELAY", f.KeystrokeDelay)
	nonNegative(v, "FLOW_KEYSTROKE_JITTER", f.KeystrokeJitter)
	if f.KeystrokeDelay > 0 && f.KeystrokeJitter > f.KeystrokeDelay {
		v.fail("FLOW_KEYSTROKE_JITTER", "must not exceed FLOW_KEYSTROKE_DELAY (%v), got %v", f.KeystrokeDelay, f.KeystrokeJitter)
	}
}

func (c ChallengeConfig) check(v *checker) {
	positive(v, "CHALLENGE_TTL", c.TTL)
	nonNegative(v, "CHALLENGE_MAX_PENDING", c.MaxPending)
	nonNegative(v, "CHALLENGE_SWEEP_INTERVAL", c.SweepInterval)
}

func (c Config) checkBackends(v *checker) {
	v.oneOf("VAULT_BACKEND", c.Vault.Backend, "memory", "postgres")
	v.oneOf("JOBS_BACKEND", c.Jobs.Backend, "memory", "redis")
	if key := c.Vault.EncryptionKey; key != "" && len(key) < minEncryptionKeyLength {
		v.fail("VAULT_ENCRYPTION_KEY", "must be at least %d characters, got %d", minEncryptionKeyLength, len(key))
	}

	if c.Vault.Backend == "postgres" {
		v.required("PG_HOST", c.Database.Host)
		positive(v, "PG_PORT", c.Database.Port)
		v.required("PG_DATABASE", c.Database.Database)
		v.required("PG_USER", c.Database.User)
	}
	if c.Jobs.Backend == "redis" {
		v.required("REDIS_ADDR", c.Redis.Addr)
		nonNegative(v, "REDIS_DB", c.Redis.DB)
		v.required("JOBS_QUEUE_PREFIX", c.Jobs.QueuePrefix)
	}
}

func (r RateLimitConfig) check(v *checker) {
	positive(v, "RATE_LIMIT_CAPACITY", r.Capacity)
	positive(v, "RATE_LIMIT_PER_MINUTE", r.PerMinute)
	nonNegative(v, "RATE_LIMIT_BUCKET_TTL", r.BucketTTL)
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SetupLogger installs the default slog logger.
func (c Config) SetupLogger() {
	opts := &slog.HandlerOptions{AddSource: true, Level: c.SlogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// LoadEnvFile loads environment variables from a .env file next to the
// executable or in the working directory, if one exists.
func LoadEnvFile() {
	envFile := ""
	if execPath, err := os.Executable(); err == nil {
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
	}

	if _, err := os.Stat(envFile); envFile == "" || os.IsNotExist(err) {
		cwd, _ := os.Getwd()
		envFile = filepath.Join(cwd, ".env")
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		slog.Debug("No .env file found (using environment variables or defaults)")
		return
	}

	slog.Info("Loading configuration from .env file", "path", envFile)
	if err := godotenv.Load(envFile); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}
}
