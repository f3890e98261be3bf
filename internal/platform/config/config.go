// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Server captures all process-level configuration.
type Server struct {
	Environment string `env:"APP_ENV" default:"development"`
	Addr        string `env:"INTAKE_ADDR" default:":8080"`
	LoginPath   string `env:"LOGIN_PATH" default:"/login"`

	Log      LogConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Auth     AuthConfig
	Guard    GuardConfig
	Draft    DraftConfig
	OCR      OCRConfig
	Audit    AuditConfig
}

type LogConfig struct {
	Level      string `env:"LOG_LEVEL" default:"info"`
	Format     string `env:"LOG_FORMAT" default:"text"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" default:"30"`
}

// RedisConfig is optional; an empty URL keeps every store in memory.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// PostgresConfig is optional; an empty URL keeps drafts and customers in memory.
type PostgresConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" default:"30m"`
}

type AuthConfig struct {
	JWTSigningKey  string        `env:"JWT_SIGNING_KEY" default:"dev-secret-key-change-in-production"`
	JWTIssuer      string        `env:"JWT_ISSUER" default:"intake"`
	TokenTTL       time.Duration `env:"AUTH_TOKEN_TTL" default:"8h"`
	CookieName     string        `env:"AUTH_COOKIE_NAME" default:"intake_session"`
	CookieSecure   bool          `env:"AUTH_COOKIE_SECURE" default:"false"`
	LoginPerMinute int           `env:"AUTH_LOGIN_PER_MINUTE" default:"60"`
	LoginBurst     int           `env:"AUTH_LOGIN_BURST" default:"10"`
	SeedAgentEmail string        `env:"SEED_AGENT_EMAIL"`
	SeedAgentPass  string        `env:"SEED_AGENT_PASSWORD"`
	SeedAgentName  string        `env:"SEED_AGENT_NAME" default:"Agent"`
}

type GuardConfig struct {
	InactivityTimeout   time.Duration `env:"GUARD_INACTIVITY_TIMEOUT" default:"15m"`
	WarningDuration     time.Duration `env:"GUARD_WARNING_DURATION" default:"60s"`
	OfflineTimeout      time.Duration `env:"GUARD_OFFLINE_TIMEOUT" default:"2m"`
	HeartbeatTimeout    time.Duration `env:"GUARD_HEARTBEAT_TIMEOUT" default:"45s"`
	ScrollDebounce      time.Duration `env:"GUARD_SCROLL_DEBOUNCE" default:"1s"`
	MaxActionsPerMinute int           `env:"GUARD_MAX_ACTIONS_PER_MINUTE" default:"100"`
	BusinessHoursStart  string        `env:"GUARD_BUSINESS_HOURS_START" default:"08:00"`
	BusinessHoursEnd    string        `env:"GUARD_BUSINESS_HOURS_END" default:"18:00"`
	BusinessDays        string        `env:"GUARD_BUSINESS_DAYS" default:"mon,tue,wed,thu,fri"`
	Timezone            string        `env:"GUARD_TIMEZONE" default:"America/Sao_Paulo"`
	EnforceHours        bool          `env:"GUARD_ENFORCE_BUSINESS_HOURS" default:"true"`
}

type DraftConfig struct {
	Debounce   time.Duration `env:"DRAFT_DEBOUNCE" default:"2500ms"`
	StaleAfter time.Duration `env:"DRAFT_STALE_AFTER" default:"24h"`
	TTL        time.Duration `env:"DRAFT_TTL" default:"168h"`
}

type OCRConfig struct {
	WebhookURL       string        `env:"OCR_WEBHOOK_URL"`
	Timeout          time.Duration `env:"OCR_TIMEOUT" default:"30s"`
	MaxRetries       int           `env:"OCR_MAX_RETRIES" default:"3"`
	RetryStrategy    string        `env:"OCR_RETRY_STRATEGY" default:"exponential_backoff"`
	RetryBaseDelay   time.Duration `env:"OCR_RETRY_BASE_DELAY" default:"2s"`
	RetryMaxDelay    time.Duration `env:"OCR_RETRY_MAX_DELAY" default:"30s"`
	BreakerFailures  int           `env:"OCR_BREAKER_FAILURES" default:"5"`
	BreakerCooldown  time.Duration `env:"OCR_BREAKER_COOLDOWN" default:"30s"`
	MaxDocumentBytes int           `env:"OCR_MAX_DOCUMENT_BYTES" default:"10485760"`
	PerMinute        int           `env:"OCR_PER_MINUTE" default:"30"`
	BatchConcurrency int           `env:"OCR_BATCH_CONCURRENCY" default:"2"`
}

type AuditConfig struct {
	BufferSize   int      `env:"AUDIT_BUFFER_SIZE" default:"1024"`
	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_AUDIT_TOPIC" default:"intake.audit"`
}

const (
	minDraftDebounce = 2000 * time.Millisecond
	maxDraftDebounce = 3000 * time.Millisecond
	minJWTKeyLength  = 32
)

// IsDevelopment reports whether relaxed checks apply.
func (s Server) IsDevelopment() bool {
	return s.Environment == "development" || s.Environment == "test"
}

// Load reads an optional .env file and then the process environment.
func Load() (*Server, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}
	return LoadFrom(nil)
}

// LoadFrom reads configuration from source, or the process environment when nil.
func LoadFrom(source map[string]string) (*Server, error) {
	opts := &env.Options{SliceSep: ","}
	if source != nil {
		opts.Source = env.Map(source)
	}
	var cfg Server
	if err := env.Load(&cfg, opts); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces ranges that the zero-config defaults already satisfy.
func (s Server) Validate() error {
	var errs []error

	if s.Draft.Debounce < minDraftDebounce || s.Draft.Debounce > maxDraftDebounce {
		errs = append(errs, fmt.Errorf("DRAFT_DEBOUNCE must be between %s and %s", minDraftDebounce, maxDraftDebounce))
	}
	if s.Draft.StaleAfter <= 0 {
		errs = append(errs, errors.New("DRAFT_STALE_AFTER must be positive"))
	}
	if s.Guard.InactivityTimeout <= 0 || s.Guard.WarningDuration <= 0 || s.Guard.OfflineTimeout <= 0 {
		errs = append(errs, errors.New("guard timeouts must be positive"))
	}
	if s.Guard.MaxActionsPerMinute <= 0 {
		errs = append(errs, errors.New("GUARD_MAX_ACTIONS_PER_MINUTE must be positive"))
	}
	if s.OCR.MaxRetries < 0 || s.OCR.MaxRetries > 10 {
		errs = append(errs, errors.New("OCR_MAX_RETRIES must be between 0 and 10"))
	}
	switch s.OCR.RetryStrategy {
	case "exponential_backoff", "fixed_delay", "immediate":
	default:
		errs = append(errs, fmt.Errorf("OCR_RETRY_STRATEGY %q is not supported", s.OCR.RetryStrategy))
	}
	if !s.IsDevelopment() && len(s.Auth.JWTSigningKey) < minJWTKeyLength {
		errs = append(errs, fmt.Errorf("JWT_SIGNING_KEY must be at least %d characters outside development", minJWTKeyLength))
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not supported", s.Log.Format))
	}

	return errors.Join(errs...)
}
