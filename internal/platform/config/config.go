// Package config loads process configuration from CERTLEDGER_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"certledger/internal/certificate/models"
)

// Prefix is prepended to every variable, e.g. CERTLEDGER_SERVER_ADDR.
const Prefix = "CERTLEDGER"

type Config struct {
	LogLevel     string       `envconfig:"LOG_LEVEL" default:"info"`
	Server       Server       `envconfig:"SERVER"`
	Database     Database     `envconfig:"DATABASE"`
	Redis        RedisConfig  `envconfig:"REDIS"`
	Sequence     Sequence     `envconfig:"SEQUENCE"`
	Artifacts    Artifacts    `envconfig:"ARTIFACTS"`
	Kafka        Kafka        `envconfig:"KAFKA"`
	Certificates Certificates `envconfig:"CERTIFICATES"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	AdminToken      string        `envconfig:"ADMIN_TOKEN"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"2m"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// Database selects the relational store. An empty URL runs on in-memory stores.
type Database struct {
	URL          string `envconfig:"URL"`
	Driver       string `envconfig:"DRIVER" default:"postgres"`
	MaxOpenConns int    `envconfig:"MAX_OPEN_CONNS" default:"20"`
	Migrate      bool   `envconfig:"MIGRATE" default:"true"`
}

type RedisConfig struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// Sequence picks the serial allocator: memory, postgres or redis. Empty means
// postgres when a database is configured and memory otherwise.
type Sequence struct {
	Backend string `envconfig:"BACKEND"`
}

type Artifacts struct {
	Backend         string `envconfig:"BACKEND" default:"filesystem"`
	Dir             string `envconfig:"DIR" default:"./data/artifacts"`
	Bucket          string `envconfig:"BUCKET"`
	CredentialsFile string `envconfig:"CREDENTIALS_FILE"`
}

// Kafka configures the audit outbox relay. No brokers disables it.
type Kafka struct {
	Brokers       []string      `envconfig:"BROKERS"`
	Topic         string        `envconfig:"TOPIC" default:"certledger.audit"`
	RelayInterval time.Duration `envconfig:"RELAY_INTERVAL" default:"1s"`
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"100"`
}

type Certificates struct {
	Region            string            `envconfig:"REGION" default:"CG"`
	RolePrefixes      map[string]string `envconfig:"ROLE_PREFIXES" default:"user:YM,vendor:YV"`
	ExpiryCutoffMonth int               `envconfig:"EXPIRY_CUTOFF_MONTH" default:"3"`
	ExpiryCutoffDay   int               `envconfig:"EXPIRY_CUTOFF_DAY" default:"31"`
	RenderTimeout     time.Duration     `envconfig:"RENDER_TIMEOUT" default:"15s"`
	RenderLatency     time.Duration     `envconfig:"RENDER_LATENCY" default:"0s"`
	MaxAttempts       int               `envconfig:"MAX_ATTEMPTS" default:"3"`
	BreakerFailures   int               `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerCooldown   time.Duration     `envconfig:"BREAKER_COOLDOWN" default:"30s"`
}

// FromEnv builds and validates the configuration so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.AdminToken == "" {
		errs = append(errs, errors.New("CERTLEDGER_SERVER_ADMIN_TOKEN is required"))
	}
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	switch c.SequenceBackend() {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("postgres sequence backend needs CERTLEDGER_DATABASE_URL"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis sequence backend needs CERTLEDGER_REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported sequence backend %q", c.Sequence.Backend))
	}
	if len(c.Kafka.Brokers) > 0 && c.Database.URL == "" {
		errs = append(errs, errors.New("the audit relay reads the postgres outbox and needs CERTLEDGER_DATABASE_URL"))
	}
	if c.Certificates.MaxAttempts < 1 {
		errs = append(errs, errors.New("CERTLEDGER_CERTIFICATES_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Certificates.RenderTimeout <= 0 {
		errs = append(errs, errors.New("CERTLEDGER_CERTIFICATES_RENDER_TIMEOUT must be positive"))
	}
	if _, err := c.RolePolicy(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SequenceBackend resolves the allocator backend.
func (c Config) SequenceBackend() string {
	if c.Sequence.Backend != "" {
		return strings.ToLower(c.Sequence.Backend)
	}
	if c.Database.URL != "" {
		return "postgres"
	}
	return "memory"
}

// RolePolicy maps configured subject types to number prefixes.
func (c Config) RolePolicy() (models.RolePolicy, error) {
	policy := models.RolePolicy{
		Prefixes: make(map[models.SubjectType]string, len(c.Certificates.RolePrefixes)),
		Region:   strings.ToUpper(c.Certificates.Region),
	}
	for subjectType, prefix := range c.Certificates.RolePrefixes {
		st := models.SubjectType(strings.ToLower(strings.TrimSpace(subjectType)))
		if !st.IsValid() {
			return models.RolePolicy{}, fmt.Errorf("unknown subject type %q in role prefixes", subjectType)
		}
		policy.Prefixes[st] = strings.ToUpper(strings.TrimSpace(prefix))
	}
	for _, st := range []models.SubjectType{models.SubjectTypeUser, models.SubjectTypeVendor} {
		if policy.Prefixes[st] == "" {
			return models.RolePolicy{}, fmt.Errorf("no role prefix configured for %s", st)
		}
	}
	return policy, nil
}

func (c Config) ExpiryPolicy() models.ExpiryPolicy {
	return models.ExpiryPolicy{
		CutoffMonth: time.Month(c.Certificates.ExpiryCutoffMonth),
		CutoffDay:   c.Certificates.ExpiryCutoffDay,
	}
}
