// Package config loads refledger settings.
//
// Sources are applied in order: built-in defaults, an optional YAML file,
// then REFLEDGER_* environment variables. The result is checked against an
// embedded CUE schema before use.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/refledger/internal/money"
	"github.com/roach88/refledger/internal/referral"
	"github.com/roach88/refledger/internal/registry"
	"github.com/roach88/refledger/internal/retry"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "REFLEDGER_"

// DefaultDatabase is the store path used when nothing else is set.
const DefaultDatabase = "refledger.db"

//go:embed schema.cue
var schemaCUE []byte

// Config holds every tunable of the ledger core.
type Config struct {
	Database         string        `yaml:"database" env:"DB"`
	BotHandle        string        `yaml:"bot_handle" env:"BOT_HANDLE"`
	CommissionRate   string        `yaml:"commission_rate" env:"COMMISSION_RATE"`
	CodeLength       int           `yaml:"code_length" env:"CODE_LENGTH"`
	CodeAttempts     int           `yaml:"code_attempts" env:"CODE_ATTEMPTS"`
	PendingRetention time.Duration `yaml:"pending_retention" env:"PENDING_RETENTION"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:         DefaultDatabase,
		CommissionRate:   money.DefaultRate,
		CodeLength:       registry.DefaultCodeLength,
		CodeAttempts:     registry.DefaultCodeAttempts,
		PendingRetention: referral.DefaultRetention,
		RetryBackoff:     retry.DefaultBackoff,
	}
}

type loadOptions struct {
	environ map[string]string
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnvironment reads overrides from environ instead of the process
// environment.
func WithEnvironment(environ map[string]string) Option {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string, opts ...Option) (Config, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}

	envOpts := env.Options{Prefix: EnvPrefix}
	if o.environ != nil {
		envOpts.Environment = o.environ
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// schemaView is the shape checked by schema.cue.
type schemaView struct {
	Database                string `json:"database"`
	BotHandle               string `json:"bot_handle"`
	CommissionRate          string `json:"commission_rate"`
	CodeLength              int    `json:"code_length"`
	CodeAttempts            int    `json:"code_attempts"`
	PendingRetentionSeconds int64  `json:"pending_retention_seconds"`
	RetryBackoffMillis      int64  `json:"retry_backoff_ms"`
}

// Validate checks c against the embedded schema and parses the rate.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(schemaView{
		Database:                c.Database,
		BotHandle:               c.BotHandle,
		CommissionRate:          c.CommissionRate,
		CodeLength:              c.CodeLength,
		CodeAttempts:            c.CodeAttempts,
		PendingRetentionSeconds: int64(c.PendingRetention / time.Second),
		RetryBackoffMillis:      c.RetryBackoff.Milliseconds(),
	}))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := c.Rate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Rate parses the configured commission rate.
func (c Config) Rate() (money.Rate, error) {
	return money.ParseRate(c.CommissionRate)
}

// RetryPolicy returns the retry policy for store operations.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{Backoff: c.RetryBackoff}
}
