// Package config loads the service configuration: a YAML file checked
// against an embedded CUE schema, then environment overrides.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/service"
	"github.com/roach88/flowguard/internal/stuck"
)

//go:embed schema.cue
var schemaSource string

// Environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config is the full service configuration.
type Config struct {
	Environment     string           `yaml:"environment"`
	DatabasePath    string           `yaml:"database_path"`
	Listen          string           `yaml:"listen"`
	Enforcement     integrity.Level  `yaml:"enforcement"`
	WebhookSecret   string           `yaml:"webhook_secret"`
	AdminSigningKey string           `yaml:"admin_signing_key"`
	Policy          service.Policy   `yaml:"policy"`
	StuckThresholds stuck.Thresholds `yaml:"stuck_thresholds"`
	Jobs            Jobs             `yaml:"jobs"`
}

// Jobs holds batch job intervals.
type Jobs struct {
	NoShowInterval    time.Duration `yaml:"no_show_interval"`
	StuckInterval     time.Duration `yaml:"stuck_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// Default returns a development configuration.
func Default() Config {
	return Config{
		Environment:     EnvDevelopment,
		DatabasePath:    "flowguard.db",
		Listen:          ":8080",
		Enforcement:     integrity.LevelStrict,
		Policy:          service.DefaultPolicy(),
		StuckThresholds: stuck.DefaultThresholds(),
		Jobs: Jobs{
			NoShowInterval:    time.Minute,
			StuckInterval:     5 * time.Minute,
			ReconcileInterval: 15 * time.Minute,
		},
	}
}

// Production reports whether the service runs in production.
func (c Config) Production() bool { return c.Environment == EnvProduction }

// Load reads the YAML file at path (if non-empty) over the defaults, then
// applies overrides from envFile (if it exists) and the process
// environment. The process environment wins over envFile.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	fileEnv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileEnv = m
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown fields are rejected and the
// document must satisfy the embedded schema.
func Parse(data []byte) (Config, error) {
	if err := checkSchema(data); err != nil {
		return Config{}, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

func checkSchema(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		return nil
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}

// Environment variables read by applyEnv.
const (
	EnvKeyEnvironment     = "FLOWGUARD_ENV"
	EnvKeyDatabase        = "FLOWGUARD_DATABASE"
	EnvKeyListen          = "FLOWGUARD_LISTEN"
	EnvKeyEnforcement     = "FLOWGUARD_ENFORCEMENT"
	EnvKeyWebhookSecret   = "FLOWGUARD_WEBHOOK_SECRET"
	EnvKeyAdminSigningKey = "FLOWGUARD_ADMIN_SIGNING_KEY"
	EnvKeyAutoRefundLimit = "FLOWGUARD_AUTO_REFUND_LIMIT"
)

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvKeyEnvironment, &c.Environment},
		{EnvKeyDatabase, &c.DatabasePath},
		{EnvKeyListen, &c.Listen},
		{EnvKeyWebhookSecret, &c.WebhookSecret},
		{EnvKeyAdminSigningKey, &c.AdminSigningKey},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}
	if v, ok := lookup(EnvKeyEnforcement); ok && v != "" {
		lvl, err := integrity.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvKeyEnforcement, err)
		}
		c.Enforcement = lvl
	}
	if v, ok := lookup(EnvKeyAutoRefundLimit); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvKeyAutoRefundLimit, err)
		}
		c.Policy.AutoRefundLimit = n
	}
	return nil
}

// Validate checks cross-field rules the schema cannot express.
func (c Config) Validate() error {
	if !slices.Contains([]string{EnvDevelopment, EnvStaging, EnvProduction}, c.Environment) {
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if _, err := integrity.ParseLevel(string(c.Enforcement)); err != nil {
		return err
	}
	if c.Production() {
		if c.WebhookSecret == "" {
			return errors.New("production requires a webhook secret")
		}
		if c.AdminSigningKey == "" {
			return errors.New("production requires an admin signing key")
		}
	}
	tiers := c.Policy.CancellationTiers
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinNotice >= tiers[i-1].MinNotice {
			return fmt.Errorf("cancellation tiers must be sorted by notice, longest first")
		}
	}
	if c.Policy.GatewayTimeout <= 0 {
		return errors.New("gateway timeout must be positive")
	}
	return nil
}
