// Package config holds the bearer-token verification configuration surface
// and its YAML loader.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("30s", "1h") or a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var seconds int64
	if err := node.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full configuration surface recognized by the verification
// subsystem.
type Config struct {
	// IssuerURL is the expected iss claim value, and the discovery base
	// when no key-set endpoint is configured.
	IssuerURL string `yaml:"issuer_url"`

	// Audience is the expected aud claim value.
	Audience string `yaml:"audience"`

	// AllowedRoles is the allow-list for the role claim.
	AllowedRoles []string `yaml:"allowed_roles"`

	// JWKSEndpoint is the provider's key-set URL. When empty it is
	// discovered from the issuer's well-known configuration.
	JWKSEndpoint string `yaml:"jwks_endpoint"`

	KeySetTTL      Duration `yaml:"key_set_ttl"`
	ResultCacheTTL Duration `yaml:"result_cache_ttl"`

	FetchRetryCount     int      `yaml:"fetch_retry_count"`
	FetchRetryBaseDelay Duration `yaml:"fetch_retry_base_delay"`

	ClockSkewLeeway         Duration `yaml:"clock_skew_leeway"`
	FutureIssuedAtTolerance Duration `yaml:"future_issued_at_tolerance"`
}

// Default returns a Config with every tunable at its default. Issuer,
// audience and roles have no defaults and must be provided.
func Default() Config {
	return Config{
		KeySetTTL:               Duration(time.Hour),
		ResultCacheTTL:          Duration(5 * time.Minute),
		FetchRetryCount:         3,
		FetchRetryBaseDelay:     Duration(200 * time.Millisecond),
		ClockSkewLeeway:         Duration(30 * time.Second),
		FutureIssuedAtTolerance: Duration(300 * time.Second),
	}
}

// Load reads a YAML config file, filling unset tunables with defaults and
// validating the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, fills defaults and validates.
func Parse(data []byte) (Config, error) {
	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.KeySetTTL == 0 {
		c.KeySetTTL = def.KeySetTTL
	}
	if c.ResultCacheTTL == 0 {
		c.ResultCacheTTL = def.ResultCacheTTL
	}
	if c.FetchRetryCount == 0 {
		c.FetchRetryCount = def.FetchRetryCount
	}
	if c.FetchRetryBaseDelay == 0 {
		c.FetchRetryBaseDelay = def.FetchRetryBaseDelay
	}
	if c.ClockSkewLeeway == 0 {
		c.ClockSkewLeeway = def.ClockSkewLeeway
	}
	if c.FutureIssuedAtTolerance == 0 {
		c.FutureIssuedAtTolerance = def.FutureIssuedAtTolerance
	}
}

// Validate checks the required fields and value ranges.
func (c Config) Validate() error {
	if c.IssuerURL == "" {
		return errors.New("issuer_url is required")
	}
	if c.Audience == "" {
		return errors.New("audience is required")
	}
	if len(c.AllowedRoles) == 0 {
		return errors.New("allowed_roles must list at least one role")
	}
	if c.FetchRetryCount < 1 {
		return errors.New("fetch_retry_count must be at least 1")
	}
	if c.KeySetTTL <= 0 {
		return errors.New("key_set_ttl must be positive")
	}
	if c.ResultCacheTTL <= 0 {
		return errors.New("result_cache_ttl must be positive")
	}
	if c.ClockSkewLeeway < 0 {
		return errors.New("clock_skew_leeway cannot be negative")
	}
	if c.FutureIssuedAtTolerance < 0 {
		return errors.New("future_issued_at_tolerance cannot be negative")
	}
	return nil
}
