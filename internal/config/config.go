// Package config loads engine configuration from YAML.
//
// Risk thresholds and the approval expiry window are deployment
// decisions, so they live here rather than as code constants. Defaults
// apply field by field when the file omits a value.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Risk     RiskConfig     `yaml:"risk"`
	Approval ApprovalConfig `yaml:"approval"`
	Events   EventsConfig   `yaml:"events"`
}

// StoreConfig locates the record store.
type StoreConfig struct {
	// Path to the SQLite database file.
	Path string `yaml:"path"`
}

// RiskConfig feeds risk assessment.
type RiskConfig struct {
	// HighResourceThreshold is the affected-resource count above which
	// any operation is classified high risk.
	HighResourceThreshold int `yaml:"high_resource_threshold"`
}

// ApprovalConfig governs approval requests.
type ApprovalConfig struct {
	// TTL is how long an approval request stays decidable.
	// Zero disables expiry.
	TTL Duration `yaml:"ttl"`
}

// EventsConfig governs event delivery and retention.
type EventsConfig struct {
	// SubscriberBuffer is each subscriber's delivery buffer capacity.
	// Overflow drops the buffer and forces the subscriber to resync.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// Retention bounds how long delivered events are kept before
	// pruning. Zero keeps events forever.
	Retention Duration `yaml:"retention"`
}

// Duration is a time.Duration that decodes from YAML strings like "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "specmut.db"},
		Risk:  RiskConfig{HighResourceThreshold: 10},
		Approval: ApprovalConfig{
			TTL: Duration(24 * time.Hour),
		},
		Events: EventsConfig{
			SubscriberBuffer: 256,
			Retention:        Duration(7 * 24 * time.Hour),
		},
	}
}

// Load reads a YAML config file, layering it over the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, layering them over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path must not be empty")
	}
	if c.Risk.HighResourceThreshold < 1 {
		return fmt.Errorf("config: risk.high_resource_threshold must be at least 1")
	}
	if c.Approval.TTL < 0 {
		return fmt.Errorf("config: approval.ttl must not be negative")
	}
	if c.Events.SubscriberBuffer < 1 {
		return fmt.Errorf("config: events.subscriber_buffer must be at least 1")
	}
	if c.Events.Retention < 0 {
		return fmt.Errorf("config: events.retention must not be negative")
	}
	return nil
}
