// Package config loads and validates the declarative binding
// configuration consumed by the livebind binary: connection settings,
// binder-wide option defaults, and the per-property binding map.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/c360/livebind/binding"
	"github.com/c360/livebind/errors"
)

// Config is the root configuration document
type Config struct {
	NATS     NATSConfig      `json:"nats"`
	Defaults DefaultsConfig  `json:"defaults"`
	Metrics  MetricsConfig   `json:"metrics"`
	Gateway  GatewayConfig   `json:"gateway"`
	Bindings []BindingConfig `json:"bindings"`
}

// NATSConfig holds connection settings for the remote store
type NATSConfig struct {
	URL string `json:"url"`
}

// DefaultsConfig holds the binder-wide option defaults
type DefaultsConfig struct {
	Wait bool `json:"wait"`
	// Reset is a JSON bool or literal value; reset functions are code,
	// not configuration
	Reset any `json:"reset"`
}

// MetricsConfig holds the Prometheus scrape endpoint settings
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// GatewayConfig holds the debug gateway settings
type GatewayConfig struct {
	Addr string `json:"addr"`
}

// BindingConfig declares one bound property
type BindingConfig struct {
	// Key is the local property name
	Key string `json:"key"`
	// Bucket is the KV bucket holding the remote data
	Bucket string `json:"bucket"`
	// KVKey addresses a single remote value (mode "value")
	KVKey string `json:"kv_key,omitempty"`
	// Prefix addresses an ordered query (mode "list")
	Prefix string `json:"prefix,omitempty"`
	// Mode is "value" or "list"
	Mode string `json:"mode"`
	// Wait overrides the default wait behavior when set
	Wait *bool `json:"wait,omitempty"`
	// Reset overrides the default reset when set (JSON bool or literal)
	Reset any `json:"reset,omitempty"`
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read configuration file")
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "parse configuration file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for deployment
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "nats.url validation")
	}

	seen := make(map[string]bool, len(c.Bindings))
	for i, bc := range c.Bindings {
		if err := bc.validate(); err != nil {
			return errors.Wrap(err, "config", "Validate", fmt.Sprintf("bindings[%d] validation", i))
		}
		if seen[bc.Key] {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate binding key %q", bc.Key),
				"config", "Validate", "binding key uniqueness")
		}
		seen[bc.Key] = true
	}
	return nil
}

func (bc BindingConfig) validate() error {
	if bc.Key == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "BindingConfig", "validate", "key validation")
	}
	if bc.Bucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "BindingConfig", "validate", "bucket validation")
	}

	switch bc.Mode {
	case "value":
		if bc.KVKey == "" {
			return errors.WrapInvalid(
				fmt.Errorf("binding %q: value mode requires kv_key", bc.Key),
				"BindingConfig", "validate", "kv_key validation")
		}
	case "list":
		if bc.KVKey != "" {
			return errors.WrapInvalid(
				fmt.Errorf("binding %q: list mode takes a prefix, not kv_key", bc.Key),
				"BindingConfig", "validate", "prefix validation")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("binding %q: unknown mode %q", bc.Key, bc.Mode),
			"BindingConfig", "validate", "mode validation")
	}
	return nil
}

// BindingMode returns the binding.Mode declared for this entry.
func (bc BindingConfig) BindingMode() binding.Mode {
	if bc.Mode == "list" {
		return binding.ModeList
	}
	return binding.ModeValue
}

// BindOptions converts the entry's overrides into per-call bind options.
func (bc BindingConfig) BindOptions() []binding.BindOption {
	var opts []binding.BindOption
	if bc.Wait != nil {
		opts = append(opts, binding.WithWait(*bc.Wait))
	}
	if bc.Reset != nil {
		opts = append(opts, binding.WithReset(bc.Reset))
	}
	return opts
}

// DefaultOptions converts the configured defaults into binding options.
func (c *Config) DefaultOptions() binding.Options {
	defaults := binding.DefaultOptions()
	defaults.Wait = c.Defaults.Wait
	if c.Defaults.Reset != nil {
		defaults.Reset = c.Defaults.Reset
	}
	return defaults
}
