// Package config loads the blefit YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blefit/internal/filter"
	"github.com/srg/blefit/internal/sensor"
)

// FilterConfig declares one filtered value to display.
type FilterConfig struct {
	Device    string  `yaml:"device,omitempty"`
	Sensor    string  `yaml:"sensor"`
	Kind      string  `yaml:"kind"`
	Parameter float64 `yaml:"parameter,omitempty"`
}

// Config holds application configuration
type Config struct {
	LogLevel           string         `yaml:"log_level" default:"info"`
	ScanTimeout        time.Duration  `yaml:"scan_timeout" default:"30s"`
	ConnectTimeout     time.Duration  `yaml:"connect_timeout" default:"10s"`
	RefreshInterval    time.Duration  `yaml:"refresh_interval" default:"1s"`
	WheelCircumference float64        `yaml:"wheel_circumference" default:"2.105"`
	Filters            []FilterConfig `yaml:"filters"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	return Parse(data)
}

// Validate checks the scalar settings. Filters are checked by FilterSpecs.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":     c.ScanTimeout,
		"connect_timeout":  c.ConnectTimeout,
		"refresh_interval": c.RefreshInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.WheelCircumference <= 0 {
		return fmt.Errorf("wheel_circumference must be positive, got %g", c.WheelCircumference)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// FilterSpecs converts the configured filters. Every entry that converts is returned; the
// error joins the problems of the entries that do not.
func (c *Config) FilterSpecs() ([]filter.Spec, error) {
	specs := make([]filter.Spec, 0, len(c.Filters))
	var errs []error
	for i, fc := range c.Filters {
		spec, err := fc.Spec()
		if err != nil {
			errs = append(errs, fmt.Errorf("filters[%d]: %w", i, err))
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errors.Join(errs...)
}

// Spec converts and validates one filter entry.
func (fc FilterConfig) Spec() (filter.Spec, error) {
	typ, err := sensor.ParseType(fc.Sensor)
	if err != nil {
		return filter.Spec{}, fmt.Errorf("%w: %v", filter.ErrInvalidSpec, err)
	}
	kind, err := filter.ParseKind(fc.Kind)
	if err != nil {
		return filter.Spec{}, err
	}
	spec := filter.Spec{
		Device:    fc.Device,
		Sensor:    typ,
		Kind:      kind,
		Parameter: fc.Parameter,
	}
	if err := spec.Validate(); err != nil {
		return filter.Spec{}, err
	}
	return spec, nil
}
