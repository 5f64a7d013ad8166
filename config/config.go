// Package config loads the service configuration from a yaml or json file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/emsgo/dispatch/core/matcher"
	"github.com/emsgo/dispatch/core/metrics"
)

type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Archive  ArchiveConfig  `json:"archive"`
	Routing  RoutingConfig  `json:"routing"`
	Matcher  MatcherConfig  `json:"matcher"`
	Geofence GeofenceConfig `json:"geofence"`
	Metrics  metrics.Config `json:"metrics"`
	Sentry   SentryConfig   `json:"sentry"`
}

// Load reads the configuration at path. Environment variables prefixed with
// EMS_ override file values, with "__" separating nesting levels, e.g.
// EMS_HTTP__ADDR overrides http.addr.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("EMS_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "ems_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.HTTP.SetDefaults()
	cfg.Archive.SetDefaults()
	cfg.Routing.SetDefaults()
	cfg.Geofence.SetDefaults()
	if err := cfg.HTTP.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.MQTT.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Routing.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// HTTPConfig defines the API server settings.
type HTTPConfig struct {
	Addr string `json:"addr"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

func (c HTTPConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("http addr is required")
	}
	return nil
}

// MQTTConfig defines the broker bridge settings. The bridge is optional;
// fleets without MQTT-capable GPS units report over HTTP only.
type MQTTConfig struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseTLS   bool   `json:"use_tls"`
}

func (c MQTTConfig) Validate() error {
	if c.Enabled && c.Broker == "" {
		return fmt.Errorf("mqtt broker is required when the bridge is enabled")
	}
	return nil
}

// ArchiveConfig locates the SQLite archive database.
type ArchiveConfig struct {
	Path string `json:"path"`
}

func (c *ArchiveConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "dispatch_archive.db"
	}
}

// RoutingConfig selects the routing provider. "none" relies on the
// straight-line fallback exclusively; "static" estimates every route at a
// fixed average speed, for development setups without a routing backend.
type RoutingConfig struct {
	Provider        string  `json:"provider"` // "osrm", "static" or "none"
	BaseURL         string  `json:"base_url"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
	AverageSpeedKmh float64 `json:"average_speed_kmh"`
}

func (c *RoutingConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "none"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 2
	}
}

func (c RoutingConfig) Validate() error {
	switch c.Provider {
	case "none", "static":
		return nil
	case "osrm":
		if c.BaseURL == "" {
			return fmt.Errorf("routing base_url is required for provider osrm")
		}
		return nil
	default:
		return fmt.Errorf("unknown routing provider %s", c.Provider)
	}
}

// MatcherConfig carries the facility scoring coefficients. Zero values fall
// back to the defaults compiled into the matcher.
type MatcherConfig struct {
	Weights matcher.Weights `json:"weights"`
}

// GeofenceConfig tunes the zone cache.
type GeofenceConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

func (c *GeofenceConfig) SetDefaults() {
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 30
	}
}

// SentryConfig defines settings for Sentry error monitoring.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
	Release          string  `json:"release"`
}
