package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dpup/journey.ersn.net/server/internal/lib/route"
	"github.com/dpup/journey.ersn.net/server/internal/lib/stamps"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// JOURNEY__ENGINE__CAPTURE_RADIUS_METERS=40
const EnvPrefix = "JOURNEY__"

// Config represents the complete engine configuration
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	API      APIConfig      `yaml:"api"`
	Identity IdentityConfig `yaml:"identity"`
	List     ListConfig     `yaml:"list"`
	Tracking TrackingConfig `yaml:"tracking"`
}

// EngineConfig holds the progress and collection thresholds
type EngineConfig struct {
	CaptureRadiusMeters     float64 `yaml:"capture_radius_meters"`
	ProgressToleranceMeters float64 `yaml:"progress_tolerance_meters"`
	AllowProgressOnly       bool    `yaml:"allow_progress_only"`

	// InterpolationMode is "index_space" or "arc_length"
	InterpolationMode string `yaml:"interpolation_mode"`
}

// APIConfig holds journey backend settings
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`
}

// IdentityConfig holds progress session cache settings
type IdentityConfig struct {
	// StorePath is the SQLite file for the persistent tier; empty keeps ids in memory only
	StorePath       string        `yaml:"store_path"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ListConfig holds journey list settings
type ListConfig struct {
	SecondPassConcurrency int `yaml:"second_pass_concurrency"`
}

// TrackingConfig holds tracking loop settings
type TrackingConfig struct {
	ProgressRefreshInterval time.Duration `yaml:"progress_refresh_interval"`
}

// StampsConfig converts the engine section to gate thresholds
func (e EngineConfig) StampsConfig() stamps.Config {
	return stamps.Config{
		CaptureRadiusMeters:     e.CaptureRadiusMeters,
		ProgressToleranceMeters: e.ProgressToleranceMeters,
		AllowProgressOnly:       e.AllowProgressOnly,
	}
}

// Mode returns the configured interpolation mode
func (e EngineConfig) Mode() route.Mode {
	return route.ParseMode(e.InterpolationMode)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	gate := stamps.DefaultConfig()
	return &Config{
		Engine: EngineConfig{
			CaptureRadiusMeters:     gate.CaptureRadiusMeters,
			ProgressToleranceMeters: gate.ProgressToleranceMeters,
			AllowProgressOnly:       gate.AllowProgressOnly,
			InterpolationMode:       route.IndexSpace.String(),
		},
		API: APIConfig{
			BaseURL: "http://localhost:8080/api/v1",
			Timeout: 30 * time.Second,
		},
		Identity: IdentityConfig{
			CleanupInterval: 10 * time.Minute,
		},
		List: ListConfig{
			SecondPassConcurrency: 4,
		},
		Tracking: TrackingConfig{
			ProgressRefreshInterval: 15 * time.Second,
		},
	}
}

// Load layers defaults, an optional YAML file and JOURNEY__ environment
// variables. An empty path or missing file skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	envKey := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func defaults() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"engine.capture_radius_meters":       d.Engine.CaptureRadiusMeters,
		"engine.progress_tolerance_meters":   d.Engine.ProgressToleranceMeters,
		"engine.allow_progress_only":         d.Engine.AllowProgressOnly,
		"engine.interpolation_mode":          d.Engine.InterpolationMode,
		"api.base_url":                       d.API.BaseURL,
		"api.auth_token":                     d.API.AuthToken,
		"api.timeout":                        d.API.Timeout.String(),
		"identity.store_path":                d.Identity.StorePath,
		"identity.ttl":                       d.Identity.TTL.String(),
		"identity.cleanup_interval":          d.Identity.CleanupInterval.String(),
		"list.second_pass_concurrency":       d.List.SecondPassConcurrency,
		"tracking.progress_refresh_interval": d.Tracking.ProgressRefreshInterval.String(),
	}
}
