// Package config loads the snapshot service configuration and view batches
// from YAML documents stored locally or behind an http(s) URL.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MoriEdan/libvtsoffscreen/asset"
	"github.com/MoriEdan/libvtsoffscreen/snapper"
	"github.com/MoriEdan/libvtsoffscreen/types"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Service configuration.
type Config struct {
	MapConfig    string    `yaml:"mapconfig"`
	Auth         string    `yaml:"auth,omitempty"`
	Srs          SrsConfig `yaml:"srs"`
	ClientID     string    `yaml:"client_id,omitempty"`
	MemoryBudget int64     `yaml:"memory_budget,omitempty"`

	Pool   PoolConfig   `yaml:"pool"`
	Server ServerConfig `yaml:"server"`
	Sim    SimConfig    `yaml:"sim,omitempty"`
}

// Custom reference frame definitions.
type SrsConfig struct {
	Custom1 string `yaml:"custom1"`
	Custom2 string `yaml:"custom2,omitempty"`
}

// Worker pool settings.
type PoolConfig struct {
	// Graphics backend name.
	Backend string `yaml:"backend"`

	// Number of virtual devices exposed by the headless backend.
	Devices int `yaml:"devices,omitempty"`

	Blacklist        []string      `yaml:"blacklist,omitempty"`
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout,omitempty"`
	FenceTimeout     time.Duration `yaml:"fence_timeout,omitempty"`
}

// HTTP endpoint settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`

	// Largest accepted viewport dimension.
	MaxViewport int `yaml:"max_viewport"`

	// Upper bound for serving a single request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Settings of the software engine.
type SimConfig struct {
	Custom1Origin [3]float64 `yaml:"custom1_origin,omitempty"`
	Custom2Origin [3]float64 `yaml:"custom2_origin,omitempty"`
	TileSize      float64    `yaml:"tile_size,omitempty"`
}

// Defaults returns a Config with the default settings.
func Defaults() *Config {
	return &Config{
		ClientID:     snapper.DefaultClientID,
		MemoryBudget: snapper.DefaultTargetResourcesMemory,
		Pool: PoolConfig{
			Backend:      "headless",
			Devices:      1,
			FenceTimeout: snapper.DefaultFenceTimeout,
		},
		Server: ServerConfig{
			Listen:         ":8080",
			MaxViewport:    8192,
			RequestTimeout: 2 * time.Minute,
		},
		Sim: SimConfig{
			TileSize: 50,
		},
	}
}

// Load reads, interpolates and validates a service configuration.
func Load(ctx context.Context, location string) (*Config, error) {
	data, _, err := asset.ReadAll(ctx, location, nil)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", location, err)
	}
	return cfg, nil
}

// Parse decodes a service configuration from r.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err = dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	applyDefaults(cfg)
	if err = validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()
	if cfg.ClientID == "" {
		cfg.ClientID = defaults.ClientID
	}
	if cfg.MemoryBudget == 0 {
		cfg.MemoryBudget = defaults.MemoryBudget
	}
	if cfg.Pool.Backend == "" {
		cfg.Pool.Backend = defaults.Pool.Backend
	}
	if cfg.Pool.Devices == 0 {
		cfg.Pool.Devices = defaults.Pool.Devices
	}
	if cfg.Pool.FenceTimeout == 0 {
		cfg.Pool.FenceTimeout = defaults.Pool.FenceTimeout
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.MaxViewport == 0 {
		cfg.Server.MaxViewport = defaults.Server.MaxViewport
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = defaults.Server.RequestTimeout
	}
	if cfg.Sim.TileSize == 0 {
		cfg.Sim.TileSize = defaults.Sim.TileSize
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	if cfg.MapConfig == "" {
		return fmt.Errorf("mapconfig is required")
	}
	if cfg.Srs.Custom1 == "" {
		return fmt.Errorf("srs.custom1 is required")
	}
	for field, value := range map[string]string{"mapconfig": cfg.MapConfig, "auth": cfg.Auth} {
		if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
		}
	}
	if cfg.MemoryBudget < 0 {
		return fmt.Errorf("memory_budget must not be negative")
	}
	if cfg.Pool.Devices < 0 {
		return fmt.Errorf("pool.devices must not be negative")
	}
	if cfg.Pool.BootstrapTimeout < 0 {
		return fmt.Errorf("pool.bootstrap_timeout must not be negative")
	}
	if cfg.Pool.FenceTimeout < 0 {
		return fmt.Errorf("pool.fence_timeout must not be negative")
	}
	if cfg.Server.MaxViewport < 0 {
		return fmt.Errorf("server.max_viewport must not be negative")
	}
	if cfg.Sim.TileSize < 0 {
		return fmt.Errorf("sim.tile_size must not be negative")
	}
	return nil
}

// Session configuration for snapshot sessions.
func (cfg *Config) SnapperConfig() snapper.Config {
	return snapper.Config{
		MapConfigURL:          cfg.MapConfig,
		AuthURL:               cfg.Auth,
		CustomSrs1:            cfg.Srs.Custom1,
		CustomSrs2:            cfg.Srs.Custom2,
		ClientID:              cfg.ClientID,
		TargetResourcesMemory: cfg.MemoryBudget,
	}
}

// Pool options derived from the configuration. Callers fill in the graphics
// platform and the engine.
func (cfg *Config) SnapperOptions() snapper.Options {
	return snapper.Options{
		Blacklist:        cfg.Pool.Blacklist,
		BootstrapTimeout: cfg.Pool.BootstrapTimeout,
		FenceTimeout:     cfg.Pool.FenceTimeout,
	}
}

// Origin of the first custom frame in the physical frame.
func (s SimConfig) Origin1() types.Vec3 {
	return types.Vec3(s.Custom1Origin)
}

// Origin of the second custom frame in the physical frame.
func (s SimConfig) Origin2() types.Vec3 {
	return types.Vec3(s.Custom2Origin)
}
