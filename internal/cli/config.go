package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timelens/timelens/internal/timeline"
)

// Config holds the runtime configuration for the timelens server.
// It can be populated from CLI flags, config files, or both.
type Config struct {
	// OTLP receiver bind address.
	OTLPHost string `yaml:"otlp_host,omitempty"`
	OTLPPort int    `yaml:"otlp_port,omitempty"`

	// HTTP/WebSocket API bind address.
	HTTPHost string `yaml:"http_host,omitempty"`
	HTTPPort int    `yaml:"http_port,omitempty"`

	// Ingest store capacities.
	MaxSpansPerStream  int `yaml:"max_spans_per_stream,omitempty"`
	MaxPointsPerSeries int `yaml:"max_points_per_series,omitempty"`

	// Detail-level merge thresholds, coarsest last, as durations
	// (e.g. ["10ns", "1us", "100us", "10ms", "1s"]).
	LodThresholds []string `yaml:"lod_thresholds,omitempty"`

	// Initial viewport width in pixels.
	WidthPx int `yaml:"width_px,omitempty"`

	// Zoom-in floor as a duration (e.g. "1us"). Empty means one
	// nanosecond per pixel.
	MinViewWidth string `yaml:"min_view_width,omitempty"`

	// How often entity metadata is re-enumerated from the store.
	RefreshInterval string `yaml:"refresh_interval,omitempty"`

	// Logging configuration.
	Verbose bool `yaml:"verbose,omitempty"`
}

// DefaultConfig returns a Config with sensible default values:
// localhost binding, an ephemeral OTLP port, the default LOD ladder, and a
// 1000px viewport.
func DefaultConfig() *Config {
	return &Config{
		OTLPHost:           "127.0.0.1",
		OTLPPort:           0, // 0 means ephemeral port assignment
		HTTPHost:           "127.0.0.1",
		HTTPPort:           4381,
		MaxSpansPerStream:  100_000,
		MaxPointsPerSeries: 200_000,
		LodThresholds:      []string{"10ns", "1us", "100us", "10ms", "1s"},
		WidthPx:            1000,
		RefreshInterval:    "2s",
		Verbose:            false,
	}
}

// LoadConfigFromFile loads configuration from a YAML file at the given path.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// FindProjectConfig searches for a .timelens.yaml config file.
// It starts in the current directory and walks up looking for the file,
// stopping when it finds a .git directory (project root) or reaches root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		configPath := filepath.Join(dir, ".timelens.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// At a git repo root, stop even if no config was found.
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root.
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file,
// ~/.config/timelens/config.yaml.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "timelens", "config.yaml")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
// Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.OTLPHost != "" {
		merged.OTLPHost = overlay.OTLPHost
	}
	if overlay.OTLPPort != 0 {
		merged.OTLPPort = overlay.OTLPPort
	}
	if overlay.HTTPHost != "" {
		merged.HTTPHost = overlay.HTTPHost
	}
	if overlay.HTTPPort > 0 {
		merged.HTTPPort = overlay.HTTPPort
	}
	if overlay.MaxSpansPerStream > 0 {
		merged.MaxSpansPerStream = overlay.MaxSpansPerStream
	}
	if overlay.MaxPointsPerSeries > 0 {
		merged.MaxPointsPerSeries = overlay.MaxPointsPerSeries
	}
	if len(overlay.LodThresholds) > 0 {
		merged.LodThresholds = overlay.LodThresholds
	}
	if overlay.WidthPx > 0 {
		merged.WidthPx = overlay.WidthPx
	}
	if overlay.MinViewWidth != "" {
		merged.MinViewWidth = overlay.MinViewWidth
	}
	if overlay.RefreshInterval != "" {
		merged.RefreshInterval = overlay.RefreshInterval
	}
	if overlay.Verbose {
		merged.Verbose = overlay.Verbose
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Global config is optional; errors are ignored.
	globalPath := GlobalConfigPath()
	if globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		// Project config is optional too, but a found-and-broken one is an
		// error worth surfacing.
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}

// BuildLodTable parses the configured thresholds into a LOD table.
func (c *Config) BuildLodTable() (timeline.LodTable, error) {
	if len(c.LodThresholds) == 0 {
		return timeline.DefaultLodTable(), nil
	}
	thresholds := make([]int64, 0, len(c.LodThresholds))
	for i, s := range c.LodThresholds {
		d, err := time.ParseDuration(s)
		if err != nil {
			return timeline.LodTable{}, fmt.Errorf("lod_thresholds[%d]: %w", i, err)
		}
		thresholds = append(thresholds, d.Nanoseconds())
	}
	table, err := timeline.NewLodTable(thresholds)
	if err != nil {
		return timeline.LodTable{}, fmt.Errorf("lod_thresholds: %w", err)
	}
	return table, nil
}

// MinViewWidthNanos parses the zoom-in floor, zero when unset.
func (c *Config) MinViewWidthNanos() (int64, error) {
	if c.MinViewWidth == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MinViewWidth)
	if err != nil {
		return 0, fmt.Errorf("min_view_width: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("min_view_width: must be positive, got %s", c.MinViewWidth)
	}
	return d.Nanoseconds(), nil
}

// RefreshIntervalDuration parses the entity refresh interval.
func (c *Config) RefreshIntervalDuration() (time.Duration, error) {
	if c.RefreshInterval == "" {
		return 2 * time.Second, nil
	}
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("refresh_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("refresh_interval: must be positive, got %s", c.RefreshInterval)
	}
	return d, nil
}
