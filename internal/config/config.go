// Package config loads the client configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	// BaseURL of the marketplace backend, e.g. https://api.example.com
	BaseURL string `yaml:"base_url"`

	// StatePath is the local JSON file holding session + pointers when no
	// DatabaseURL is configured.
	StatePath string `yaml:"state_path"`
	// DatabaseURL switches the local store to Postgres when set.
	DatabaseURL string `yaml:"database_url"`

	// MetricsAddr exposes Prometheus metrics when non-empty, e.g. :9090.
	MetricsAddr string `yaml:"metrics_addr"`

	Poll     Poll     `yaml:"poll"`
	Map      Map      `yaml:"map"`
	Location Location `yaml:"location"`
	Report   Report   `yaml:"report"`
}

type Poll struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	// MaxBackoff caps the jittered backoff applied after failed polls.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Map holds the rendering thresholds. The exact meter values are tunable,
// not load-bearing; defaults follow the ones that behaved well in the field.
type Map struct {
	MinMoveMeters     float64       `yaml:"min_move_meters"`
	RouteRecalcMeters float64       `yaml:"route_recalc_meters"`
	ArrivalRadiusM    float64       `yaml:"arrival_radius_meters"`
	MinRotateDeg      float64       `yaml:"min_rotate_deg"`
	HeadingFactor     float64       `yaml:"heading_factor"`
	HeadingStepCapDeg float64       `yaml:"heading_step_cap_deg"`
	MinHeadingSpeed   float64       `yaml:"min_heading_speed_ms"`
	AnimateDuration   time.Duration `yaml:"animate_duration"`
	DirectionsURL     string        `yaml:"directions_url"`
	DirectionsRPS     float64       `yaml:"directions_rps"`
}

type Location struct {
	// Source selects the position source: "simulated" or "redis".
	Source string `yaml:"source"`

	RedisURL     string `yaml:"redis_url"`
	RedisChannel string `yaml:"redis_channel"`

	SimStartLat  float64       `yaml:"sim_start_lat"`
	SimStartLng  float64       `yaml:"sim_start_lng"`
	SimTargetLat float64       `yaml:"sim_target_lat"`
	SimTargetLng float64       `yaml:"sim_target_lng"`
	SimStepM     float64       `yaml:"sim_step_meters"`
	SimInterval  time.Duration `yaml:"sim_interval"`
}

type Report struct {
	// WebSocket enables the streaming location transport; HTTP POST is the
	// fallback either way.
	WebSocket bool   `yaml:"websocket"`
	WSURL     string `yaml:"ws_url"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:   "http://localhost:5000",
		StatePath: "roadassist.json",
		Poll: Poll{
			Interval:   3 * time.Second,
			Timeout:    5 * time.Second,
			MaxBackoff: 15 * time.Second,
		},
		Map: Map{
			MinMoveMeters:     8,
			RouteRecalcMeters: 60,
			ArrivalRadiusM:    30,
			MinRotateDeg:      4,
			HeadingFactor:     0.15,
			HeadingStepCapDeg: 30,
			MinHeadingSpeed:   1.5,
			AnimateDuration:   300 * time.Millisecond,
			DirectionsURL:     "https://router.project-osrm.org",
			DirectionsRPS:     1,
		},
		Location: Location{
			Source:       "simulated",
			RedisChannel: "roadassist:pos",
			SimStepM:     25,
			SimInterval:  2 * time.Second,
		},
	}
}

// Load reads path (optional) over the defaults, then applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if v := os.Getenv("ROADASSIST_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Location.RedisURL = v
	}
	return cfg, nil
}
