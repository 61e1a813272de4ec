// Package config loads the service configuration: built-in defaults, then
// an optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"aed_map/core-go/internal/geo"
	"aed_map/core-go/internal/viewport"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Map      MapConfig      `yaml:"map"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
}

type RegionConfig struct {
	South float64 `yaml:"south"`
	West  float64 `yaml:"west"`
	North float64 `yaml:"north"`
	East  float64 `yaml:"east"`
}

type PointConfig struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

type MapConfig struct {
	Region        RegionConfig  `yaml:"region"`
	MinZoom       float64       `yaml:"min_zoom"`
	MaxZoom       float64       `yaml:"max_zoom"`
	DetailZoom    float64       `yaml:"detail_zoom"`
	InitialCenter PointConfig   `yaml:"initial_center"`
	InitialZoom   float64       `yaml:"initial_zoom"`
	LayoutDelay   time.Duration `yaml:"layout_delay"`
	FitPolicy     string        `yaml:"fit_policy"`
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`
	PanelWidth    int           `yaml:"panel_width"`

	// SessionIdleTimeout unmounts sessions nobody has touched or streamed
	// for this long. Zero keeps them until deleted.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

type CatalogConfig struct {
	// Path to a JSON or YAML export. Ignored when a database is configured.
	Path            string        `yaml:"path"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":8081"},
		Log:  LogConfig{Level: "info", Format: "json"},
		Map: MapConfig{
			Region:        RegionConfig{South: 49.5, West: 2.5, North: 51.5, East: 6.4},
			MinZoom:       7,
			MaxZoom:       18,
			DetailZoom:    18,
			InitialCenter: PointConfig{Lat: 50.8503, Lng: 4.3517},
			InitialZoom:   8,
			LayoutDelay:   100 * time.Millisecond,
			FitPolicy:     "strict",
			Width:         1024,
			Height:        768,
			PanelWidth:    384,

			SessionIdleTimeout: 30 * time.Minute,
		},
		Catalog: CatalogConfig{
			Path:            "aed_data.json",
			RefreshInterval: 5 * time.Minute,
			LoadTimeout:     10 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID:    "aedmap-core",
			TopicPrefix: "aedmap",
			QoS:         1,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	// Names shared with the other services in the deployment.
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	if v := os.Getenv("AEDMAP_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("AEDMAP_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AEDMAP_REFRESH_INTERVAL: %w", err)
		}
		cfg.Catalog.RefreshInterval = d
	}
	if v := os.Getenv("AEDMAP_FIT_POLICY"); v != "" {
		cfg.Map.FitPolicy = v
	}
	if v := os.Getenv("AEDMAP_PANEL_WIDTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AEDMAP_PANEL_WIDTH: %w", err)
		}
		cfg.Map.PanelWidth = n
	}

	if v := os.Getenv("AEDMAP_SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AEDMAP_SESSION_IDLE_TIMEOUT: %w", err)
		}
		cfg.Map.SessionIdleTimeout = d
	}

	if v := os.Getenv("AEDMAP_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("AEDMAP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("AEDMAP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if !c.Map.RegionBounds().Valid() || c.Map.Region.South >= c.Map.Region.North || c.Map.Region.West >= c.Map.Region.East {
		errs = append(errs, fmt.Errorf("map.region must have south < north and west < east, got %+v", c.Map.Region))
	}
	if c.Map.MinZoom < 0 || c.Map.MinZoom > c.Map.MaxZoom {
		errs = append(errs, fmt.Errorf("map.min_zoom (%v) must be between 0 and map.max_zoom (%v)", c.Map.MinZoom, c.Map.MaxZoom))
	}
	if c.Map.DetailZoom < c.Map.MinZoom || c.Map.DetailZoom > c.Map.MaxZoom {
		errs = append(errs, fmt.Errorf("map.detail_zoom (%v) outside [%v, %v]", c.Map.DetailZoom, c.Map.MinZoom, c.Map.MaxZoom))
	}
	if c.Map.LayoutDelay <= 0 {
		errs = append(errs, errors.New("map.layout_delay must be positive"))
	}
	if _, err := viewport.ParseFitPolicy(c.Map.FitPolicy); err != nil {
		errs = append(errs, fmt.Errorf("map.fit_policy: %w", err))
	}
	if !c.Map.Size().Valid() {
		errs = append(errs, fmt.Errorf("map.width and map.height must be positive, got %dx%d", c.Map.Width, c.Map.Height))
	}
	if c.Map.PanelWidth < 0 {
		errs = append(errs, errors.New("map.panel_width must not be negative"))
	}
	if c.Map.SessionIdleTimeout < 0 {
		errs = append(errs, errors.New("map.session_idle_timeout must not be negative"))
	}
	if c.Database.URL == "" && strings.TrimSpace(c.Catalog.Path) == "" {
		errs = append(errs, errors.New("catalog.path is required without database.url"))
	}
	if c.Catalog.RefreshInterval < 0 {
		errs = append(errs, errors.New("catalog.refresh_interval must not be negative"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	return errors.Join(errs...)
}

func (m MapConfig) RegionBounds() geo.Bounds {
	return geo.Bounds{
		SouthWest: geo.LatLng{Lat: m.Region.South, Lng: m.Region.West},
		NorthEast: geo.LatLng{Lat: m.Region.North, Lng: m.Region.East},
	}
}

func (m MapConfig) Size() geo.Size {
	return geo.Size{Width: m.Width, Height: m.Height}
}

func (m MapConfig) Center() geo.LatLng {
	return geo.LatLng{Lat: m.InitialCenter.Lat, Lng: m.InitialCenter.Lng}
}

// Policy returns the parsed fit policy. Validate has already rejected
// unknown values.
func (m MapConfig) Policy() viewport.FitPolicy {
	p, _ := viewport.ParseFitPolicy(m.FitPolicy)
	return p
}

// Enabled reports whether the MQTT command bridge should run.
func (m MQTTConfig) Enabled() bool {
	return strings.TrimSpace(m.Broker) != ""
}
