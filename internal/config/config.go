// Package config provides configuration management for the LacyLights engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

// Config holds all configuration values for the engine.
type Config struct {
	// Server configuration
	Port string `yaml:"port" toml:"port"`
	Env  string `yaml:"env" toml:"env"`

	// Database configuration
	DatabaseURL string `yaml:"database_url" toml:"database_url"`

	LogLevel string `yaml:"log_level" toml:"log_level"`

	// CORS configuration
	CORSOrigin string `yaml:"cors_origin" toml:"cors_origin"`

	Output   OutputConfig    `yaml:"output" toml:"output"`
	SACN     SACNConfig      `yaml:"sacn" toml:"sacn"`
	ArtNet   ArtNetConfig    `yaml:"artnet" toml:"artnet"`
	MQTT     MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	InfluxDB InfluxDBConfig  `yaml:"influxdb" toml:"influxdb"`
	Patch    []FixtureConfig `yaml:"patch" toml:"patch"`
}

// OutputConfig controls the output scheduler.
type OutputConfig struct {
	RateHz int `yaml:"rate_hz" toml:"rate_hz"`
}

// SACNConfig lists the sACN sources.
type SACNConfig struct {
	// CID overrides the installation CID stored in the settings table.
	CID     string         `yaml:"cid" toml:"cid"`
	Sources []SourceConfig `yaml:"sources" toml:"sources"`
}

// SourceConfig describes one sACN source.
type SourceConfig struct {
	Name        string              `yaml:"name" toml:"name"`
	Destination string              `yaml:"destination" toml:"destination"` // unicast IP, empty for multicast
	Priority    int                 `yaml:"priority" toml:"priority"`
	Preview     bool                `yaml:"preview" toml:"preview"`
	SyncAddress int                 `yaml:"sync_address" toml:"sync_address"`
	ForceSync   bool                `yaml:"force_sync" toml:"force_sync"`
	Universes   []UniverseMapConfig `yaml:"universes" toml:"universes"`
}

// UniverseMapConfig maps a local universe to the universe number sent on the wire.
// Destination defaults to Local.
type UniverseMapConfig struct {
	Local       int `yaml:"local" toml:"local"`
	Destination int `yaml:"destination" toml:"destination"`
}

// ArtNetConfig lists the Art-Net outputs and node discovery.
type ArtNetConfig struct {
	Nodes     []NodeConfig    `yaml:"nodes" toml:"nodes"`
	Discovery DiscoveryConfig `yaml:"discovery" toml:"discovery"`
}

// NodeConfig describes one Art-Net output.
type NodeConfig struct {
	Name string `yaml:"name" toml:"name"`
	// Destination is an IP, an interface name, "localhost" or "global-broadcast".
	Destination  string `yaml:"destination" toml:"destination"`
	Universe     int    `yaml:"universe" toml:"universe"`
	Net          int    `yaml:"net" toml:"net"`
	SubNet       int    `yaml:"subnet" toml:"subnet"`
	PortUniverse int    `yaml:"port_universe" toml:"port_universe"`
}

// DiscoveryConfig enables ArtPoll node discovery.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"` // local IPv4 to poll from
}

// MQTTConfig configures programmer ingress over MQTT.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	QoS         int    `yaml:"qos" toml:"qos"`
}

// InfluxDBConfig configures the optional metrics export.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"` // milliseconds
}

// FixtureConfig patches one fixture. A non-empty patch list replaces the stored patch.
type FixtureConfig struct {
	ID           string          `yaml:"id" toml:"id"`
	Name         string          `yaml:"name" toml:"name"`
	Mode         string          `yaml:"mode" toml:"mode"`
	Universe     int             `yaml:"universe" toml:"universe"`
	StartChannel int             `yaml:"start_channel" toml:"start_channel"`
	Channels     []ChannelConfig `yaml:"channels" toml:"channels"`
}

// ChannelConfig maps an attribute to its channel offsets, coarse first.
type ChannelConfig struct {
	Attribute string  `yaml:"attribute" toml:"attribute"`
	Offsets   []int   `yaml:"offsets" toml:"offsets"`
	Default   float64 `yaml:"default" toml:"default"`
}

// Fixture converts the entry to the engine representation.
func (f FixtureConfig) Fixture() (*fixture.Fixture, error) {
	universe, err := dmx.NewUniverseID(f.Universe)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", f.ID, err)
	}
	start, err := dmx.NewChannel(f.StartChannel)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", f.ID, err)
	}

	fx := &fixture.Fixture{
		ID:           fixture.ID(f.ID),
		Name:         f.Name,
		Mode:         f.Mode,
		Universe:     universe,
		StartChannel: start,
	}
	for _, ch := range f.Channels {
		attr, err := fixture.ParseAttribute(ch.Attribute)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", f.ID, err)
		}
		fx.Channels = append(fx.Channels, fixture.ChannelMapping{
			Attribute: attr,
			Offsets:   append([]int(nil), ch.Offsets...),
			Default:   fixture.NewAttributeValue(ch.Default),
		})
	}
	return fx, fx.Validate()
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		// Server
		Port: "4000",
		Env:  "development",

		// Database
		DatabaseURL: "file:./dev.db",

		LogLevel:   "info",
		CORSOrigin: "http://localhost:3000",

		Output: OutputConfig{RateHz: 40},
		SACN: SACNConfig{
			Sources: []SourceConfig{{
				Name:      "LacyLights",
				Priority:  100,
				Universes: []UniverseMapConfig{{Local: 1, Destination: 1}},
			}},
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "lacylights-engine",
			TopicPrefix: "lacylights",
			QoS:         1,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "lacylights",
			Bucket:        "lacylights",
			FlushInterval: 1000,
		},
	}
}

// Load builds the configuration: defaults, then the file named by CONFIG_FILE,
// then environment overrides. The result is validated.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadFile decodes a YAML (.yaml, .yml) or TOML (.toml) file over cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.CORSOrigin = getEnv("CORS_ORIGIN", cfg.CORSOrigin)

	// Output
	cfg.Output.RateHz = getEnvInt("OUTPUT_RATE_HZ", cfg.Output.RateHz)
	cfg.SACN.CID = getEnv("SACN_CID", cfg.SACN.CID)

	// Art-Net discovery
	cfg.ArtNet.Discovery.Enabled = getEnvBool("ARTNET_DISCOVERY", cfg.ArtNet.Discovery.Enabled)
	cfg.ArtNet.Discovery.Address = getEnv("ARTNET_DISCOVERY_ADDRESS", cfg.ArtNet.Discovery.Address)

	// MQTT
	cfg.MQTT.Enabled = getEnvBool("MQTT_ENABLED", cfg.MQTT.Enabled)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)

	// InfluxDB
	cfg.InfluxDB.Enabled = getEnvBool("INFLUXDB_ENABLED", cfg.InfluxDB.Enabled)
	cfg.InfluxDB.URL = getEnv("INFLUXDB_URL", cfg.InfluxDB.URL)
	cfg.InfluxDB.Token = getEnv("INFLUXDB_TOKEN", cfg.InfluxDB.Token)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Sprintf("port must be between 1 and 65535, got %q", c.Port))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "database_url is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("log_level %q is not a valid level", c.LogLevel))
	}
	if c.Output.RateHz < 25 || c.Output.RateHz > 44 {
		errs = append(errs, fmt.Sprintf("output.rate_hz must be between 25 and 44, got %d", c.Output.RateHz))
	}

	if c.SACN.CID != "" {
		if _, err := uuid.Parse(c.SACN.CID); err != nil {
			errs = append(errs, fmt.Sprintf("sacn.cid %q is not a UUID", c.SACN.CID))
		}
	}
	names := make(map[string]bool)
	for i, s := range c.SACN.Sources {
		errs = append(errs, s.validate(i, names)...)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	ids := make(map[string]bool)
	for _, f := range c.Patch {
		if ids[f.ID] {
			errs = append(errs, fmt.Sprintf("patch: duplicate fixture id %q", f.ID))
		}
		ids[f.ID] = true
		if _, err := f.Fixture(); err != nil {
			errs = append(errs, fmt.Sprintf("patch: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validate checks what every source needs to be told apart. Priority and universe
// ranges are checked when the source is built, so one bad source does not stop the rest.
func (s SourceConfig) validate(i int, names map[string]bool) []string {
	prefix := fmt.Sprintf("sacn.sources[%d]", i)
	if s.Name == "" {
		return []string{prefix + ".name is required"}
	}
	if names[s.Name] {
		return []string{fmt.Sprintf("%s.name %q is not unique", prefix, s.Name)}
	}
	names[s.Name] = true
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
