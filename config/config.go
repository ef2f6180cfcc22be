// Package config loads settings from an optional YAML file overlaid by
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "COLLAB_BOARD_CONFIG"

type Config struct {
	APIURL            string        `yaml:"api_url"`
	WSURL             string        `yaml:"ws_url"`
	AuthToken         string        `yaml:"auth_token"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	CursorThrottle    time.Duration `yaml:"cursor_throttle"`
	CursorMinDistance float64       `yaml:"cursor_min_distance"`
	RedisConnString   string        `yaml:"redis_connection_string"`
	SnapshotCacheTTL  time.Duration `yaml:"snapshot_cache_ttl"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	Debug             bool          `yaml:"debug"`
	Hub               Hub           `yaml:"hub"`
}

// Hub holds the reference server settings.
type Hub struct {
	ListenAddr   string `yaml:"listen_addr"`
	SharedSecret string `yaml:"shared_secret"`
	JWKSURL      string `yaml:"jwks_url"`
	Audience     string `yaml:"audience"`
	Issuer       string `yaml:"issuer"`
	MaxPerBoard  int    `yaml:"max_connections_per_board"`
	MaxPerUser   int    `yaml:"max_connections_per_user"`
	RelayChannel string `yaml:"relay_channel"`
	RelayEnabled bool   `yaml:"relay_enabled"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIURL:           "http://localhost:8000/api",
		WSURL:            "ws://localhost:8000/ws",
		ReconnectDelay:   3 * time.Second,
		SnapshotCacheTTL: 30 * time.Second,
		Hub: Hub{
			ListenAddr:   ":8000",
			MaxPerBoard:  50,
			MaxPerUser:   5,
			RelayChannel: "collab_board:events",
		},
	}
}

// Load reads the file named by COLLAB_BOARD_CONFIG, if set, then applies
// environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	setString(&cfg.APIURL, "API_URL")
	setString(&cfg.WSURL, "WS_URL")
	setString(&cfg.AuthToken, "AUTH_TOKEN")
	setString(&cfg.RedisConnString, "REDIS_CONNECTION_STRING")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")
	setString(&cfg.Hub.ListenAddr, "HUB_LISTEN_ADDR")
	setString(&cfg.Hub.SharedSecret, "LOCAL_AUTH_SHARED_SECRET")
	setString(&cfg.Hub.JWKSURL, "HUB_JWKS_URL")
	setString(&cfg.Hub.Audience, "HUB_JWT_AUDIENCE")
	setString(&cfg.Hub.Issuer, "HUB_JWT_ISSUER")
	setString(&cfg.Hub.RelayChannel, "HUB_RELAY_CHANNEL")

	var errs []error
	errs = append(errs,
		setDuration(&cfg.ReconnectDelay, "RECONNECT_DELAY"),
		setDuration(&cfg.CursorThrottle, "CURSOR_THROTTLE"),
		setDuration(&cfg.SnapshotCacheTTL, "SNAPSHOT_CACHE_TTL"),
		setFloat(&cfg.CursorMinDistance, "CURSOR_MIN_DISTANCE"),
		setInt(&cfg.Hub.MaxPerBoard, "MAX_CONNECTIONS_PER_BOARD"),
		setInt(&cfg.Hub.MaxPerUser, "MAX_CONNECTIONS_PER_USER"),
		setBool(&cfg.Debug, "DEBUG"),
		setBool(&cfg.Hub.RelayEnabled, "HUB_RELAY_ENABLED"),
	)
	return errors.Join(errs...)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("reconnect delay must be positive"))
	}
	if c.CursorThrottle < 0 {
		errs = append(errs, errors.New("cursor throttle must not be negative"))
	}
	if c.CursorMinDistance < 0 {
		errs = append(errs, errors.New("cursor min distance must not be negative"))
	}
	if c.SnapshotCacheTTL <= 0 {
		errs = append(errs, errors.New("snapshot cache ttl must be positive"))
	}
	if c.Hub.MaxPerBoard < 0 || c.Hub.MaxPerUser < 0 {
		errs = append(errs, errors.New("connection limits must not be negative"))
	}
	if c.Hub.RelayEnabled && c.RedisConnString == "" {
		errs = append(errs, errors.New("hub relay needs REDIS_CONNECTION_STRING"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}
