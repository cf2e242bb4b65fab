package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is read from a yaml file and then overridden by the environment
type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Rooms struct {
		ExpiryWindow   time.Duration `yaml:"expiry_window"`
		CatalogTimeout time.Duration `yaml:"catalog_timeout"`
	} `yaml:"rooms"`

	Relay struct {
		Enabled       bool   `yaml:"enabled"`
		NATSURL       string `yaml:"nats_url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"relay"`

	Playlists struct {
		Store     string `yaml:"store"` // file, postgres or redis
		Path      string `yaml:"path"`
		Watch     bool   `yaml:"watch"`
		RedisAddr string `yaml:"redis_addr"`
		RedisKey  string `yaml:"redis_key"`
	} `yaml:"playlists"`

	Catalog struct {
		URL string `yaml:"url"`
	} `yaml:"catalog"`

	LogLevel string `yaml:"log_level"`
}

const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

func defaultConfig() *Config {
	var c Config
	c.Server.Port = "3000"
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Rooms.ExpiryWindow = 30 * time.Second
	c.Rooms.CatalogTimeout = 3 * time.Second
	c.Relay.NATSURL = "nats://localhost:4222"
	c.Relay.StreamName = "ROOM_EVENTS"
	c.Relay.SubjectPrefix = "rooms.events"
	c.Playlists.Store = StoreFile
	c.Playlists.Path = "playlists.json"
	c.Playlists.Watch = true
	c.Playlists.RedisAddr = "localhost:6379"
	c.Playlists.RedisKey = "yusic:playlists"
	c.LogLevel = "info"
	return &c
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("path", path).Msg("no config file, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Rooms.ExpiryWindow = getEnvAsDuration("ROOM_EXPIRY_WINDOW", c.Rooms.ExpiryWindow)
	c.Rooms.CatalogTimeout = getEnvAsDuration("CATALOG_TIMEOUT", c.Rooms.CatalogTimeout)
	if url := os.Getenv("NATS_URL"); url != "" {
		c.Relay.NATSURL = url
		c.Relay.Enabled = true
	}
	c.Playlists.Store = getEnv("PLAYLIST_STORE", c.Playlists.Store)
	c.Playlists.Path = getEnv("PLAYLIST_PATH", c.Playlists.Path)
	c.Playlists.RedisAddr = getEnv("REDIS_ADDR", c.Playlists.RedisAddr)
	c.Catalog.URL = getEnv("CATALOG_URL", c.Catalog.URL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func (c *Config) validate() error {
	switch c.Playlists.Store {
	case StoreFile, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unknown playlist store %q", c.Playlists.Store)
	}
	if c.Rooms.ExpiryWindow < 0 {
		return fmt.Errorf("expiry window must not be negative, got %s", c.Rooms.ExpiryWindow)
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Server.Port)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
	}
	return defaultValue
}
