package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syncwatch/syncwatch/internal/room"
)

// Config holds the server settings. Values come from an optional YAML file,
// with environment variables taking precedence.
type Config struct {
	Port        string `yaml:"port"`
	JWTSecret   string `yaml:"jwt_secret"`
	DatabaseDSN string `yaml:"database_dsn"`
	NATSURL     string `yaml:"nats_url"`
	LogLevel    string `yaml:"log_level"`

	Room struct {
		BroadcastIntervalMs int `yaml:"broadcast_interval_ms"`
		IdleTTLMinutes      int `yaml:"idle_ttl_minutes"`
		ReapIntervalSec     int `yaml:"reap_interval_sec"`
	} `yaml:"room"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.Port = getEnv("PORT", defaultString(config.Port, "8080"))
	config.JWTSecret = getEnv("JWT_SECRET", config.JWTSecret)
	config.DatabaseDSN = getEnv("DATABASE_DSN", config.DatabaseDSN)
	config.NATSURL = getEnv("NATS_URL", config.NATSURL)
	config.LogLevel = getEnv("LOG_LEVEL", defaultString(config.LogLevel, "info"))

	config.Room.BroadcastIntervalMs = getEnvAsInt("ROOM_BROADCAST_INTERVAL_MS", config.Room.BroadcastIntervalMs)
	config.Room.IdleTTLMinutes = getEnvAsInt("ROOM_IDLE_TTL_MINUTES", config.Room.IdleTTLMinutes)
	config.Room.ReapIntervalSec = getEnvAsInt("ROOM_REAP_INTERVAL_SEC", config.Room.ReapIntervalSec)

	return &config, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// roomConfig merges the file and env overrides onto the stock room timing.
func (c *Config) roomConfig() room.Config {
	cfg := room.DefaultConfig()
	if c.Room.BroadcastIntervalMs > 0 {
		cfg.BroadcastInterval = time.Duration(c.Room.BroadcastIntervalMs) * time.Millisecond
	}
	if c.Room.IdleTTLMinutes > 0 {
		cfg.IdleTTL = time.Duration(c.Room.IdleTTLMinutes) * time.Minute
	}
	if c.Room.ReapIntervalSec > 0 {
		cfg.ReapInterval = time.Duration(c.Room.ReapIntervalSec) * time.Second
	}
	return cfg
}
