package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvPrefix namespaces every environment variable the proxy reads.
const EnvPrefix = "MAEGASHIRA_"

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// Addr is empty when no Redis host is configured; the sink then stays in
// memory.
func (c RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type APIConfig struct {
	Enabled  bool
	Hostname string
	Port     int
	Key      string
}

type DiscoveryConfig struct {
	// Strategy is "none" or "docker".
	Strategy        string
	SocketPath      string
	RefreshInterval time.Duration
}

type Config struct {
	Hostname string
	Port     int
	// File is the initial routing-table file; empty starts with an empty
	// table.
	File string
	// Clustering is the worker count; 0 picks one worker per CPU.
	Clustering int
	Redis      RedisConfig
	API        APIConfig
	Discovery  DiscoveryConfig
	LogLevel   string
	// Timeout is the default upstream deadline for routes without their own.
	Timeout time.Duration
	// ShutdownGrace bounds in-flight request draining on shutdown.
	ShutdownGrace time.Duration
}

// Addr is the public listener address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// APIAddr is the management listener address.
func (c Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Hostname, c.API.Port)
}

// FromEnv builds the configuration from MAEGASHIRA_* variables over the
// built-in defaults. CLI flags are layered on top by the command.
func FromEnv() Config {
	return Config{
		Hostname:   getEnv("HOSTNAME", "0.0.0.0"),
		Port:       getEnvInt("PORT", 8080),
		Clustering: getEnvInt("CLUSTERING", 0),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		API: APIConfig{
			Enabled:  getEnvBool("API_ENABLED", true),
			Hostname: getEnv("API_HOSTNAME", "0.0.0.0"),
			Port:     getEnvInt("API_PORT", 8081),
			Key:      getEnv("API_KEY", ""),
		},
		Discovery: DiscoveryConfig{
			Strategy:        getEnv("DISCOVERY", "none"),
			SocketPath:      getEnv("DISCOVERY_DOCKER_SOCKET", "/var/run/docker.sock"),
			RefreshInterval: time.Duration(getEnvInt("DISCOVERY_REFRESH_MS", 30000)) * time.Millisecond,
		},
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Timeout:       time.Duration(getEnvInt("TIMEOUT", 5000)) * time.Millisecond,
		ShutdownGrace: time.Duration(getEnvInt("SHUTDOWN_GRACE_MS", 500)) * time.Millisecond,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch os.Getenv(EnvPrefix + key) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}
