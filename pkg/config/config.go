// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package config loads the process configuration from a YAML file with
// environment-variable overrides, and assembles the pieces that depend on it
// (cache back-ends, environment registry).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/pitkley/watchpost/pkg/cache"
	"github.com/pitkley/watchpost/pkg/storage"
)

// Config is the fully resolved process configuration.
type Config struct {
	// ExecutionEnvironment names the environment this instance runs in.
	ExecutionEnvironment string `mapstructure:"execution_environment"`
	// EnvironmentsFile points at the declarative environment registry.
	EnvironmentsFile string `mapstructure:"environments_file"`

	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	CheckDeadline time.Duration `mapstructure:"check_deadline"`
	LogLevel      string        `mapstructure:"log_level"`

	Cache    CacheConfig    `mapstructure:"cache"`
	Hostname HostnameConfig `mapstructure:"hostname"`
	API      APIConfig      `mapstructure:"api"`
}

// CacheConfig selects and parameterizes the cache storage chain. Back-ends
// are probed in declaration order.
type CacheConfig struct {
	Backends []string    `mapstructure:"backends"`
	Disk     DiskConfig  `mapstructure:"disk"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// DiskConfig parameterizes the on-disk store.
type DiskConfig struct {
	Dir string `mapstructure:"dir"`
}

// RedisConfig parameterizes the Redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HostnameConfig controls hostname resolution defaults.
type HostnameConfig struct {
	// Default is a hostname template applied when neither the check nor the
	// environment declares one; empty leaves the synthesized fallback.
	Default string `mapstructure:"default"`
	// RFC1123 enables coercion of resolved hostnames.
	RFC1123 bool `mapstructure:"rfc1123"`
}

// APIConfig parameterizes the HTTP surface.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

const envPrefix = "WATCHPOST"

// Load reads the configuration file at path, if any, applies WATCHPOST_*
// environment overrides and returns the resolved configuration. An empty path
// loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("execution_environment", "")
	v.SetDefault("environments_file", "environments.yaml")
	v.SetDefault("workers", 8)
	v.SetDefault("queue_size", 0)
	v.SetDefault("check_deadline", time.Duration(0))
	v.SetDefault("log_level", "info")
	v.SetDefault("cache.backends", []string{"memory"})
	v.SetDefault("cache.disk.dir", "/var/cache/watchpost")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("hostname.default", "")
	v.SetDefault("hostname.rfc1123", true)
	v.SetDefault("api.listen", "localhost:8080")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read configuration file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if cfg.ExecutionEnvironment == "" {
		return nil, fmt.Errorf("execution_environment must be set")
	}
	return &cfg, nil
}

// BuildCache assembles the cache over the configured storage chain. A single
// back-end is used directly; multiple back-ends are chained in declaration
// order.
func (c *Config) BuildCache() (*cache.Cache, error) {
	stores := make([]storage.Store, 0, len(c.Cache.Backends))
	for _, backend := range c.Cache.Backends {
		switch backend {
		case "memory":
			stores = append(stores, storage.NewMemoryStore())
		case "disk":
			store, err := storage.NewDiskStore(c.Cache.Disk.Dir)
			if err != nil {
				return nil, fmt.Errorf("cache back-end %q: %w", backend, err)
			}
			stores = append(stores, store)
		case "redis":
			stores = append(stores, storage.NewRedisStore(redis.NewClient(&redis.Options{
				Addr:     c.Cache.Redis.Addr,
				Password: c.Cache.Redis.Password,
				DB:       c.Cache.Redis.DB,
			})))
		default:
			return nil, fmt.Errorf("unknown cache back-end %q", backend)
		}
	}

	switch len(stores) {
	case 0:
		return nil, nil
	case 1:
		return cache.New(stores[0]), nil
	default:
		return cache.New(storage.NewChainedStore(stores...)), nil
	}
}
