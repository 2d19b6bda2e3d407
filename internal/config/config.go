package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store and realtime driver names.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		Metrics        bool     `yaml:"metrics"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		// RatePerSecond and RateBurst limit inbound socket messages per connection.
		RatePerSecond float64 `yaml:"rate_per_second"`
		RateBurst     int     `yaml:"rate_burst"`
	} `yaml:"server"`
	Game struct {
		QuestionTimeout string `yaml:"question_timeout"`
		MaxScore        int    `yaml:"max_score"`
		CloseGrace      string `yaml:"close_grace"`
	} `yaml:"game"`
	Store struct {
		Driver string `yaml:"driver"`
		// CodeCacheTTL caches code lookups in front of the postgres and mongo stores.
		CodeCacheTTL string `yaml:"code_cache_ttl"`
	} `yaml:"store"`
	Realtime struct {
		Driver string `yaml:"driver"`
	} `yaml:"realtime"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Retention struct {
		Horizon  string `yaml:"horizon"`
		Interval string `yaml:"interval"`
	} `yaml:"retention"`
	Auth struct {
		SigningKey string `yaml:"signing_key"`
		TokenTTL   string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Default is the configuration used when no file is present: everything in memory.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Server.RatePerSecond = 10
	cfg.Server.RateBurst = 20
	cfg.Game.QuestionTimeout = "120s"
	cfg.Game.MaxScore = 120
	cfg.Game.CloseGrace = "100ms"
	cfg.Store.Driver = DriverMemory
	cfg.Store.CodeCacheTTL = "1m"
	cfg.Realtime.Driver = DriverMemory
	cfg.Redis.TTL = "24h"
	cfg.Mongo.Database = "quiz"
	cfg.Retention.Horizon = "24h"
	cfg.Retention.Interval = "1h"
	cfg.Auth.TokenTTL = "24h"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads YAML config from path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("store driver redis needs redis.addr")
		}
	case DriverPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("store driver postgres needs postgres.url")
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("store driver mongo needs mongo.uri")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Realtime.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("realtime driver redis needs redis.addr")
		}
	default:
		return fmt.Errorf("unknown realtime driver %q", c.Realtime.Driver)
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
