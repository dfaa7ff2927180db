package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type (
	Server struct {
		Addr string `toml:"addr"`
	}

	Mongo struct {
		URI      string `toml:"uri"`
		Database string `toml:"database"`
	}

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	}

	Config struct {
		Server Server `toml:"server"`
		Mongo  Mongo  `toml:"mongo"`
		Redis  Redis  `toml:"redis"`
	}
)

// Load reads a TOML config file and applies defaults for anything left
// unset.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: Server{Addr: "localhost:9090"},
		Mongo:  Mongo{URI: "mongodb://localhost:27017", Database: "chatcipher"},
		Redis:  Redis{Addr: "localhost:6379"},
	}
}
