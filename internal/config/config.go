// Package config loads the relay's settings from an optional YAML file with
// environment-variable overrides, validated at startup, the same two-layer
// pattern as the teacher's HTTP-service config loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Sponsor SponsorConfig `yaml:"sponsor"`
	Chain   ChainConfig   `yaml:"chain"`
	Admin   AdminConfig   `yaml:"admin"`
	CORS    CORSConfig    `yaml:"cors"`
	Audit   AuditConfig   `yaml:"audit"`
	APIKeys APIKeysConfig `yaml:"api_keys"`
}

// APIKeysConfig points at the static key/tier file the Source in
// apikeystore reads; an empty Path means /sponsor serves no keys.
type APIKeysConfig struct {
	Path string `yaml:"path"`
}

// CORSConfig lists the origins/methods/headers the HTTP surface allows.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// AuditConfig points at the append-only pipeline-decision log file.
type AuditConfig struct {
	LogPath string `yaml:"log_path"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// SponsorConfig holds the sponsor wallet provisioning settings named in the
// External Interfaces configuration table.
type SponsorConfig struct {
	Mnemonic    string `yaml:"mnemonic"`
	PrivateKey  string `yaml:"private_key"`
	WalletCount int    `yaml:"wallet_count"`
}

type ChainConfig struct {
	Network     string   `yaml:"network"` // "mainnet" or "testnet"
	HiroAPIKey  string   `yaml:"hiro_api_key"`
	RPCEndpoints []string `yaml:"rpc_endpoints"`
}

type AdminConfig struct {
	Token string `yaml:"token"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Sponsor: SponsorConfig{WalletCount: 1},
		Chain:   ChainConfig{Network: "testnet"},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
		Audit: AuditConfig{LogPath: "data/audit.ndjson"},
	}
}

// Load reads an optional YAML file (missing file is not an error) and
// applies environment-variable overrides, then validates.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SPONSOR_MNEMONIC"); v != "" {
		cfg.Sponsor.Mnemonic = v
	}
	if v := os.Getenv("SPONSOR_PRIVATE_KEY"); v != "" {
		cfg.Sponsor.PrivateKey = v
	}
	if v := os.Getenv("SPONSOR_WALLET_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse SPONSOR_WALLET_COUNT: %w", err)
		}
		cfg.Sponsor.WalletCount = n
	}
	if v := os.Getenv("STACKS_NETWORK"); v != "" {
		cfg.Chain.Network = v
	}
	if v := os.Getenv("HIRO_API_KEY"); v != "" {
		cfg.Chain.HiroAPIKey = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Admin.Token = v
	}
	if v := os.Getenv("API_KEYS_PATH"); v != "" {
		cfg.APIKeys.Path = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Sponsor.Mnemonic == "" && c.Sponsor.PrivateKey == "" {
		return fmt.Errorf("sponsor.mnemonic or SPONSOR_PRIVATE_KEY is required")
	}
	if c.Sponsor.WalletCount < 1 || c.Sponsor.WalletCount > 10 {
		return fmt.Errorf("sponsor.wallet_count must be between 1 and 10, got %d", c.Sponsor.WalletCount)
	}
	if c.Chain.Network != "mainnet" && c.Chain.Network != "testnet" {
		return fmt.Errorf("chain.network must be mainnet or testnet, got %q", c.Chain.Network)
	}
	if len(c.Chain.RPCEndpoints) == 0 {
		return fmt.Errorf("chain.rpc_endpoints must have at least one entry")
	}
	return nil
}
