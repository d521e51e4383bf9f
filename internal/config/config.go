// Package config loads the orchestrator's YAML configuration, mirroring
// the teacher's config.Load()/applyEnv() layering: defaults() first, then
// an optional YAML file (with os.ExpandEnv applied before parsing), then
// explicit environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	DataRoot  string          `yaml:"data_root"`
	Container ContainerConfig `yaml:"container"`
	NATS      NATSConfig      `yaml:"nats"`
	Registry  RegistryConfig  `yaml:"registry"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Vault     VaultConfig     `yaml:"vault"`
}

// ContainerConfig configures the Container Supervisor (spec.md §4.6).
type ContainerConfig struct {
	Backend        string        `yaml:"backend"` // CONTAINER_BACKEND, e.g. "local-docker"
	Image          string        `yaml:"image"`
	MaxRunning     int           `yaml:"max_running"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ProviderAPIKey string        `yaml:"provider_api_key"`
	CallTimeout    time.Duration `yaml:"call_timeout"` // spec.md §5 default 30s
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// RegistryConfig configures the Swarm Registry (spec.md §4.7).
type RegistryConfig struct {
	DBPath           string `yaml:"db_path"`
	ConfigPath       string `yaml:"config_path"` // swarm.json
	AutoConnectHuman bool   `yaml:"auto_connect_human"`
}

// GatewayConfig configures the External Gateway (spec.md §4.9).
type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Auth       string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WatcherConfig configures the Outbox Watcher poll cadence (spec.md §4.2).
type WatcherConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		DataRoot: "data",
		Container: ContainerConfig{
			Backend:     "local-docker",
			Image:       "hive-agent:latest",
			MaxRunning:  10,
			IdleTimeout: 30 * time.Minute,
			CallTimeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Registry: RegistryConfig{
			DBPath:     "data/hive.db",
			ConfigPath: "data/swarm.json",
		},
		Gateway: GatewayConfig{
			ListenAddr: ":8080",
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Watcher: WatcherConfig{
			PollInterval: 200 * time.Millisecond,
		},
	}
}

// Load reads HIVE_CONFIG (default config/hive.yaml), tolerating a missing
// file, then applies environment variable overrides.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("HIVE_CONFIG")
	if path == "" {
		path = "config/hive.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv applies the environment variables spec.md §6 names
// (PROVIDER_API_KEY, DATA_ROOT, LISTEN_ADDR, CONTAINER_BACKEND) plus the
// ambient ones SPEC_FULL.md §6 adds (HIVE_CONFIG is consumed in Load;
// HIVE_VAULT_PASSPHRASE here).
func applyEnv(cfg *Config) {
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Container.ProviderAPIKey = v
	}
	if v := os.Getenv("DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Gateway.ListenAddr = v
	}
	if v := os.Getenv("CONTAINER_BACKEND"); v != "" {
		cfg.Container.Backend = v
	}
	if v := os.Getenv("HIVE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("HIVE_GATEWAY_AUTH"); v != "" {
		cfg.Gateway.Auth = v
	}
	if v := os.Getenv("HIVE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
}
