package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Model       ModelConfig               `json:"model"`
	Redis       RedisConfig               `json:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// Upper bound on concurrently running inference processes and on
	// requests queued behind them.
	MaxConcurrent int `json:"max_concurrent_generations"`
	QueueSize     int `json:"generation_queue_size"`
	// Non-streaming invocation timeout; 0 means the built-in default.
	InvokerTimeoutSeconds int `json:"invoker_timeout_seconds"`
}

type ModelConfig struct {
	// Path to the GGUF model file. Required.
	Path string `json:"path"`
	// Path to the llama-cli style executable.
	Executable string `json:"executable"`
}

type RedisConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

// defaultExecutable matches where the inference framework's build tree
// places llama-cli.
const defaultExecutable = "build/bin/llama-cli"

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Model.Path == "" {
		return nil, fmt.Errorf("model.path must be configured")
	}
	if cfg.Model.Executable == "" {
		cfg.Model.Executable = defaultExecutable
	}

	baseDir := filepath.Dir(absPath)
	if !filepath.IsAbs(cfg.Model.Path) {
		cfg.Model.Path = filepath.Join(baseDir, cfg.Model.Path)
	}
	if !filepath.IsAbs(cfg.Model.Executable) {
		cfg.Model.Executable = filepath.Join(baseDir, cfg.Model.Executable)
	}

	return &cfg, nil
}
