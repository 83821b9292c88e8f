package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFileName   = "sessiongate.yaml"
	alternateConfigFileName = "sessiongate.yml"
)

type fileConfig struct {
	Version         int              `yaml:"version"`
	HTTPAddr        string           `yaml:"http_addr"`
	Port            int              `yaml:"port"`
	MaxSessions     *int             `yaml:"max_sessions"`
	IdleTimeoutMS   *int64           `yaml:"idle_timeout_ms"`
	SweepInterval   string           `yaml:"sweep_interval"`
	SendTimeout     string           `yaml:"send_timeout"`
	ShutdownTimeout string           `yaml:"shutdown_timeout"`
	DB              fileDBConfig     `yaml:"db"`
	BridgeURL       string           `yaml:"bridge_url"`
	WebhookURLs     []string         `yaml:"webhook_urls"`
	Log             fileLogConfig    `yaml:"log"`
	Resume          fileResumeConfig `yaml:"resume"`
	NotifyQueueSize *int             `yaml:"notify_queue_size"`
}

type fileDBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type fileLogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type fileResumeConfig struct {
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

func loadFileConfig() (fileConfig, error) {
	path, ok, err := resolveConfigFilePath()
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

// resolveConfigFilePath prefers the explicit env path and falls back to the working directory.
func resolveConfigFilePath() (string, bool, error) {
	if explicit := EnvString(EnvConfigFile); explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", explicit, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", explicit)
		}
		return explicit, true, nil
	}

	for _, candidate := range []string{defaultConfigFileName, alternateConfigFileName} {
		info, err := os.Stat(filepath.Clean(candidate))
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", false, nil
}
