// Package config loads faktwerk settings from a TOML file with environment
// overrides. Precedence is flag > environment > file > default; flags are
// applied by the caller after Load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds all recognized options.
type Config struct {
	ProviderURL    string  `toml:"provider_url"`
	Model          string  `toml:"model"`
	APIKey         string  `toml:"api_key"`
	SystemPrompt   string  `toml:"system_prompt"`
	ReportLanguage string  `toml:"report_language"`
	Temperature    float64 `toml:"temperature"`
	MaxToolRounds  int     `toml:"max_tool_rounds"`
	Port           int     `toml:"port"`
	DBPath         string  `toml:"db_path"`
	LogDir         string  `toml:"log_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ProviderURL:    "https://api.openai.com/v1",
		Model:          "gpt-4o-mini",
		ReportLanguage: "English",
		Temperature:    0.2,
		MaxToolRounds:  100,
		Port:           19333,
	}
}

// DefaultPath returns ~/.config/faktwerk/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "faktwerk", "config.toml"), nil
}

// Load reads the config file at path (a missing file is not an error) and
// applies FAKTWERK_* environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FAKTWERK_PROVIDER_URL"); v != "" {
		cfg.ProviderURL = v
	}
	if v := os.Getenv("FAKTWERK_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("FAKTWERK_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("FAKTWERK_SYSTEM_PROMPT"); v != "" {
		cfg.SystemPrompt = v
	}
	if v := os.Getenv("FAKTWERK_REPORT_LANGUAGE"); v != "" {
		cfg.ReportLanguage = v
	}
	if v := os.Getenv("FAKTWERK_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Temperature = f
		}
	}
	if v := os.Getenv("FAKTWERK_MAX_TOOL_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxToolRounds = n
		}
	}
	if v := os.Getenv("FAKTWERK_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}
	if v := os.Getenv("FAKTWERK_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FAKTWERK_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
}
