package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Settings are the process level options read from the environment and an optional .env file.
type Settings struct {
	OllamaBaseURL    string        `mapstructure:"ollama_base_url"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	LogFile          string        `mapstructure:"log_file"`
	OutputDir        string        `mapstructure:"default_output_dir"`
	DefaultMode      string        `mapstructure:"default_mode"`
	SessionDir       string        `mapstructure:"session_dir"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db"`
	SingleModelName  string        `mapstructure:"single_model"`
	SingleModelVRAM  int           `mapstructure:"single_model_vram"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
	SessionKey       string        `mapstructure:"session_key"`
	SessionOldKeys   string        `mapstructure:"session_old_keys"`
	RedactKeys       string        `mapstructure:"session_redact_keys"`
}

var settingDefaults = map[string]any{
	"ollama_base_url":     "http://localhost:11434",
	"log_level":           "info",
	"log_format":          "text",
	"log_file":            "",
	"default_output_dir":  "./outputs",
	"default_mode":        "research",
	"session_dir":         ".zen/sessions",
	"redis_addr":          "",
	"redis_password":      "",
	"redis_db":            0,
	"single_model":        "",
	"single_model_vram":   5000,
	"inference_timeout":   "30m",
	"session_key":         "",
	"session_old_keys":    "",
	"session_redact_keys": "",
}

// LoadSettings reads envFile when it exists, then the process environment,
// which takes precedence. An empty envFile means ".env" in the working directory.
func LoadSettings(envFile string) (Settings, error) {
	v := viper.New()
	for k, val := range settingDefaults {
		v.SetDefault(k, val)
	}

	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("stat %s: %w", envFile, err)
	}
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}
