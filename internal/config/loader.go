package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment names.
const (
	EnvPrefix     = "POTALLY_"
	EnvConfigFile = "POTALLY_CONFIG"
	EnvDotFile    = "POTALLY_ENV_FILE"
)

// legacyEnv maps the variable names of earlier deployments to config keys.
var legacyEnv = map[string]string{ //nolint:gochecknoglobals // fixed table
	"DISCORD_TOKEN":     "discord_token",
	"TARGET_CHANNEL_ID": "target_channel_id",
}

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{ //nolint:gochecknoglobals // fixed table
	"admin_user_ids": true,
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if POTALLY_CONFIG is set
//  3. DISCORD_TOKEN and TARGET_CHANNEL_ID
//  4. env (prefix POTALLY_)
//
// A .env file (or POTALLY_ENV_FILE) is loaded into the environment first.
func Load(_ context.Context) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	base := New()
	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	legacy := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if name, ok := legacyEnv[key]; ok {
			return name, value
		}
		return "", nil
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// POTALLY_QUEUE_SIZE -> queue_size; underscores are kept to match the flat koanf tags.
	prefixed := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		if name == "config" || name == "env_file" {
			return "", nil
		}
		if listKeys[name] {
			return name, splitList(value)
		}
		return name, value
	})
	if err := k.Load(prefixed, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() error {
	path := os.Getenv(EnvDotFile)
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
