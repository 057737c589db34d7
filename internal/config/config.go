// Package config defines process configuration and its loading.
//
// Values are layered: defaults from New, then an optional YAML file, then
// the environment. A .env file in the working directory is read first and
// never overrides variables that are already set.
package config

import (
	"fmt"
	"strings"

	"github.com/okian/potally/internal/adapters/repository"
	service "github.com/okian/potally/internal/app"
	"github.com/okian/potally/internal/domain/ranking"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080". Empty disables HTTP.
	Addr string `koanf:"addr"`

	DiscordToken    string `koanf:"discord_token"`
	TargetChannelID string `koanf:"target_channel_id"`

	// Token is the word being counted.
	Token         string   `koanf:"token"`
	CommandPrefix string   `koanf:"command_prefix"`
	AdminUserIDs  []string `koanf:"admin_user_ids"`
	// AdminToken guards POST /resync. Empty disables the endpoint.
	AdminToken string `koanf:"admin_token"`

	StoreBackend  string `koanf:"store_backend"`
	StorePath     string `koanf:"store_path"`
	BoltPath      string `koanf:"bolt_path"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`
	PostgresDSN   string `koanf:"postgres_dsn"`

	QueueSize          int    `koanf:"queue_size"`
	DedupeSize         int    `koanf:"dedupe_size"`
	ResyncOnStartup    bool   `koanf:"resync_on_startup"`
	ResyncBufferPolicy string `koanf:"resync_buffer_policy"`
	HistoryPageSize    int    `koanf:"history_page_size"`

	DefaultLeaderboardLimit int `koanf:"default_leaderboard_limit"`
}

// New returns a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		Token:                   "po",
		CommandPrefix:           "!",
		StoreBackend:            string(repository.KindFile),
		StorePath:               repository.DefaultFilePath,
		BoltPath:                "po_counts.db",
		RedisAddr:               "localhost:6379",
		RedisPrefix:             "potally",
		QueueSize:               4096,
		DedupeSize:              50_000,
		ResyncOnStartup:         true,
		ResyncBufferPolicy:      string(service.BufferDiscard),
		HistoryPageSize:         100,
		DefaultLeaderboardLimit: ranking.DefaultLimit,
	}
}

// Validate checks required values and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DiscordToken) == "" {
		problems = append(problems, "discord_token is required")
	}
	if strings.TrimSpace(c.TargetChannelID) == "" {
		problems = append(problems, "target_channel_id is required")
	}
	if c.Token == "" {
		problems = append(problems, "token must not be empty")
	}
	if c.CommandPrefix == "" {
		problems = append(problems, "command_prefix must not be empty")
	}
	if _, err := repository.ParseKind(c.StoreBackend); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := service.ParseBufferPolicy(c.ResyncBufferPolicy); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log_format %q", c.LogFormat))
	}
	if c.HistoryPageSize < 1 || c.HistoryPageSize > 100 {
		problems = append(problems, "history_page_size must be in [1, 100]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// JSONLogs reports whether logs should be written as JSON lines.
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(c.LogFormat, "json")
}

// Backend returns the store backend selection.
func (c *Config) Backend() repository.BackendConfig {
	kind, _ := repository.ParseKind(c.StoreBackend)
	return repository.BackendConfig{
		Kind:          kind,
		FilePath:      c.StorePath,
		BoltPath:      c.BoltPath,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		RedisPrefix:   c.RedisPrefix,
		PostgresDSN:   c.PostgresDSN,
	}
}

// BufferPolicy returns the parsed resync buffer policy.
func (c *Config) BufferPolicy() service.BufferPolicy {
	p, err := service.ParseBufferPolicy(c.ResyncBufferPolicy)
	if err != nil {
		return service.BufferDiscard
	}
	return p
}
