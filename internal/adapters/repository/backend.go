package repository

import (
	"context"
	"fmt"
	"strings"
)

// Kind names a durable backend.
type Kind string

// Supported backends.
const (
	KindFile     Kind = "file"
	KindBolt     Kind = "bolt"
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFile, KindBolt, KindRedis, KindPostgres:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Kind Kind

	FilePath string
	BoltPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	PostgresDSN string
}

// OpenBackend opens the backend named by cfg.Kind.
func OpenBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case KindFile, "":
		return NewFileBackend(cfg.FilePath), nil
	case KindBolt:
		return OpenBoltBackend(cfg.BoltPath)
	case KindRedis:
		return OpenRedisBackend(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	case KindPostgres:
		return OpenPostgresBackend(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Kind)
	}
}
