package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/okian/potally/internal/domain/model"
)

const defaultRedisPrefix = "potally"

// RedisBackend stores counts in a hash <prefix>:counts and insertion order in
// a list <prefix>:order. Writes go through MULTI/EXEC.
type RedisBackend struct {
	client    *redis.Client
	countsKey string
	orderKey  string
}

// OpenRedisBackend connects and pings the server.
func OpenRedisBackend(ctx context.Context, addr, password string, db int, prefix string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisBackend(client, prefix), nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{
		client:    client,
		countsKey: prefix + ":counts",
		orderKey:  prefix + ":order",
	}
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) ([]model.CounterRecord, error) {
	var (
		orderCmd  *redis.StringSliceCmd
		countsCmd *redis.MapStringStringCmd
	)
	_, err := b.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		orderCmd = p.LRange(ctx, b.orderKey, 0, -1)
		countsCmd = p.HGetAll(ctx, b.countsKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load redis: %w", err)
	}

	raw := countsCmd.Val()
	out := make([]model.CounterRecord, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	appendRec := func(id string) error {
		v, ok := raw[id]
		if !ok {
			return nil
		}
		if _, dup := seen[id]; dup {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: count for %q is %q", ErrCorruptState, id, v)
		}
		seen[id] = struct{}{}
		out = append(out, model.CounterRecord{UserID: id, Count: n})
		return nil
	}
	for _, id := range orderCmd.Val() {
		if err := appendRec(id); err != nil {
			return nil, err
		}
	}
	for id := range raw {
		if err := appendRec(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Put upserts one record.
func (b *RedisBackend) Put(ctx context.Context, rec model.CounterRecord) error {
	exists, err := b.client.HExists(ctx, b.countsKey, rec.UserID).Result()
	if err != nil {
		return fmt.Errorf("redis hexists: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, b.countsKey, rec.UserID, rec.Count)
		if !exists {
			p.RPush(ctx, b.orderKey, rec.UserID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", rec.UserID, err)
	}
	return nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, records []model.CounterRecord) error {
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, b.countsKey, b.orderKey)
		if len(records) == 0 {
			return nil
		}
		fields := make([]any, 0, 2*len(records))
		ids := make([]any, 0, len(records))
		for _, r := range records {
			fields = append(fields, r.UserID, r.Count)
			ids = append(ids, r.UserID)
		}
		p.HSet(ctx, b.countsKey, fields...)
		p.RPush(ctx, b.orderKey, ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error { return b.client.Close() }
