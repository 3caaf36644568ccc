package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("store: key not found")

// KV is a persisted key-value medium. Each Set replaces the whole value in
// a single write.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string // sqlite, postgres, redis or memory
	SQLitePath  string
	DatabaseURL string
	RedisAddr   string
}

// Open returns the backend named in opts.
func Open(ctx context.Context, opts Options) (KV, error) {
	switch opts.Backend {
	case "", "sqlite":
		return NewSQLite(ctx, opts.SQLitePath)
	case "postgres":
		return NewPostgres(ctx, opts.DatabaseURL)
	case "redis":
		r := NewRedis(opts.RedisAddr)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		return r, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
