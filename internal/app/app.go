// Package app wires the configured storage and broadcaster into a record
// store. The API server and the CLI are separate execution contexts built
// from the same wiring.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"absensi/internal/attendance"
	"absensi/internal/broadcast"
	"absensi/internal/config"
	"absensi/internal/store"
)

// Runtime is an opened record store with the resources behind it.
type Runtime struct {
	KV          store.KV
	Broadcaster broadcast.Broadcaster
	Store       *attendance.RecordStore
	Admin       *attendance.AdminController

	redis    *store.Redis // pub/sub connection, nil unless broadcasting over redis
	ownRedis bool
}

func storeBackend(cfg config.App) string {
	if cfg.StoreBackend == "" {
		return "sqlite"
	}
	return cfg.StoreBackend
}

// BroadcastBackend resolves "auto": pub/sub when the store is redis, the
// in-process fan-out when the store is memory, and polling the shared
// medium for sqlite and postgres.
func BroadcastBackend(cfg config.App) string {
	if cfg.BroadcastBackend != "" && cfg.BroadcastBackend != "auto" {
		return cfg.BroadcastBackend
	}
	switch storeBackend(cfg) {
	case "redis":
		return "redis"
	case "memory":
		return "memory"
	}
	return "poll"
}

// Open connects the configured backends and loads the collection.
func Open(ctx context.Context, cfg config.App, logger *zap.Logger) (*Runtime, error) {
	kv, err := store.Open(ctx, store.Options{
		Backend:     cfg.StoreBackend,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
		RedisAddr:   cfg.RedisAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	rt := &Runtime{KV: kv}

	backend := BroadcastBackend(cfg)
	switch backend {
	case "memory":
		if storeBackend(cfg) != "memory" {
			_ = kv.Close()
			return nil, fmt.Errorf("broadcast backend memory cannot reach other processes sharing the %s store, use poll or redis", storeBackend(cfg))
		}
		rt.Broadcaster = broadcast.NewMemory()
	case "poll":
		rt.Broadcaster = broadcast.NewPoll(kv, cfg.BroadcastPoll)
	case "redis":
		client, err := rt.redisClient(ctx, cfg)
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("open redis broadcaster: %w", err)
		}
		rt.Broadcaster = broadcast.NewRedis(client, "")
	default:
		_ = kv.Close()
		return nil, fmt.Errorf("unknown broadcast backend %q", cfg.BroadcastBackend)
	}

	rt.Store = attendance.NewRecordStore(ctx, kv,
		attendance.WithKey(cfg.StorageKey),
		attendance.WithBroadcaster(rt.Broadcaster),
		attendance.WithLogger(logger),
	)
	rt.Admin = attendance.NewAdminController(rt.Store)

	logger.Info("record store opened",
		zap.String("backend", cfg.StoreBackend),
		zap.String("broadcast", backend),
		zap.String("key", rt.Store.Key()),
		zap.String("origin", rt.Store.Origin()),
		zap.Int("records", rt.Store.Len()),
	)
	return rt, nil
}

func (rt *Runtime) redisClient(ctx context.Context, cfg config.App) (*redis.Client, error) {
	if r, ok := rt.KV.(*store.Redis); ok {
		rt.redis = r
		return r.Client, nil
	}
	r := store.NewRedis(cfg.RedisAddr)
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	rt.redis, rt.ownRedis = r, true
	return r.Client, nil
}

// Health reports reachability of the store and, when changes travel over
// redis, of the redis connection.
func (rt *Runtime) Health(ctx context.Context) map[string]bool {
	h := map[string]bool{"store": rt.KV.Ping(ctx) == nil}
	if rt.redis != nil {
		h["redis"] = rt.redis.Healthy(ctx)
	}
	return h
}

// Close releases the broadcaster and storage connections.
func (rt *Runtime) Close() error {
	errs := []error{rt.Broadcaster.Close()}
	if rt.ownRedis {
		errs = append(errs, rt.redis.Close())
	}
	return errors.Join(append(errs, rt.KV.Close())...)
}
