package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Change announces that the value under Key was rewritten by Origin.
// Receivers treat it as a hint to reload; the payload is never applied.
type Change struct {
	ID     string    `json:"id,omitempty"`
	Key    string    `json:"key"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Handler receives changes made by other origins.
type Handler func(Change)

// Broadcaster is the abstraction over different backends. Subscribers never
// see changes published with their own origin.
type Broadcaster interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, key, origin string, h Handler) (cancel func(), err error)
	Close() error
}

// NewOrigin returns a fresh execution-context identifier.
func NewOrigin() string { return uuid.NewString() }

// subBuffer bounds pending deliveries per subscriber. Overflow is dropped:
// a queued change already forces a reload that will read the latest value.
const subBuffer = 16

// Memory is an in-process fan-out for tests and single-process runs.
type Memory struct {
	mu   sync.RWMutex
	subs map[string]map[string]*memorySub
}

type memorySub struct {
	origin string
	ch     chan Change
}

// NewMemory creates an empty broadcaster.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[string]*memorySub)}
}

// Publish delivers c to every subscriber of c.Key except its origin.
func (m *Memory) Publish(ctx context.Context, c Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subs[c.Key] {
		if s.origin == c.Origin {
			continue
		}
		select {
		case s.ch <- c:
		default:
		}
	}
	return nil
}

// Subscribe runs h on its own goroutine until ctx ends or cancel is called.
func (m *Memory) Subscribe(ctx context.Context, key, origin string, h Handler) (func(), error) {
	id := uuid.NewString()
	s := &memorySub{origin: origin, ch: make(chan Change, subBuffer)}

	m.mu.Lock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[string]*memorySub)
	}
	m.subs[key][id] = s
	m.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[key], id)
			m.mu.Unlock()
			close(done)
		})
	}

	go func() {
		for {
			select {
			case c := <-s.ch:
				h(c)
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()
	return cancel, nil
}

func (m *Memory) Close() error { return nil }

// Redis implements the broadcaster with pub/sub so separate processes see
// each other's writes.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a broadcaster publishing on <prefix><key>.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "absensi:changes:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel used for key.
func (r *Redis) Channel(key string) string { return r.prefix + key }

// Publish sends c on the key's channel.
func (r *Redis) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.Channel(c.Key), payload).Err()
}

// Subscribe streams changes from the key's channel.
func (r *Redis) Subscribe(ctx context.Context, key, origin string, h Handler) (func(), error) {
	ps := r.client.Subscribe(ctx, r.Channel(key))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	var once sync.Once
	cancel := func() { once.Do(func() { _ = ps.Close() }) }

	go func() {
		defer cancel()
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c, err := decode(msg.Payload)
				if err != nil || c.Origin == origin {
					continue
				}
				h(c)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel, nil
}

func (r *Redis) Close() error { return nil }

var errEmptyKey = errors.New("change without key")

func decode(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, err
	}
	if c.Key == "" {
		return Change{}, errEmptyKey
	}
	return c, nil
}
