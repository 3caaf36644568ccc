package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"absensi/internal/store"
)

// Medium is the shared storage a Poll broadcaster keeps its change marker
// in. store.KV satisfies it.
type Medium interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// DefaultPollInterval is how often subscribers read the change marker.
const DefaultPollInterval = 500 * time.Millisecond

// Poll signals changes through the storage medium itself: Publish writes a
// marker next to the collection and subscribers read it on a ticker. Any
// process sharing the medium sees the others' writes, with no extra
// infrastructure.
type Poll struct {
	medium   Medium
	interval time.Duration
}

// NewPoll builds a broadcaster over medium.
func NewPoll(medium Medium, interval time.Duration) *Poll {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poll{medium: medium, interval: interval}
}

// MarkerKey is the medium key holding the latest change for key.
func MarkerKey(key string) string { return key + ":changed" }

// Publish records c as the latest change. Every publish gets a fresh ID so
// repeated changes from one origin are distinguishable.
func (p *Poll) Publish(ctx context.Context, c Change) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return p.medium.Set(ctx, MarkerKey(c.Key), payload)
}

// Subscribe polls the marker until ctx ends or cancel is called. The
// marker present at subscription time is not delivered. Changes published
// by several origins within one interval collapse into the last one.
func (p *Poll) Subscribe(ctx context.Context, key, origin string, h Handler) (func(), error) {
	last, err := p.read(ctx, key)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	go func() {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
			}
			raw, err := p.read(ctx, key)
			if err != nil || raw == nil || bytes.Equal(raw, last) {
				continue
			}
			last = raw
			c, err := decode(string(raw))
			if err != nil || c.Origin == origin {
				continue
			}
			h(c)
		}
	}()
	return cancel, nil
}

// read returns the raw marker, nil when none was written yet.
func (p *Poll) read(ctx context.Context, key string) ([]byte, error) {
	raw, err := p.medium.Get(ctx, MarkerKey(key))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

func (p *Poll) Close() error { return nil }
