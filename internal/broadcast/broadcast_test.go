package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	got []Change
}

func (r *recorder) handle(c Change) {
	r.mu.Lock()
	r.got = append(r.got, c)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestMemoryExcludesOrigin(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	var a, other recorder
	cancelA, err := b.Subscribe(ctx, "absensi", "tab-a", a.handle)
	require.NoError(t, err)
	defer cancelA()
	cancelB, err := b.Subscribe(ctx, "absensi", "tab-b", other.handle)
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, b.Publish(ctx, Change{Key: "absensi", Origin: "tab-a", At: time.Now()}))

	assert.Eventually(t, func() bool { return other.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, a.count())
}

func TestMemoryKeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	var r recorder
	cancel, err := b.Subscribe(ctx, "absensi", "tab-a", r.handle)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, Change{Key: "other", Origin: "tab-b"}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, r.count())
}

func TestMemoryCancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	var r recorder
	cancel, err := b.Subscribe(ctx, "absensi", "tab-a", r.handle)
	require.NoError(t, err)
	cancel()
	cancel()

	require.NoError(t, b.Publish(ctx, Change{Key: "absensi", Origin: "tab-b"}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, r.count())
}

func TestMemoryContextEndsSubscription(t *testing.T) {
	b := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	var r recorder
	_, err := b.Subscribe(ctx, "absensi", "tab-a", r.handle)
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subs["absensi"]) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDecode(t *testing.T) {
	c, err := decode(`{"key":"absensi","origin":"x","at":"2024-01-01T00:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, "absensi", c.Key)
	assert.Equal(t, "x", c.Origin)

	_, err = decode(`{"origin":"x"}`)
	assert.ErrorIs(t, err, errEmptyKey)

	_, err = decode(`not json`)
	assert.Error(t, err)
}

func TestRedisChannel(t *testing.T) {
	r := NewRedis(nil, "")
	assert.Equal(t, "absensi:changes:absensi", r.Channel("absensi"))
}
