package attendance

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"absensi/internal/blob"
	"absensi/internal/store"
)

var testNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := testNow
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(t *testing.T, kv store.KV, opts ...Option) *RecordStore {
	t.Helper()
	if kv == nil {
		kv = store.NewMemory()
	}
	opts = append([]Option{WithClock(fixedClock())}, opts...)
	return NewRecordStore(context.Background(), kv, opts...)
}

func photo(t *testing.T) *blob.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	f := blob.FromBytes("selfie.png", "image/png", buf.Bytes())
	return &f
}

func seed(t *testing.T, s *RecordStore, records ...Record) {
	t.Helper()
	require.NoError(t, s.Commit(context.Background(), ReplaceAll(records)))
}
