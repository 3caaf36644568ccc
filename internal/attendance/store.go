package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"absensi/internal/broadcast"
	"absensi/internal/metrics"
	"absensi/internal/store"
)

// DefaultKey is the storage key holding the whole collection.
const DefaultKey = "absensi"

// Op names a mutation kind.
type Op int

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
	OpReplaceAll
	OpClear
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpReplaceAll:
		return "replace_all"
	case OpClear:
		return "clear"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Mutation is one commit request. Build it with Insert, Update, Delete,
// ReplaceAll or Clear.
type Mutation struct {
	Op      Op
	ID      int64
	Record  Record
	Records []Record
}

func Insert(r Record) Mutation { return Mutation{Op: OpInsert, Record: r} }

// Update replaces the record with id. Status and Foto left empty keep the
// stored values; ID and CreatedAt are always kept.
func Update(id int64, r Record) Mutation { return Mutation{Op: OpUpdate, ID: id, Record: r} }

func Delete(id int64) Mutation { return Mutation{Op: OpDelete, ID: id} }

func ReplaceAll(rs []Record) Mutation { return Mutation{Op: OpReplaceAll, Records: rs} }

func Clear() Mutation { return Mutation{Op: OpClear} }

// Event tells views that the collection changed.
type Event struct {
	Op       Op // zero for external reloads
	External bool
	Records  int
}

// Listener observes committed changes in this process.
type Listener func(Event)

// RecordStore owns the canonical collection. Memory and storage never
// diverge: a commit is persisted before it becomes visible.
type RecordStore struct {
	mu      sync.RWMutex
	records []Record

	kv     store.KV
	bc     broadcast.Broadcaster
	key    string
	origin string
	ids    *IDGenerator
	logger *zap.Logger
	now    func() time.Time

	lmu       sync.Mutex
	listeners map[int]Listener
	nextL     int
}

// Option customizes a RecordStore.
type Option func(*RecordStore)

func WithKey(key string) Option { return func(s *RecordStore) { s.key = key } }

// WithOrigin sets the execution-context id used to ignore our own changes.
func WithOrigin(origin string) Option { return func(s *RecordStore) { s.origin = origin } }

func WithBroadcaster(b broadcast.Broadcaster) Option {
	return func(s *RecordStore) { s.bc = b }
}

func WithLogger(l *zap.Logger) Option { return func(s *RecordStore) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *RecordStore) { s.now = now } }

// NewRecordStore loads the collection from kv.
func NewRecordStore(ctx context.Context, kv store.KV, opts ...Option) *RecordStore {
	s := &RecordStore{
		kv:        kv,
		key:       DefaultKey,
		ids:       NewIDGenerator(),
		logger:    zap.NewNop(),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bc == nil {
		s.bc = broadcast.NewMemory()
	}
	if s.origin == "" {
		s.origin = broadcast.NewOrigin()
	}
	s.records = s.Load(ctx)
	return s
}

func (s *RecordStore) Key() string    { return s.key }
func (s *RecordStore) Origin() string { return s.origin }

// Now returns the store clock.
func (s *RecordStore) Now() time.Time { return s.now() }

// NextID mints an id greater than any id seen by this store.
func (s *RecordStore) NextID(t time.Time) int64 { return s.ids.NextID(t) }

// Load reads the persisted collection. It never fails: an absent key, an
// unreachable backend and a corrupt value all yield an empty collection.
func (s *RecordStore) Load(ctx context.Context) []Record {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, store.ErrNotFound) {
		return []Record{}
	}
	if err != nil {
		metrics.LoadFailures.Inc()
		s.logger.Warn("load records", zap.String("key", s.key), zap.Error(err))
		return []Record{}
	}
	records, err := DecodeRecords(raw)
	if err != nil {
		metrics.LoadFailures.Inc()
		s.logger.Warn("load records", zap.String("key", s.key), zap.Error(err))
		return []Record{}
	}
	for _, r := range records {
		s.ids.Observe(r.ID)
	}
	return records
}

// DecodeRecords parses a persisted collection.
func DecodeRecords(raw []byte) ([]Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []Record{}, nil
	}
	if raw[0] != '[' {
		return nil, ErrStorageParse
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageParse, err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// EncodeRecords serializes a collection; nil encodes as [].
func EncodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

// Persist writes records under the store key in one call.
func (s *RecordStore) Persist(ctx context.Context, records []Record) error {
	b, err := EncodeRecords(records)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key, b)
}

// Records returns a copy of the collection in stored order.
func (s *RecordStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Get returns the record with id.
func (s *RecordStore) Get(id int64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := indexOf(s.records, id)
	if i < 0 {
		return Record{}, false
	}
	return s.records[i], true
}

func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Commit applies m, persists the result and then makes it visible. On a
// persist failure the in-memory collection is left untouched.
func (s *RecordStore) Commit(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	next, err := s.apply(s.records, m)
	if err != nil {
		s.mu.Unlock()
		metrics.Commits.WithLabelValues(m.Op.String(), "rejected").Inc()
		return err
	}
	if m.Op == OpClear {
		err = s.kv.Delete(ctx, s.key)
	} else {
		err = s.Persist(ctx, next)
	}
	if err != nil {
		s.mu.Unlock()
		metrics.Commits.WithLabelValues(m.Op.String(), "error").Inc()
		s.logger.Error("persist records", zap.String("op", m.Op.String()), zap.Error(err))
		return fmt.Errorf("persist %s: %w", m.Op, err)
	}
	s.records = next
	n := len(next)
	s.mu.Unlock()

	metrics.Commits.WithLabelValues(m.Op.String(), "ok").Inc()
	s.notify(Event{Op: m.Op, Records: n})

	c := broadcast.Change{Key: s.key, Origin: s.origin, At: s.now().UTC()}
	if err := s.bc.Publish(ctx, c); err != nil {
		s.logger.Warn("publish change", zap.String("key", s.key), zap.Error(err))
	}
	return nil
}

func (s *RecordStore) apply(cur []Record, m Mutation) ([]Record, error) {
	switch m.Op {
	case OpInsert:
		r := m.Record
		if r.ID == 0 {
			r.ID = s.ids.NextID(s.now())
		}
		if indexOf(cur, r.ID) >= 0 {
			return nil, fmt.Errorf("insert: id %d already exists", r.ID)
		}
		if r.Status == "" {
			r.Status = StatusPending
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = CreatedAtFromID(r.ID)
		}
		s.ids.Observe(r.ID)
		next := make([]Record, 0, len(cur)+1)
		return append(append(next, cur...), r), nil
	case OpUpdate:
		next := slices.Clone(cur)
		i := indexOf(next, m.ID)
		if i < 0 {
			return next, nil
		}
		prev := next[i]
		upd := m.Record
		upd.ID = prev.ID
		upd.CreatedAt = prev.CreatedAt
		if upd.Status == "" {
			upd.Status = prev.Status
		}
		if upd.Foto == "" {
			upd.Foto = prev.Foto
		}
		next[i] = upd
		return next, nil
	case OpDelete:
		return slices.DeleteFunc(slices.Clone(cur), func(r Record) bool { return r.ID == m.ID }), nil
	case OpReplaceAll:
		next := NormalizeIDs(m.Records, s.ids, s.now())
		for _, r := range next {
			s.ids.Observe(r.ID)
		}
		return next, nil
	case OpClear:
		return []Record{}, nil
	}
	return nil, fmt.Errorf("unknown op %s", m.Op)
}

func indexOf(records []Record, id int64) int {
	return slices.IndexFunc(records, func(r Record) bool { return r.ID == id })
}

// Subscribe registers a same-process listener. It runs after every commit
// and every external reload, outside the store lock.
func (s *RecordStore) Subscribe(l Listener) (cancel func()) {
	s.lmu.Lock()
	id := s.nextL
	s.nextL++
	s.listeners[id] = l
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *RecordStore) notify(ev Event) {
	s.lmu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// Reload replaces the collection with what storage holds now. Nothing is
// merged.
func (s *RecordStore) Reload(ctx context.Context) {
	s.mu.Lock()
	s.records = s.Load(ctx)
	n := len(s.records)
	s.mu.Unlock()
	metrics.ExternalReloads.Inc()
	s.notify(Event{External: true, Records: n})
}

// Watch reloads whenever another execution context commits under the same
// key.
func (s *RecordStore) Watch(ctx context.Context) (cancel func(), err error) {
	return s.bc.Subscribe(ctx, s.key, s.origin, func(broadcast.Change) {
		s.logger.Debug("external change", zap.String("key", s.key))
		s.Reload(ctx)
	})
}
