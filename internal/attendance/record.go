package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Status is the triage state of a record.
type Status string

const (
	StatusPending  Status = "Menunggu"
	StatusAccepted Status = "Diterima"
	StatusRejected Status = "Ditolak"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPending, StatusAccepted, StatusRejected}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(v string) (Status, error) {
	for _, s := range Statuses {
		if strings.EqualFold(strings.TrimSpace(v), string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
}

// Record is one attendance entry.
type Record struct {
	ID        int64
	Nama      string
	Telp      string
	Foto      string // data URI, empty when no photo
	Status    Status
	CreatedAt time.Time
}

// HasPhoto reports whether the record carries an embedded photo.
func (r Record) HasPhoto() bool { return r.Foto != "" }

// recordJSON is the persisted shape. Foto is a pointer so an empty photo is
// written as null.
type recordJSON struct {
	ID        int64     `json:"id"`
	Nama      string    `json:"nama"`
	Telp      string    `json:"telp"`
	Foto      *string   `json:"foto"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// MarshalJSON writes the canonical record shape.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:        r.ID,
		Nama:      r.Nama,
		Telp:      r.Telp,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if out.Status == "" {
		out.Status = StatusPending
	}
	if r.Foto != "" {
		foto := r.Foto
		out.Foto = &foto
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the canonical shape and the older variants: the
// "telepon" key, missing status, missing createdAt and fractional ids.
func (r *Record) UnmarshalJSON(b []byte) error {
	var in struct {
		ID        json.Number `json:"id"`
		Nama      string      `json:"nama"`
		Telp      string      `json:"telp"`
		Telepon   string      `json:"telepon"`
		Foto      *string     `json:"foto"`
		Status    string      `json:"status"`
		CreatedAt *time.Time  `json:"createdAt"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	id, err := parseID(in.ID)
	if err != nil {
		return err
	}

	rec := Record{ID: id, Nama: in.Nama, Telp: in.Telp, Status: StatusPending}
	if rec.Telp == "" {
		rec.Telp = in.Telepon
	}
	if in.Foto != nil {
		rec.Foto = *in.Foto
	}
	if in.Status != "" {
		s, err := ParseStatus(in.Status)
		if err != nil {
			return err
		}
		rec.Status = s
	}
	switch {
	case in.CreatedAt != nil && !in.CreatedAt.IsZero():
		rec.CreatedAt = in.CreatedAt.UTC()
	case id > 0:
		rec.CreatedAt = CreatedAtFromID(id)
	}
	*r = rec
	return nil
}

func parseID(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", n.String(), err)
	}
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("invalid id %q: out of range", n.String())
	}
	return int64(f), nil
}

// legacyIDLimit separates plain millisecond ids from ids that carry a
// three-digit tie-breaker.
const legacyIDLimit = 1e14

// CreatedAtFromID recovers the creation instant encoded in an id.
func CreatedAtFromID(id int64) time.Time {
	if id < legacyIDLimit {
		return time.UnixMilli(id).UTC()
	}
	return time.UnixMilli(id / 1000).UTC()
}

// IDGenerator issues ids of the form UnixMilli*1000 + random(0..999). Ids
// are strictly increasing per generator.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	rnd  func(n int) int
}

// NewIDGenerator returns a generator backed by math/rand.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{rnd: rand.Intn}
}

// NextID returns a fresh id for a record created at t.
func (g *IDGenerator) NextID(t time.Time) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := t.UnixMilli()*1000 + int64(g.rnd(1000))
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// Observe makes sure later ids are greater than id.
func (g *IDGenerator) Observe(id int64) {
	g.mu.Lock()
	if id > g.last {
		g.last = id
	}
	g.mu.Unlock()
}

// IDSource is anything that can mint record ids.
type IDSource interface {
	NextID(t time.Time) int64
}

// Errors shared by the controllers.
var (
	ErrNotFound      = errors.New("record not found")
	ErrNotConfirmed  = errors.New("action not confirmed")
	ErrInvalidStatus = errors.New("invalid status")
	ErrStorageParse  = errors.New("persisted collection is not a valid record array")

	ErrMergeNotAllowed = errors.New("import cannot be merged")
)

// ValidationError reports the first failed submission rule.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Rule)
}

// NormalizeIDs returns records where every id is non-zero and unique,
// assigning fresh ids from ids where needed. Order is preserved.
func NormalizeIDs(records []Record, ids IDSource, now time.Time) []Record {
	out := make([]Record, len(records))
	seen := make(map[int64]struct{}, len(records))
	for i, r := range records {
		if _, dup := seen[r.ID]; r.ID == 0 || dup {
			r.ID = ids.NextID(now)
			if r.CreatedAt.IsZero() {
				r.CreatedAt = now.UTC()
			}
		}
		if r.Status == "" {
			r.Status = StatusPending
		}
		seen[r.ID] = struct{}{}
		out[i] = r
	}
	return out
}
