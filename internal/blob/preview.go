package blob

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrPreviewNotFound covers unknown, revoked, expired and forged tokens.
var ErrPreviewNotFound = errors.New("preview not found")

const previewSubject = "preview"

// Previews holds transient in-memory references to uploaded photos so a
// form can show one before it is submitted. References are signed,
// expiring tokens and are never persisted.
type Previews struct {
	codec  *Codec
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]previewEntry
}

type previewEntry struct {
	mime    string
	data    []byte
	expires time.Time
}

// NewPreviews creates a registry signing tokens with secret.
func NewPreviews(codec *Codec, secret []byte, ttl time.Duration) *Previews {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Previews{
		codec:   codec,
		secret:  secret,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]previewEntry),
	}
}

// Create stores f and returns a token that opens it until expiry.
func (p *Previews) Create(ctx context.Context, f File) (string, time.Time, error) {
	mt, data, err := p.codec.Read(ctx, f)
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now()
	exp := now.Add(p.ttl)
	id := uuid.NewString()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        id,
		Subject:   previewSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	p.mu.Lock()
	p.entries[id] = previewEntry{mime: mt, data: data, expires: exp}
	p.mu.Unlock()
	return token, exp, nil
}

// Open returns the photo behind token.
func (p *Previews) Open(token string) (string, []byte, error) {
	id, err := p.parse(token, true)
	if err != nil {
		return "", nil, ErrPreviewNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok || !p.now().Before(e.expires) {
		return "", nil, ErrPreviewNotFound
	}
	return e.mime, e.data, nil
}

// Revoke releases the photo behind token. Expired tokens can still be
// revoked. It reports whether anything was released.
func (p *Previews) Revoke(token string) bool {
	if token == "" {
		return false
	}
	id, err := p.parse(token, false)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; !ok {
		return false
	}
	delete(p.entries, id)
	return true
}

// Sweep drops expired entries and returns how many were removed.
func (p *Previews) Sweep() int {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, e := range p.entries {
		if !now.Before(e.expires) {
			delete(p.entries, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx ends.
func (p *Previews) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Sweep()
		}
	}
}

// Len reports live entries.
func (p *Previews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Previews) parse(token string, validate bool) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(previewSubject),
		jwt.WithTimeFunc(p.now),
	}
	if !validate {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.ID == "" {
		return "", errors.New("invalid preview token")
	}
	return claims.ID, nil
}
