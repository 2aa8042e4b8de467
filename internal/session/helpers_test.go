package session

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/dmitrijs2005/gophjournal/internal/config"
	"github.com/dmitrijs2005/gophjournal/internal/logging"
)

// ---- fake clock ----

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ---- fake authenticator ----

type fakeAuth struct {
	phrase  string
	entered chan struct{}
	gate    chan struct{}

	mu     sync.Mutex
	issued [][]byte
}

func (f *fakeAuth) Authenticate(ctx context.Context, tagID string, proof []byte) (string, []byte, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if string(proof) != f.phrase {
		return "", nil, common.ErrInvalidProof
	}
	key := bytes.Repeat([]byte{7}, 32)
	f.mu.Lock()
	f.issued = append(f.issued, key)
	f.mu.Unlock()
	return "Tag " + tagID, key, nil
}

func (f *fakeAuth) lastKey() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.issued) == 0 {
		return nil
	}
	return f.issued[len(f.issued)-1]
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// ---- event recorder ----

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// ---- manager fixture ----

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SessionDuration = 15 * time.Minute
	cfg.MaxSessionLifetime = time.Hour
	cfg.MaxSessions = 3
	cfg.FailedProofThreshold = 2
	cfg.FailedProofWindow = 10 * time.Minute
	return cfg
}

type fixture struct {
	clock   *fakeClock
	store   *Store
	auth    *fakeAuth
	manager *Manager
	events  *recorder
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	clock := newFakeClock()
	store := NewStore(clock.Now)
	auth := &fakeAuth{phrase: "open sesame"}
	m := NewManager(store, auth, nil, cfg, logging.NewDiscardLogger())
	rec := &recorder{}
	m.Subscribe(rec.listen)
	return &fixture{clock: clock, store: store, auth: auth, manager: m, events: rec}
}

func (f *fixture) create(t *testing.T, tagID string) Session {
	t.Helper()
	s, err := f.manager.Create(context.Background(), CreateRequest{
		TagID:             tagID,
		Proof:             []byte("open sesame"),
		Level:             Standard,
		DeviceFingerprint: "fp-123",
	})
	if err != nil {
		t.Fatalf("create %s: %v", tagID, err)
	}
	return s
}
