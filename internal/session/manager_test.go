package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/dmitrijs2005/gophjournal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Create(t *testing.T) {
	f := newFixture(t, nil)

	s := f.create(t, "diary")
	assert.Equal(t, "diary", s.TagID)
	assert.Equal(t, "Tag diary", s.TagName)
	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), s.ExpiresAt)
	assert.Equal(t, StatusActive, s.Status())

	live, unlocked := f.manager.IsActive("diary")
	assert.True(t, live)
	assert.True(t, unlocked)
	assert.Equal(t, []EventType{EventCreated}, f.events.types())

	_, err := f.manager.Create(context.Background(), CreateRequest{TagID: "diary", Proof: []byte("open sesame"), DeviceFingerprint: "fp"})
	assert.ErrorIs(t, err, common.ErrAlreadyActive)
	assert.Len(t, f.manager.Active(), 1)
}

func TestManager_Create_InvalidProof(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.Create(context.Background(), CreateRequest{TagID: "diary", Proof: []byte("wrong")})
	require.Error(t, err)
	assert.Equal(t, common.ErrInvalidProof, err, "proof failures are not wrapped")

	_, ok := f.manager.Get("diary")
	assert.False(t, ok)
	assert.Empty(t, f.events.types())
}

func TestManager_Create_FingerprintRequired(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.Create(context.Background(), CreateRequest{TagID: "vault", Proof: []byte("open sesame"), Level: Enhanced})
	assert.ErrorIs(t, err, common.ErrFingerprintRequired)

	s, err := f.manager.Create(context.Background(), CreateRequest{TagID: "vault", Proof: []byte("open sesame"), Level: Enhanced, DeviceFingerprint: "fp"})
	require.NoError(t, err)
	assert.Equal(t, Enhanced, s.SecurityLevel)
}

func TestManager_Create_FingerprintOptional(t *testing.T) {
	cfg := testConfig()
	cfg.RequireFingerprintForEnhanced = false
	f := newFixture(t, cfg)

	_, err := f.manager.Create(context.Background(), CreateRequest{TagID: "vault", Proof: []byte("open sesame"), Level: Enhanced})
	assert.NoError(t, err)
}

func TestManager_Create_StoreFull(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		f.create(t, id)
	}

	_, err := f.manager.Create(context.Background(), CreateRequest{TagID: "d", Proof: []byte("open sesame")})
	assert.ErrorIs(t, err, common.ErrStoreFull)

	// expired sessions do not count against capacity
	f.clock.Advance(16 * time.Minute)
	_, err = f.manager.Create(context.Background(), CreateRequest{TagID: "d", Proof: []byte("open sesame")})
	assert.NoError(t, err)
}

func TestManager_Create_ConcurrentSameTag(t *testing.T) {
	f := newFixture(t, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Create(context.Background(), CreateRequest{TagID: "diary", Proof: []byte("open sesame"), DeviceFingerprint: "fp"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, common.ErrAlreadyActive)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, f.manager.Active(), 1)
}

func TestManager_Create_Cancelled(t *testing.T) {
	f := newFixture(t, nil)
	f.auth.entered = make(chan struct{}, 1)
	f.auth.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Create(ctx, CreateRequest{TagID: "diary", Proof: []byte("open sesame")})
		done <- err
	}()

	<-f.auth.entered
	cancel()
	err := <-done
	assert.ErrorIs(t, err, common.ErrCancelled)

	close(f.auth.gate)
	require.Eventually(t, func() bool { return f.auth.lastKey() != nil }, time.Second, 5*time.Millisecond)

	_, ok := f.manager.Get("diary")
	assert.False(t, ok)
	assert.Empty(t, f.events.types())
}

func TestManager_PanicDuringCreate(t *testing.T) {
	f := newFixture(t, nil)
	f.auth.entered = make(chan struct{}, 1)
	f.auth.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Create(context.Background(), CreateRequest{TagID: "diary", Proof: []byte("open sesame")})
		done <- err
	}()

	<-f.auth.entered
	f.manager.Panic()
	close(f.auth.gate)

	err := <-done
	assert.ErrorIs(t, err, common.ErrCancelled)
	assert.True(t, isZero(f.auth.lastKey()))
	assert.Empty(t, f.manager.Active())
}

func TestManager_Extend(t *testing.T) {
	f := newFixture(t, nil)
	s := f.create(t, "diary")

	got, err := f.manager.Extend("diary", 0)
	require.NoError(t, err)
	assert.Equal(t, s.ExpiresAt.Add(15*time.Minute), got.ExpiresAt)

	got, err = f.manager.Extend("diary", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, s.CreatedAt.Add(time.Hour), got.ExpiresAt, "truncated at max lifetime")

	f.clock.Advance(time.Minute)
	got, err = f.manager.Extend("diary", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, s.CreatedAt.Add(time.Hour), got.ExpiresAt)
	assert.Equal(t, f.clock.Now(), got.LastActivityAt)

	assert.Equal(t, []EventType{EventCreated, EventExtended, EventExtended}, f.events.types())

	_, err = f.manager.Extend("missing", time.Minute)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestManager_Extend_RejectPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.ExtensionPolicy = config.ExtensionReject
	f := newFixture(t, cfg)
	s := f.create(t, "diary")

	_, err := f.manager.Extend("diary", 2*time.Hour)
	assert.ErrorIs(t, err, common.ErrLifetimeExceeded)

	cur, ok := f.manager.Get("diary")
	require.True(t, ok)
	assert.Equal(t, s.ExpiresAt, cur.ExpiresAt)

	got, err := f.manager.Extend("diary", 45*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, s.CreatedAt.Add(time.Hour), got.ExpiresAt)
}

func TestManager_Extend_ExpiredBeforeSweep(t *testing.T) {
	f := newFixture(t, nil)
	s := f.create(t, "diary")

	f.clock.Advance(s.ExpiresAt.Sub(f.clock.Now()))

	got, err := f.manager.Extend("diary", 10*time.Minute)
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Zero(t, got)
	assert.Equal(t, []EventType{EventCreated}, f.events.types())
}

func TestManager_LockUnlock(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "diary")

	require.NoError(t, f.manager.Lock("diary"))
	require.NoError(t, f.manager.Lock("diary"))

	live, unlocked := f.manager.IsActive("diary")
	assert.True(t, live)
	assert.False(t, unlocked)
	assert.ErrorIs(t, f.manager.WithKey("diary", func([]byte) error { return nil }), common.ErrNoActiveSession)

	require.NoError(t, f.manager.Unlock("diary"))
	require.NoError(t, f.manager.Unlock("diary"))
	assert.NoError(t, f.manager.WithKey("diary", func([]byte) error { return nil }))

	assert.Equal(t, []EventType{EventCreated, EventLocked, EventUnlocked}, f.events.types())
	assert.ErrorIs(t, f.manager.Lock("missing"), common.ErrNotFound)
}

func TestManager_Deactivate(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "diary")
	key := f.auth.lastKey()

	require.NoError(t, f.manager.Deactivate("diary"))
	assert.True(t, isZero(key))
	assert.ErrorIs(t, f.manager.WithKey("diary", func([]byte) error { return nil }), common.ErrNoActiveSession)
	assert.ErrorIs(t, f.manager.Deactivate("diary"), common.ErrNotFound)

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1]
	f.events.mu.Unlock()
	assert.Equal(t, EventInvalidated, last.Type)
	assert.Equal(t, StatusInvalidated, last.Status)
	assert.Equal(t, "deactivated", last.Reason)
}

func TestManager_DeactivateAll(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "a")
	f.create(t, "b")

	assert.Equal(t, 2, f.manager.DeactivateAll())
	assert.Empty(t, f.manager.Active())
	assert.Equal(t, 0, f.manager.DeactivateAll())
}

func TestManager_Panic(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "a")
	keyA := f.auth.lastKey()
	f.create(t, "b")
	keyB := f.auth.lastKey()
	require.NoError(t, f.manager.Lock("b"))

	f.manager.Panic()

	assert.True(t, isZero(keyA))
	assert.True(t, isZero(keyB))
	assert.Empty(t, f.manager.Active())
	for _, id := range []string{"a", "b"} {
		assert.ErrorIs(t, f.manager.WithKey(id, func([]byte) error { return nil }), common.ErrNoActiveSession)
	}
	assert.Equal(t, []EventType{EventCreated, EventCreated, EventLocked, EventInvalidated, EventInvalidated}, f.events.types())

	// panic on an empty store is a no-op
	f.manager.Panic()
	assert.Len(t, f.events.types(), 5)
}

func TestManager_Sweep(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "diary")

	f.clock.Advance(14*time.Minute + 30*time.Second)
	h, err := f.manager.Health("diary")
	require.NoError(t, err)
	assert.Equal(t, HealthCritical, h.Status)

	assert.Empty(t, f.manager.Sweep())
	assert.Empty(t, f.manager.Sweep())
	assert.Equal(t, []EventType{EventCreated, EventSecurityAlert}, f.events.types(), "critical alert is raised once")

	f.clock.Advance(30*time.Second + time.Millisecond)
	expired := f.manager.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, "diary", expired[0].TagID)
	assert.Empty(t, f.manager.Sweep())
	assert.Equal(t, []EventType{EventCreated, EventSecurityAlert, EventExpired}, f.events.types())

	_, err = f.manager.Health("diary")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestManager_FailedProofAlerts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.manager.Create(ctx, CreateRequest{TagID: "diary", Proof: []byte("nope")})
		require.ErrorIs(t, err, common.ErrInvalidProof)
	}

	assert.Equal(t, []EventType{EventSecurityAlert}, f.events.types())

	m, err := f.manager.Metrics(ctx)
	require.NoError(t, err)
	assert.True(t, m.SuspiciousActivityDetected)
	assert.Equal(t, 3, m.RecentFailedProofs)
	assert.Equal(t, 100, m.OverallScore)

	f.clock.Advance(11 * time.Minute)
	m, err = f.manager.Metrics(ctx)
	require.NoError(t, err)
	assert.False(t, m.SuspiciousActivityDetected)
	assert.Zero(t, m.RecentFailedProofs)
}

func TestManager_Metrics(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "a")
	_, err := f.manager.Create(context.Background(), CreateRequest{TagID: "b", Proof: []byte("open sesame")})
	require.NoError(t, err)

	m, err := f.manager.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 92, m.OverallScore)
	assert.Equal(t, HealthExcellent, m.PerSessionHealth["a"].Status)
	assert.Equal(t, HealthGood, m.PerSessionHealth["b"].Status)
	assert.False(t, m.SuspiciousActivityDetected)
}

type failingTracker struct{}

func (failingTracker) RecordFailure(context.Context, time.Time) error { return errors.New("down") }
func (failingTracker) CountSince(context.Context, time.Time) (int, error) {
	return 0, errors.New("down")
}

func TestManager_TrackerFailureDoesNotBreakCreate(t *testing.T) {
	f := newFixture(t, nil)
	f.manager.tracker = failingTracker{}

	_, err := f.manager.Create(context.Background(), CreateRequest{TagID: "diary", Proof: []byte("bad")})
	assert.Equal(t, common.ErrInvalidProof, err)

	f.create(t, "diary")
	m, err := f.manager.Metrics(context.Background())
	assert.Error(t, err)
	assert.Contains(t, m.PerSessionHealth, "diary")
}

func TestManager_Listeners(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.Subscribe(func(Event) { panic("boom") })
	second := &recorder{}
	sub := f.manager.Subscribe(second.listen)

	f.create(t, "diary")
	require.NoError(t, f.manager.Lock("diary"))
	assert.Equal(t, []EventType{EventCreated, EventLocked}, second.types())

	assert.True(t, f.manager.Unsubscribe(sub))
	assert.False(t, f.manager.Unsubscribe(sub))
	require.NoError(t, f.manager.Unlock("diary"))
	assert.Len(t, second.types(), 2)
	assert.Equal(t, []EventType{EventCreated, EventLocked, EventUnlocked}, f.events.types())
}

func TestManager_ListenerMayRead(t *testing.T) {
	f := newFixture(t, nil)

	var seen []Session
	f.manager.Subscribe(func(e Event) {
		if s, ok := f.manager.Get(e.TagID); ok {
			seen = append(seen, s)
		}
	})

	f.create(t, "diary")
	require.Len(t, seen, 1)
	assert.Equal(t, "diary", seen[0].TagID)
}

func TestManager_ListenerMayPanicOnAlert(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "journal")

	f.manager.Subscribe(func(e Event) {
		if e.Type == EventSecurityAlert {
			f.manager.Panic()
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, _ = f.manager.Create(ctx, CreateRequest{TagID: "diary", Proof: []byte("nope")})
		}
		f.manager.Panic()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager blocked after a listener called Panic")
	}

	assert.Empty(t, f.manager.Active())
	assert.Equal(t, []EventType{EventCreated, EventSecurityAlert, EventInvalidated}, f.events.types())
	assert.True(t, isZero(f.auth.lastKey()))
}

func TestManager_NestedEventsKeepOrder(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.Subscribe(func(e Event) {
		if e.Type == EventCreated {
			_ = f.manager.Lock(e.TagID)
		}
	})
	late := &recorder{}
	f.manager.Subscribe(late.listen)

	f.create(t, "diary")

	want := []EventType{EventCreated, EventLocked}
	assert.Equal(t, want, f.events.types())
	assert.Equal(t, want, late.types(), "every listener sees the outer event before the nested one")

	live, unlocked := f.manager.IsActive("diary")
	assert.True(t, live)
	assert.False(t, unlocked)
}

func TestManager_Run(t *testing.T) {
	cfg := testConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	f := newFixture(t, cfg)
	f.create(t, "diary")
	f.clock.Advance(16 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.manager.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		types := f.events.types()
		return len(types) > 0 && types[len(types)-1] == EventExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
