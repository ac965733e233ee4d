package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/copperxbot/core/database"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sqliteBackend(t *testing.T) Backend {
	t.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "sessions.db")}
	require.NoError(t, cfg.Normalize())
	db, err := database.Connect(cfg)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(cfg))
	return NewSQLBackend(db)
}

// forEachBackend runs fn against every backend implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, m *Manager, clock *fakeClock)) {
	backends := map[string]func(t *testing.T) Backend{
		"memory": func(*testing.T) Backend { return NewMemoryBackend() },
		"sqlite": sqliteBackend,
	}
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			m := NewManager(mk(t), Options{TTL: time.Hour, Now: clock.Now})
			t.Cleanup(func() { _ = m.Dispose() })
			fn(t, m, clock)
		})
	}
}

func str(s string) *string { return &s }

func TestGetUnknownUserIsIdleAndAnonymous(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, _ *fakeClock) {
		ctx := context.Background()
		s, err := m.Get(ctx, 42)
		require.NoError(t, err)
		assert.True(t, s.Idle())
		assert.Empty(t, s.Token)

		ok, err := m.IsAuthenticated(ctx, 42)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSequentialMergesEqualCombinedMerge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, m.Merge(ctx, 1, Patch{Token: str("tok")}))
		require.NoError(t, m.Merge(ctx, 1, Patch{OrganizationID: str("org")}))
		require.NoError(t, m.Merge(ctx, 2, Patch{Token: str("tok"), OrganizationID: str("org")}))

		a, err := m.Get(ctx, 1)
		require.NoError(t, err)
		b, err := m.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, b, a)
	})
}

func TestConcurrentDisjointMergesKeepBothFields(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, _ *fakeClock) {
		ctx := context.Background()
		for round := 0; round < 20; round++ {
			uid := int64(100 + round)
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				assert.NoError(t, m.Merge(ctx, uid, Patch{Token: str("tok")}))
			}()
			go func() {
				defer wg.Done()
				assert.NoError(t, m.Merge(ctx, uid, Greeted()))
			}()
			wg.Wait()

			s, err := m.Get(ctx, uid)
			require.NoError(t, err)
			assert.Equal(t, "tok", s.Token)
			assert.True(t, s.HasSeenGreeting)
		}
	})
}

func TestClearWizardIsIdempotentAndKeepsAuth(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, m.Merge(ctx, 7, Authenticate("tok", "org", clock.Now().Add(time.Hour))))
		require.NoError(t, m.Merge(ctx, 7, SetWizard(WizardState{Step: "withdraw_amount"})))

		require.NoError(t, m.ClearWizard(ctx, 7))
		once, err := m.Get(ctx, 7)
		require.NoError(t, err)

		require.NoError(t, m.ClearWizard(ctx, 7))
		twice, err := m.Get(ctx, 7)
		require.NoError(t, err)

		assert.Equal(t, once, twice)
		assert.Nil(t, twice.Wizard)
		assert.Equal(t, "tok", twice.Token)
		assert.Equal(t, "org", twice.OrganizationID)
		require.NotNil(t, twice.ExpiresAt)

		require.NoError(t, m.ClearWizard(ctx, 999))
	})
}

func TestAuthenticationRecomputedAtCallTime(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, m.Merge(ctx, 5, Authenticate("tok", "org", clock.Now().Add(10*time.Minute))))

		ok, err := m.IsAuthenticated(ctx, 5)
		require.NoError(t, err)
		assert.True(t, ok)

		clock.Advance(11 * time.Minute)
		ok, err = m.IsAuthenticated(ctx, 5)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = m.Credentials(ctx, 5)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, m.Merge(ctx, 9, SetWizard(WizardState{Step: "login_email"})))

		clock.Advance(59 * time.Minute)
		require.NoError(t, m.Merge(ctx, 9, Greeted()))

		clock.Advance(59 * time.Minute)
		s, err := m.Get(ctx, 9)
		require.NoError(t, err)
		assert.NotNil(t, s.Wizard, "merge refreshes the TTL")

		clock.Advance(2 * time.Minute)
		s, err = m.Get(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, Session{}, s)

		n, err := m.Backend().Sweep(ctx, clock.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestLogoutClearsOnlyAuth(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, m.Merge(ctx, 3, Authenticate("tok", "org", clock.Now().Add(time.Hour))))
		require.NoError(t, m.Merge(ctx, 3, Greeted()))
		require.NoError(t, m.Merge(ctx, 3, Patch{Logout: true}))

		s, err := m.Get(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, s.Token)
		assert.Nil(t, s.ExpiresAt)
		assert.True(t, s.HasSeenGreeting)
	})
}

func TestCorruptPayloadReadsAsEmptySession(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Update(ctx, Key(8), clock.Now(), time.Hour, func([]byte, bool) ([]byte, error) {
		return []byte("{not json"), nil
	}))
	m := NewManager(backend, Options{Now: clock.Now})

	s, err := m.Get(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, Session{}, s)

	require.NoError(t, m.Merge(ctx, 8, Greeted()))
	s, err = m.Get(ctx, 8)
	require.NoError(t, err)
	assert.True(t, s.HasSeenGreeting)
}

func TestSerializeRunsOneTurnAtATime(t *testing.T) {
	m := NewManager(NewMemoryBackend(), Options{})
	ctx := context.Background()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Serialize(ctx, 1, func(context.Context) error {
				n := active.Add(1)
				for {
					cur := maxActive.Load()
					if n <= cur || maxActive.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestSerializeHonoursContext(t *testing.T) {
	m := NewManager(NewMemoryBackend(), Options{})
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = m.Serialize(context.Background(), 1, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := m.Serialize(ctx, 1, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestDisposeIsIdempotent(t *testing.T) {
	m := NewManager(NewMemoryBackend(), Options{})
	require.NoError(t, m.Dispose())
	require.NoError(t, m.Dispose())
	_, err := m.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWizardDataRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, _ *fakeClock) {
		ctx := context.Background()
		data := json.RawMessage(`{"email":"a@b.com","sid":"s-1"}`)
		require.NoError(t, m.Merge(ctx, 4, SetWizard(WizardState{Step: "login_otp", Data: data})))

		s, err := m.Get(ctx, 4)
		require.NoError(t, err)
		require.NotNil(t, s.Wizard)
		assert.Equal(t, "login_otp", s.Wizard.Step)
		assert.JSONEq(t, string(data), string(s.Wizard.Data))
	})
}
