package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transferDraft struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
}

func TestPendingTakeConsumesOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, clock *fakeClock) {
		ctx := context.Background()
		p := NewPending(m.Backend(), time.Minute, clock.Now)

		id, err := p.Put(ctx, 11, "transfer_email", transferDraft{Amount: 12.5, Recipient: "a|b@c.com"})
		require.NoError(t, err)

		var out transferDraft
		kind, err := p.Take(ctx, 11, id, &out)
		require.NoError(t, err)
		assert.Equal(t, "transfer_email", kind)
		assert.Equal(t, transferDraft{Amount: 12.5, Recipient: "a|b@c.com"}, out)

		_, err = p.Take(ctx, 11, id, &out)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPendingRejectsOtherUsersAndExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, clock *fakeClock) {
		ctx := context.Background()
		p := NewPending(m.Backend(), time.Minute, clock.Now)

		id, err := p.Put(ctx, 11, "withdraw", transferDraft{Amount: 1})
		require.NoError(t, err)

		_, err = p.Take(ctx, 12, id, nil)
		assert.ErrorIs(t, err, ErrNotFound)

		clock.Advance(2 * time.Minute)
		_, err = p.Take(ctx, 11, id, nil)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = p.Take(ctx, 11, "not-a-uuid", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPendingClaimRelease(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, clock *fakeClock) {
		ctx := context.Background()
		p := NewPending(m.Backend(), time.Minute, clock.Now)

		id, err := p.Put(ctx, 11, "transfer_email", transferDraft{Amount: 4, Recipient: "a@b.io"})
		require.NoError(t, err)

		var out transferDraft
		kind, err := p.Claim(ctx, 11, id, &out)
		require.NoError(t, err)
		assert.Equal(t, "transfer_email", kind)
		assert.Equal(t, 4.0, out.Amount)

		_, err = p.Claim(ctx, 11, id, nil)
		assert.ErrorIs(t, err, ErrNotFound, "a claimed record is not handed out twice")

		require.NoError(t, p.Release(ctx, 12, id))
		_, err = p.Claim(ctx, 11, id, nil)
		assert.ErrorIs(t, err, ErrNotFound, "another user cannot release")

		require.NoError(t, p.Release(ctx, 11, id))
		clock.Advance(30 * time.Second)
		_, err = p.Claim(ctx, 11, id, nil)
		require.NoError(t, err)
		require.NoError(t, p.Release(ctx, 11, id))

		clock.Advance(31 * time.Second)
		_, err = p.Claim(ctx, 11, id, nil)
		assert.ErrorIs(t, err, ErrNotFound, "release keeps the original expiry")
	})
}

func TestPendingDiscard(t *testing.T) {
	ctx := context.Background()
	p := NewPending(NewMemoryBackend(), 0, nil)
	id, err := p.Put(ctx, 1, "withdraw", map[string]any{"amount": 3})
	require.NoError(t, err)

	require.NoError(t, p.Discard(ctx, 1, id))
	require.NoError(t, p.Discard(ctx, 1, id))
	_, err = p.Take(ctx, 1, id, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

type countingBackend struct {
	Backend
	sweeps atomic.Int32
}

func (c *countingBackend) Sweep(ctx context.Context, now time.Time) (int64, error) {
	c.sweeps.Add(1)
	return c.Backend.Sweep(ctx, now)
}

func TestSweeperPurgesExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &countingBackend{Backend: NewMemoryBackend()}
	clock := newFakeClock()
	require.NoError(t, backend.Update(ctx, "k", clock.Now(), time.Millisecond, func([]byte, bool) ([]byte, error) {
		return []byte("{}"), nil
	}))
	clock.Advance(time.Second)

	done := StartSweeper(ctx, backend, 5*time.Millisecond, clock.Now)
	require.Eventually(t, func() bool { return backend.sweeps.Load() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	n, err := backend.Backend.Sweep(context.Background(), clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
