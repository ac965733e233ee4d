package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultPendingTTL is how long a confirmation button stays usable.
const DefaultPendingTTL = 10 * time.Minute

type pendingRecord struct {
	UserID    int64           `json:"userId"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	InFlight  bool            `json:"inFlight,omitempty"`
}

// Pending keeps actions awaiting a yes/no answer on the server, addressed by an opaque id.
type Pending struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
}

// NewPending shares backend with the session Manager; records live under "pending:<id>".
func NewPending(backend Backend, ttl time.Duration, now func() time.Time) *Pending {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Pending{backend: backend, ttl: ttl, now: now}
}

func pendingKey(id string) string {
	return "pending:" + id
}

// Put stores payload for userID and returns the id to embed in the confirmation button.
func (p *Pending) Put(ctx context.Context, userID int64, kind string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode pending %s: %w", kind, err)
	}
	now := p.now()
	rec, err := json.Marshal(pendingRecord{UserID: userID, Kind: kind, Payload: body, CreatedAt: now})
	if err != nil {
		return "", fmt.Errorf("encode pending %s: %w", kind, err)
	}

	id := uuid.NewString()
	err = p.backend.Update(ctx, pendingKey(id), now, p.ttl, func([]byte, bool) ([]byte, error) {
		return rec, nil
	})
	if err != nil {
		return "", fmt.Errorf("store pending %s: %w", kind, err)
	}
	return id, nil
}

// Take consumes the record once and decodes its payload into out.
// It returns ErrNotFound when the id is unknown, expired, used, or belongs to another user.
func (p *Pending) Take(ctx context.Context, userID int64, id string, out any) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrNotFound
	}

	var rec pendingRecord
	err := p.backend.Update(ctx, pendingKey(id), p.now(), p.ttl, func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, ErrNotFound
		}
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, fmt.Errorf("decode pending: %w", err)
		}
		if rec.UserID != userID {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	if out != nil {
		if err := json.Unmarshal(rec.Payload, out); err != nil {
			return rec.Kind, fmt.Errorf("decode pending %s: %w", rec.Kind, err)
		}
	}
	return rec.Kind, nil
}

// Claim marks the record in flight and decodes its payload into out. A claimed record is
// reported as ErrNotFound to further Claims until Release puts it back or Discard removes it.
func (p *Pending) Claim(ctx context.Context, userID int64, id string, out any) (string, error) {
	rec, err := p.flip(ctx, userID, id, true)
	if err != nil {
		return "", err
	}
	if out != nil {
		if err := json.Unmarshal(rec.Payload, out); err != nil {
			return rec.Kind, fmt.Errorf("decode pending %s: %w", rec.Kind, err)
		}
	}
	return rec.Kind, nil
}

// Release makes a claimed record usable again until its original expiry.
func (p *Pending) Release(ctx context.Context, userID int64, id string) error {
	_, err := p.flip(ctx, userID, id, false)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// flip sets the in-flight flag, failing with ErrNotFound when it already has that value.
// The record keeps the expiry it was created with.
func (p *Pending) flip(ctx context.Context, userID int64, id string, inFlight bool) (pendingRecord, error) {
	var rec pendingRecord
	if _, err := uuid.Parse(id); err != nil {
		return rec, ErrNotFound
	}
	now := p.now()
	current, found, err := p.backend.Load(ctx, pendingKey(id), now)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, ErrNotFound
	}
	if err := json.Unmarshal(current, &rec); err != nil {
		return rec, fmt.Errorf("decode pending: %w", err)
	}
	remaining := rec.CreatedAt.Add(p.ttl).Sub(now)
	if remaining <= 0 {
		return rec, ErrNotFound
	}

	err = p.backend.Update(ctx, pendingKey(id), now, remaining, func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, ErrNotFound
		}
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, fmt.Errorf("decode pending: %w", err)
		}
		if rec.UserID != userID || rec.InFlight == inFlight {
			return nil, ErrNotFound
		}
		rec.InFlight = inFlight
		return json.Marshal(rec)
	})
	return rec, err
}

// Discard removes the record if userID owns it. Unknown ids are ignored.
func (p *Pending) Discard(ctx context.Context, userID int64, id string) error {
	_, err := p.Take(ctx, userID, id, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}
