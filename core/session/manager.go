package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/copperxbot/core/logger"
)

// DefaultTTL bounds how long an untouched session survives.
const DefaultTTL = 24 * time.Hour

// Options configures a Manager.
type Options struct {
	TTL time.Duration
	Now func() time.Time
}

// Manager is the session store used by the bot. It is safe for concurrent use.
type Manager struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time

	writes *keyedLocker
	turns  *keyedLocker

	closeOnce sync.Once
	closeErr  error
}

// NewManager builds a Manager over backend.
func NewManager(backend Backend, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		backend: backend,
		ttl:     opts.TTL,
		now:     opts.Now,
		writes:  newKeyedLocker(),
		turns:   newKeyedLocker(),
	}
}

// Backend exposes the underlying record store, e.g. for pending confirmations and sweeping.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Get returns the user's session. Absent and expired sessions come back as the zero Session.
func (m *Manager) Get(ctx context.Context, userID int64) (Session, error) {
	raw, found, err := m.backend.Load(ctx, Key(userID), m.now())
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if !found {
		return Session{}, nil
	}
	return decodeSession(ctx, userID, raw), nil
}

// Merge applies p to the stored session and refreshes its TTL.
// Merges for one user are serialized in-process and atomic at the backend.
func (m *Manager) Merge(ctx context.Context, userID int64, p Patch) error {
	if p.Empty() {
		return nil
	}
	key := Key(userID)
	unlock, err := m.writes.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("merge session: %w", err)
	}
	defer unlock()

	err = m.backend.Update(ctx, key, m.now(), m.ttl, func(current []byte, found bool) ([]byte, error) {
		var s Session
		if found {
			s = decodeSession(ctx, userID, current)
		}
		p.Apply(&s)
		return json.Marshal(s)
	})
	if err != nil {
		return fmt.Errorf("merge session: %w", err)
	}
	return nil
}

// IsAuthenticated evaluates the stored credential against the current time.
func (m *Manager) IsAuthenticated(ctx context.Context, userID int64) (bool, error) {
	_, ok, err := m.Credentials(ctx, userID)
	return ok, err
}

// Credentials returns the stored credential when it is valid right now.
func (m *Manager) Credentials(ctx context.Context, userID int64) (Credentials, bool, error) {
	s, err := m.Get(ctx, userID)
	if err != nil {
		return Credentials{}, false, err
	}
	if !s.Authenticated(m.now()) {
		return Credentials{}, false, nil
	}
	return Credentials{Token: s.Token, OrganizationID: s.OrganizationID, ExpiresAt: *s.ExpiresAt}, true, nil
}

// ClearWizard removes the in-progress flow, if any, leaving every other field intact.
func (m *Manager) ClearWizard(ctx context.Context, userID int64) error {
	key := Key(userID)
	unlock, err := m.writes.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("clear wizard: %w", err)
	}
	defer unlock()

	err = m.backend.Update(ctx, key, m.now(), m.ttl, func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, ErrSkipWrite
		}
		s := decodeSession(ctx, userID, current)
		if s.Wizard == nil {
			return nil, ErrSkipWrite
		}
		s.Wizard = nil
		return json.Marshal(s)
	})
	if err != nil {
		return fmt.Errorf("clear wizard: %w", err)
	}
	return nil
}

// Serialize runs fn while holding the user's turn lock, so one user's events are handled one
// at a time. fn may call Merge and ClearWizard.
func (m *Manager) Serialize(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	unlock, err := m.turns.Lock(ctx, Key(userID))
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// Ping checks the backend.
func (m *Manager) Ping(ctx context.Context) error {
	return m.backend.Ping(ctx)
}

// Dispose closes the backend. Later calls return the first result.
func (m *Manager) Dispose() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.backend.Close()
		logger.Info(logger.Background(), "session", "store.disposed",
			slog.String("status", logger.Status(m.closeErr)),
		)
	})
	return m.closeErr
}

// decodeSession tolerates corrupted payloads by starting over with an empty session.
func decodeSession(ctx context.Context, userID int64, raw []byte) Session {
	var s Session
	if len(raw) == 0 {
		return s
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		logger.Warn(ctx, "session", "session.decode_failed",
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return Session{}
	}
	return s
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
