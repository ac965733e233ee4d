package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRecord struct {
	payload   []byte
	expiresAt time.Time
}

type memoryBackend struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	closed  bool
}

// NewMemoryBackend returns a process-local Backend. Records are lost on restart.
func NewMemoryBackend() Backend {
	return &memoryBackend{records: make(map[string]memoryRecord)}
}

func (m *memoryBackend) Load(_ context.Context, key string, now time.Time) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	rec, ok := m.records[key]
	if !ok || !rec.expiresAt.After(now) {
		return nil, false, nil
	}
	return append([]byte(nil), rec.payload...), true, nil
}

func (m *memoryBackend) Update(_ context.Context, key string, now time.Time, ttl time.Duration, fn Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	var current []byte
	rec, found := m.records[key]
	if found && !rec.expiresAt.After(now) {
		found = false
	}
	if found {
		current = append([]byte(nil), rec.payload...)
	}

	next, err := fn(current, found)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.records, key)
		return nil
	}
	m.records[key] = memoryRecord{payload: append([]byte(nil), next...), expiresAt: now.Add(ttl)}
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.records, key)
	return nil
}

func (m *memoryBackend) Sweep(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var n int64
	for k, rec := range m.records {
		if !rec.expiresAt.After(now) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryBackend) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *memoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}
