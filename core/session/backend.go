package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record is absent, expired or not owned by the caller.
	ErrNotFound = errors.New("session: record not found")
	// ErrSkipWrite aborts an Update without writing and without failing it.
	ErrSkipWrite = errors.New("session: skip write")
	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("session: store closed")
)

// Mutation receives the current payload of a record (found is false when it is absent or expired)
// and returns the payload to store. A nil result deletes the record; ErrSkipWrite leaves it as is.
type Mutation func(current []byte, found bool) ([]byte, error)

// Backend stores opaque records with an absolute expiry.
type Backend interface {
	Load(ctx context.Context, key string, now time.Time) ([]byte, bool, error)
	// Update applies fn atomically with respect to other Updates of the same key and stores the
	// result with expiry now+ttl.
	Update(ctx context.Context, key string, now time.Time, ttl time.Duration, fn Mutation) error
	Delete(ctx context.Context, key string) error
	// Sweep removes records that expired at or before now and reports how many were removed.
	Sweep(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
