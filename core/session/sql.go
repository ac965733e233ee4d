package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLBackend stores records in the session_records table created by the core migrations.
// It works with the "postgres" and "sqlite" drivers.
type SQLBackend struct {
	db        *sqlx.DB
	forUpdate string
}

// NewSQLBackend wraps an open database handle. The handle is closed by Close.
func NewSQLBackend(db *sqlx.DB) *SQLBackend {
	b := &SQLBackend{db: db}
	if db.DriverName() == "postgres" {
		b.forUpdate = " FOR UPDATE"
	}
	return b
}

func (b *SQLBackend) Load(ctx context.Context, key string, now time.Time) ([]byte, bool, error) {
	var payload string
	err := b.db.GetContext(ctx, &payload,
		b.db.Rebind(`SELECT payload FROM session_records WHERE record_key = ? AND expires_at > ?`),
		key, now.UnixMilli())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return []byte(payload), true, nil
}

func (b *SQLBackend) Update(ctx context.Context, key string, now time.Time, ttl time.Duration, fn Mutation) (err error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// An expired placeholder row gives the first writer of a key something to lock.
	if _, err = tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO session_records (record_key, payload, expires_at, updated_at) VALUES (?, '', 0, ?) ON CONFLICT (record_key) DO NOTHING`),
		key, now.UnixMilli()); err != nil {
		return fmt.Errorf("reserve %s: %w", key, err)
	}

	var row struct {
		Payload   string `db:"payload"`
		ExpiresAt int64  `db:"expires_at"`
	}
	if err = tx.GetContext(ctx, &row,
		tx.Rebind(`SELECT payload, expires_at FROM session_records WHERE record_key = ?`+b.forUpdate),
		key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}

	found := row.ExpiresAt > now.UnixMilli()
	var current []byte
	if found {
		current = []byte(row.Payload)
	}

	next, err := fn(current, found)
	if errors.Is(err, ErrSkipWrite) {
		err = nil
		return tx.Rollback()
	}
	if err != nil {
		return err
	}

	if next == nil {
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM session_records WHERE record_key = ?`), key)
	} else {
		_, err = tx.ExecContext(ctx,
			tx.Rebind(`UPDATE session_records SET payload = ?, expires_at = ?, updated_at = ? WHERE record_key = ?`),
			string(next), now.Add(ttl).UnixMilli(), now.UnixMilli(), key)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, b.db.Rebind(`DELETE FROM session_records WHERE record_key = ?`), key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, b.db.Rebind(`DELETE FROM session_records WHERE expires_at <= ?`), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
