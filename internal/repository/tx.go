package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Domain conditions detected inside admission transactions. Services map
// these onto the typed API errors; they are expected outcomes, not failures.
var (
	ErrCourseNotOpen     = errors.New("course not open for preinscription")
	ErrDuplicateClaim    = errors.New("active preinscription already exists")
	ErrCapacityExhausted = errors.New("course capacity exhausted")
	ErrInvalidState      = errors.New("invalid state for transition")
	ErrCourseNotEnded    = errors.New("course has not ended yet")
	ErrAlreadyEnrolled   = errors.New("enrollment already exists for preinscription")
)

// txRunner bounds lock acquisition and retries transient storage failures at
// the transaction boundary. Business errors pass through untouched.
type txRunner struct {
	db          *sqlx.DB
	lockTimeout time.Duration
	maxAttempts int
	backoff     time.Duration
}

// TxConfig tunes lock timeouts and transient retry behaviour.
type TxConfig struct {
	LockTimeout time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

func newTxRunner(db *sqlx.DB, cfg TxConfig) txRunner {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 3 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	return txRunner{db: db, lockTimeout: cfg.LockTimeout, maxAttempts: cfg.MaxAttempts, backoff: cfg.Backoff}
}

// run executes fn inside a transaction, retrying the whole transaction when
// the database reports a transient condition (lock timeout, deadlock,
// serialization failure). Partial effects never survive a retry: every
// attempt begins with a fresh transaction.
func (r txRunner) run(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	delay := r.backoff
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.once(ctx, fn)
		if err == nil || !IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (r txRunner) once(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err = tx.ExecContext(ctx, timeout); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether the error is an infrastructure hiccup worth
// retrying, as opposed to a business outcome. Covers lock timeouts,
// deadlocks, serialization failures and dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case "40001", "40P01", "55P03", "57P03":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
