package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cca-admission-api/internal/models"
)

// CapacityLedger owns the seat counters on courses. occupied_seats is mutated
// exclusively through ReserveSeat and ReleaseSeat, always on a transaction
// holding the course row lock taken by LockCourse, so the check-then-increment
// sequence is serialized per course across all concurrent callers.
type CapacityLedger struct{}

// LockCourse acquires the pessimistic row lock for a course and returns the
// current counters. Blocks until the lock is granted or the transaction's
// lock_timeout expires; sql.ErrNoRows passes through for missing courses.
func (CapacityLedger) LockCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (*models.Course, error) {
	const query = `SELECT id, code, name, total_seats, occupied_seats, start_date, end_date, active, created_at, updated_at
        FROM courses WHERE id = $1 FOR UPDATE`
	var course models.Course
	if err := tx.GetContext(ctx, &course, query, courseID); err != nil {
		return nil, err
	}
	return &course, nil
}

// ReserveSeat claims one seat on a course previously locked in this
// transaction. Returns false without mutating anything when the course is
// full; the caller decides whether that is an error.
func (CapacityLedger) ReserveSeat(ctx context.Context, tx *sqlx.Tx, course *models.Course) (bool, error) {
	if course.OccupiedSeats >= course.TotalSeats {
		return false, nil
	}
	const query = `UPDATE courses SET occupied_seats = occupied_seats + 1, updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, course.ID, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("reserve seat on course %s: %w", course.ID, err)
	}
	course.OccupiedSeats++
	return true, nil
}

// ReleaseSeat returns one seat to a course previously locked in this
// transaction. Refuses to decrement below zero and reports false so a stray
// double release never underflows the counter.
func (CapacityLedger) ReleaseSeat(ctx context.Context, tx *sqlx.Tx, course *models.Course) (bool, error) {
	if course.OccupiedSeats <= 0 {
		return false, nil
	}
	const query = `UPDATE courses SET occupied_seats = occupied_seats - 1, updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, course.ID, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("release seat on course %s: %w", course.ID, err)
	}
	course.OccupiedSeats--
	return true, nil
}
