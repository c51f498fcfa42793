package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cca-admission-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments and owns the
// outcome transactions that may return seats to the capacity ledger.
type EnrollmentRepository struct {
	db     *sqlx.DB
	ledger CapacityLedger
	tx     txRunner
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB, cfg TxConfig) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, tx: newTxRunner(db, cfg)}
}

// enrollmentRow joins the enrollment with its preinscription for outcome
// transactions that need the course reference.
type enrollmentRow struct {
	models.Enrollment
	CourseID string `db:"course_id"`
}

// Create inserts an ENROLLED enrollment for an approved preinscription. The
// preinscription row is locked so a concurrent review cannot slip between the
// state check and the insert; the unique index on preinscription_id is the
// backstop against two racing enrollment attempts. No seat action here: the
// seat was committed at preinscription time and stays committed.
func (r *EnrollmentRepository) Create(ctx context.Context, preinscriptionID string, amountCents int64, now time.Time) (*models.Enrollment, error) {
	var created *models.Enrollment
	err := r.tx.run(ctx, func(tx *sqlx.Tx) error {
		const find = `SELECT state FROM preinscriptions WHERE id = $1 FOR UPDATE`
		var state models.PreinscriptionState
		if err := tx.GetContext(ctx, &state, find, preinscriptionID); err != nil {
			if err == sql.ErrNoRows {
				return sql.ErrNoRows
			}
			return fmt.Errorf("lock preinscription %s: %w", preinscriptionID, err)
		}
		if state != models.PreinscriptionApproved {
			return ErrInvalidState
		}

		enrollment := &models.Enrollment{
			ID:               uuid.NewString(),
			PreinscriptionID: preinscriptionID,
			State:            models.EnrollmentEnrolled,
			AmountCents:      amountCents,
			EnrolledAt:       now,
		}
		const insert = `INSERT INTO enrollments (id, preinscription_id, state, amount_cents, enrolled_at)
        VALUES (:id, :preinscription_id, :state, :amount_cents, :enrolled_at)`
		if _, err := tx.NamedExecContext(ctx, insert, enrollment); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyEnrolled
			}
			return fmt.Errorf("insert enrollment: %w", err)
		}
		created = enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Withdraw moves an ENROLLED enrollment to WITHDRAWN and releases its seat in
// the same transaction. Withdrawal after the course end date is refused:
// outcomes are final once the course period ends.
func (r *EnrollmentRepository) Withdraw(ctx context.Context, id string, now time.Time) (*models.Enrollment, error) {
	var withdrawn *models.Enrollment
	err := r.tx.run(ctx, func(tx *sqlx.Tx) error {
		row, err := r.lockEnrollment(ctx, tx, id)
		if err != nil {
			return err
		}
		if row.State.Terminal() {
			return ErrInvalidState
		}

		course, err := r.ledger.LockCourse(ctx, tx, row.CourseID)
		if err != nil {
			return fmt.Errorf("lock course %s: %w", row.CourseID, err)
		}
		if course.Ended(now) {
			return ErrInvalidState
		}

		const update = `UPDATE enrollments SET state = $2, resolved_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id, models.EnrollmentWithdrawn, now); err != nil {
			return fmt.Errorf("withdraw enrollment %s: %w", id, err)
		}

		// ENROLLED holds a seat, WITHDRAWN does not: the transition frees one.
		if row.State.HoldsSeat() {
			if _, err := r.ledger.ReleaseSeat(ctx, tx, course); err != nil {
				return err
			}
		}

		row.State = models.EnrollmentWithdrawn
		row.ResolvedAt = &now
		withdrawn = &row.Enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// RecordResult moves an ENROLLED enrollment to PASSED or FAILED with its
// final score, legal only after the course end date. The seat stays counted
// so historical occupancy reflects how many people took the course.
func (r *EnrollmentRepository) RecordResult(ctx context.Context, id string, passed bool, score float64, now time.Time) (*models.Enrollment, error) {
	var resolved *models.Enrollment
	err := r.tx.run(ctx, func(tx *sqlx.Tx) error {
		row, err := r.lockEnrollment(ctx, tx, id)
		if err != nil {
			return err
		}
		if row.State.Terminal() {
			return ErrInvalidState
		}

		const courseQuery = `SELECT end_date FROM courses WHERE id = $1`
		var endDate time.Time
		if err := tx.GetContext(ctx, &endDate, courseQuery, row.CourseID); err != nil {
			return fmt.Errorf("load course %s: %w", row.CourseID, err)
		}
		if !now.After(endDate) {
			return ErrCourseNotEnded
		}

		state := models.EnrollmentFailed
		if passed {
			state = models.EnrollmentPassed
		}
		const update = `UPDATE enrollments SET state = $2, final_score = $3, resolved_at = $4 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id, state, score, now); err != nil {
			return fmt.Errorf("record result for enrollment %s: %w", id, err)
		}

		row.State = state
		row.FinalScore = &score
		row.ResolvedAt = &now
		resolved = &row.Enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *EnrollmentRepository) lockEnrollment(ctx context.Context, tx *sqlx.Tx, id string) (*enrollmentRow, error) {
	const query = `SELECT e.id, e.preinscription_id, e.state, e.amount_cents, e.final_score, e.enrolled_at, e.resolved_at, p.course_id
        FROM enrollments e
        JOIN preinscriptions p ON p.id = e.preinscription_id
        WHERE e.id = $1 FOR UPDATE OF e`
	var row enrollmentRow
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock enrollment %s: %w", id, err)
	}
	return &row, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, preinscription_id, state, amount_cents, final_score, enrolled_at, resolved_at
        FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByPreinscriptionID returns the enrollment derived from a
// preinscription, or sql.ErrNoRows when none exists.
func (r *EnrollmentRepository) FindByPreinscriptionID(ctx context.Context, preinscriptionID string) (*models.Enrollment, error) {
	const query = `SELECT id, preinscription_id, state, amount_cents, final_score, enrolled_at, resolved_at
        FROM enrollments WHERE preinscription_id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, preinscriptionID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with candidate and course context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.preinscription_id, e.state, e.amount_cents, e.final_score, e.enrolled_at, e.resolved_at,
        p.candidate_id, ca.full_name AS candidate_name, p.course_id, co.name AS course_name
        FROM enrollments e
        JOIN preinscriptions p ON p.id = e.preinscription_id
        JOIN candidates ca ON ca.id = p.candidate_id
        JOIN courses co ON co.id = p.course_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
JOIN preinscriptions p ON p.id = e.preinscription_id
JOIN candidates ca ON ca.id = p.candidate_id
JOIN courses co ON co.id = p.course_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("p.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.CandidateID != "" {
		conditions = append(conditions, fmt.Sprintf("p.candidate_id = $%d", len(args)+1))
		args = append(args, filter.CandidateID)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("e.state = $%d", len(args)+1))
		args = append(args, filter.State)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":    "e.enrolled_at",
		"candidate_name": "ca.full_name",
		"course_name":    "co.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.preinscription_id, e.state, e.amount_cents, e.final_score, e.enrolled_at, e.resolved_at,
        p.candidate_id, ca.full_name AS candidate_name, p.course_id, co.name AS course_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}
