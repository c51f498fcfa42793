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

// PreinscriptionRepository handles persistence of preinscriptions and owns
// the multi-step admission transactions that touch the capacity ledger.
type PreinscriptionRepository struct {
	db     *sqlx.DB
	ledger CapacityLedger
	tx     txRunner
}

// NewPreinscriptionRepository constructs the repository.
func NewPreinscriptionRepository(db *sqlx.DB, cfg TxConfig) *PreinscriptionRepository {
	return &PreinscriptionRepository{db: db, tx: newTxRunner(db, cfg)}
}

// SubmitParams carries everything the submit transaction needs. The caller
// supplies the clock and lead time explicitly so the workflow stays testable.
type SubmitParams struct {
	NationalID string
	Email      string
	FullName   string
	Phone      string
	Category   models.CandidateCategory
	CourseID   string
	Notes      string
	Now        time.Time
	LeadTime   time.Duration
}

// Submit runs the whole preinscription workflow in one transaction: lock the
// course row, validate openness, upsert the candidate by natural key, check
// for an active duplicate, reserve a seat and insert the PENDING row. Any
// failure rolls back every effect including the seat reservation.
func (r *PreinscriptionRepository) Submit(ctx context.Context, params SubmitParams) (*models.Preinscription, error) {
	var created *models.Preinscription
	err := r.tx.run(ctx, func(tx *sqlx.Tx) error {
		course, err := r.ledger.LockCourse(ctx, tx, params.CourseID)
		if err != nil {
			if err == sql.ErrNoRows {
				return sql.ErrNoRows
			}
			return fmt.Errorf("lock course %s: %w", params.CourseID, err)
		}

		if !course.OpenForSubmission(params.Now, params.LeadTime) {
			return ErrCourseNotOpen
		}

		candidateID, err := r.upsertCandidate(ctx, tx, params)
		if err != nil {
			return err
		}

		active, err := r.hasActiveClaim(ctx, tx, candidateID, course.ID)
		if err != nil {
			return err
		}
		if active {
			return ErrDuplicateClaim
		}

		reserved, err := r.ledger.ReserveSeat(ctx, tx, course)
		if err != nil {
			return err
		}
		if !reserved {
			return ErrCapacityExhausted
		}

		preinscription := &models.Preinscription{
			ID:          uuid.NewString(),
			CandidateID: candidateID,
			CourseID:    course.ID,
			State:       models.PreinscriptionPending,
			Notes:       params.Notes,
			SubmittedAt: params.Now,
		}
		const insert = `INSERT INTO preinscriptions (id, candidate_id, course_id, state, notes, submitted_at)
        VALUES (:id, :candidate_id, :course_id, :state, :notes, :submitted_at)`
		if _, err := tx.NamedExecContext(ctx, insert, preinscription); err != nil {
			// The partial unique index on (candidate_id, course_id) for
			// non-REJECTED rows is the actual duplicate guarantee; the
			// pre-check above only exists for the friendly message.
			if isUniqueViolation(err) {
				return ErrDuplicateClaim
			}
			return fmt.Errorf("insert preinscription: %w", err)
		}
		created = preinscription
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// upsertCandidate finds a candidate by (national_id, email) and refreshes its
// contact details, or inserts a new one. Runs inside the submit transaction.
func (r *PreinscriptionRepository) upsertCandidate(ctx context.Context, tx *sqlx.Tx, params SubmitParams) (string, error) {
	const find = `SELECT id FROM candidates WHERE national_id = $1 AND email = $2 FOR UPDATE`
	var id string
	err := tx.GetContext(ctx, &id, find, params.NationalID, params.Email)
	if err == nil {
		const update = `UPDATE candidates SET full_name = $2, phone = $3, category = $4, updated_at = $5 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id, params.FullName, params.Phone, params.Category, params.Now); err != nil {
			return "", fmt.Errorf("update candidate %s: %w", id, err)
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("find candidate: %w", err)
	}

	id = uuid.NewString()
	const insert = `INSERT INTO candidates (id, national_id, email, full_name, phone, category, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7)`
	if _, err := tx.ExecContext(ctx, insert, id, params.NationalID, params.Email, params.FullName, params.Phone, params.Category, params.Now); err != nil {
		return "", fmt.Errorf("insert candidate: %w", err)
	}
	return id, nil
}

func (r *PreinscriptionRepository) hasActiveClaim(ctx context.Context, tx *sqlx.Tx, candidateID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM preinscriptions WHERE candidate_id = $1 AND course_id = $2 AND state <> $3 LIMIT 1`
	var exists int
	if err := tx.GetContext(ctx, &exists, query, candidateID, courseID, models.PreinscriptionRejected); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active preinscription: %w", err)
	}
	return true, nil
}

// Review advances a PENDING preinscription to APPROVED or REJECTED. The
// transition is one-way: re-reviewing a non-PENDING row fails with
// ErrInvalidState and leaves both the row and the seat count untouched. On
// rejection the reserved seat returns to the ledger atomically with the state
// write.
func (r *PreinscriptionRepository) Review(ctx context.Context, id string, approve bool, notes, reviewerID string, now time.Time) (*models.Preinscription, error) {
	var reviewed *models.Preinscription
	err := r.tx.run(ctx, func(tx *sqlx.Tx) error {
		const find = `SELECT id, candidate_id, course_id, state, notes, submitted_at, reviewed_at, reviewed_by
        FROM preinscriptions WHERE id = $1 FOR UPDATE`
		var p models.Preinscription
		if err := tx.GetContext(ctx, &p, find, id); err != nil {
			if err == sql.ErrNoRows {
				return sql.ErrNoRows
			}
			return fmt.Errorf("lock preinscription %s: %w", id, err)
		}

		if !p.State.Reviewable() {
			return ErrInvalidState
		}

		newState := models.PreinscriptionRejected
		if approve {
			newState = models.PreinscriptionApproved
		}

		const update = `UPDATE preinscriptions SET state = $2, notes = $3, reviewed_at = $4, reviewed_by = $5 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id, newState, notes, now, reviewerID); err != nil {
			return fmt.Errorf("update preinscription %s: %w", id, err)
		}

		// PENDING holds a seat; a transition out of seat-holding frees it.
		if p.State.HoldsSeat() && !newState.HoldsSeat() {
			course, err := r.ledger.LockCourse(ctx, tx, p.CourseID)
			if err != nil {
				return fmt.Errorf("lock course %s: %w", p.CourseID, err)
			}
			if _, err := r.ledger.ReleaseSeat(ctx, tx, course); err != nil {
				return err
			}
		}

		p.State = newState
		p.Notes = notes
		p.ReviewedAt = &now
		p.ReviewedBy = &reviewerID
		reviewed = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reviewed, nil
}

// FindByID returns a preinscription by its ID.
func (r *PreinscriptionRepository) FindByID(ctx context.Context, id string) (*models.Preinscription, error) {
	const query = `SELECT id, candidate_id, course_id, state, notes, submitted_at, reviewed_at, reviewed_by
        FROM preinscriptions WHERE id = $1`
	var p models.Preinscription
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindDetailByID returns a preinscription with candidate and course context.
func (r *PreinscriptionRepository) FindDetailByID(ctx context.Context, id string) (*models.PreinscriptionDetail, error) {
	const query = `SELECT p.id, p.candidate_id, p.course_id, p.state, p.notes, p.submitted_at, p.reviewed_at, p.reviewed_by,
        ca.full_name AS candidate_name, ca.national_id AS candidate_national_id, co.code AS course_code, co.name AS course_name
        FROM preinscriptions p
        JOIN candidates ca ON ca.id = p.candidate_id
        JOIN courses co ON co.id = p.course_id
        WHERE p.id = $1`
	var detail models.PreinscriptionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns preinscriptions filtered by the provided criteria.
func (r *PreinscriptionRepository) List(ctx context.Context, filter models.PreinscriptionFilter) ([]models.PreinscriptionDetail, int, error) {
	base := `FROM preinscriptions p
JOIN candidates ca ON ca.id = p.candidate_id
JOIN courses co ON co.id = p.course_id`
	var conditions []string
	var args []interface{}

	if filter.CandidateID != "" {
		conditions = append(conditions, fmt.Sprintf("p.candidate_id = $%d", len(args)+1))
		args = append(args, filter.CandidateID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("p.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("p.state = $%d", len(args)+1))
		args = append(args, filter.State)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"submitted_at":   "p.submitted_at",
		"candidate_name": "ca.full_name",
		"course_name":    "co.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "p.submitted_at"
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

	query := fmt.Sprintf(`SELECT p.id, p.candidate_id, p.course_id, p.state, p.notes, p.submitted_at, p.reviewed_at, p.reviewed_by,
        ca.full_name AS candidate_name, ca.national_id AS candidate_national_id, co.code AS course_code, co.name AS course_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var preinscriptions []models.PreinscriptionDetail
	if err := r.db.SelectContext(ctx, &preinscriptions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list preinscriptions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count preinscriptions: %w", err)
	}
	return preinscriptions, total, nil
}
