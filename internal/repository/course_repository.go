package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cca-admission-api/internal/models"
)

// CourseRepository handles persistence of course offerings and their prices.
// Seat counters are read here but only ever written through the capacity
// ledger inside admission transactions.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create persists a new course. Total seats are fixed at creation.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, code, name, total_seats, occupied_seats, start_date, end_date, active, created_at, updated_at)
        VALUES (:id, :code, :name, :total_seats, 0, :start_date, :end_date, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("course code %s already exists: %w", course.Code, err)
		}
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, code, name, total_seats, occupied_seats, start_date, end_date, active, created_at, updated_at
        FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// Archive marks a course inactive. Courses referenced by preinscriptions or
// enrollments are never deleted.
func (r *CourseRepository) Archive(ctx context.Context, id string) error {
	const query = `UPDATE courses SET active = FALSE, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("archive course %s: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("archive course %s: no such course", id)
	}
	return nil
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := "FROM courses c"
	var conditions []string
	var args []interface{}

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("c.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(c.name ILIKE $%d OR c.code ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Upcoming {
		conditions = append(conditions, fmt.Sprintf("c.start_date > $%d", len(args)+1))
		args = append(args, time.Now().UTC())
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"start_date": "c.start_date",
		"name":       "c.name",
		"code":       "c.code",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.start_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT c.id, c.code, c.name, c.total_seats, c.occupied_seats, c.start_date, c.end_date, c.active, c.created_at, c.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindPrice returns the price of a course for a candidate category.
func (r *CourseRepository) FindPrice(ctx context.Context, courseID string, category models.CandidateCategory) (*models.CoursePrice, error) {
	const query = `SELECT course_id, category, amount_cents, currency FROM course_prices WHERE course_id = $1 AND category = $2`
	var price models.CoursePrice
	if err := r.db.GetContext(ctx, &price, query, courseID, category); err != nil {
		return nil, err
	}
	return &price, nil
}

// UpsertPrice sets the price of a course for a candidate category.
func (r *CourseRepository) UpsertPrice(ctx context.Context, price *models.CoursePrice) error {
	const query = `INSERT INTO course_prices (course_id, category, amount_cents, currency)
        VALUES (:course_id, :category, :amount_cents, :currency)
        ON CONFLICT (course_id, category) DO UPDATE SET amount_cents = EXCLUDED.amount_cents, currency = EXCLUDED.currency`
	if _, err := r.db.NamedExecContext(ctx, query, price); err != nil {
		return fmt.Errorf("upsert course price: %w", err)
	}
	return nil
}
