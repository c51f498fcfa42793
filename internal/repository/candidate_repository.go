package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cca-admission-api/internal/models"
)

// CandidateRepository provides read access to the candidate directory.
// Candidate creation happens inside the submit transaction owned by
// PreinscriptionRepository.
type CandidateRepository struct {
	db *sqlx.DB
}

// NewCandidateRepository constructs the repository.
func NewCandidateRepository(db *sqlx.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

// FindByID returns a candidate by its ID.
func (r *CandidateRepository) FindByID(ctx context.Context, id string) (*models.Candidate, error) {
	const query = `SELECT id, national_id, email, full_name, phone, category, active, created_at, updated_at
        FROM candidates WHERE id = $1`
	var candidate models.Candidate
	if err := r.db.GetContext(ctx, &candidate, query, id); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// FindByNaturalKey returns a candidate by (national_id, email).
func (r *CandidateRepository) FindByNaturalKey(ctx context.Context, nationalID, email string) (*models.Candidate, error) {
	const query = `SELECT id, national_id, email, full_name, phone, category, active, created_at, updated_at
        FROM candidates WHERE national_id = $1 AND email = $2`
	var candidate models.Candidate
	if err := r.db.GetContext(ctx, &candidate, query, nationalID, email); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// List returns candidates filtered by the provided criteria.
func (r *CandidateRepository) List(ctx context.Context, filter models.CandidateFilter) ([]models.Candidate, int, error) {
	base := "FROM candidates ca"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(ca.full_name ILIKE $%d OR ca.national_id ILIKE $%d OR ca.email ILIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("ca.category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("ca.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"full_name":  "ca.full_name",
		"created_at": "ca.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "ca.full_name"
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

	query := fmt.Sprintf(`SELECT ca.id, ca.national_id, ca.email, ca.full_name, ca.phone, ca.category, ca.active, ca.created_at, ca.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var candidates []models.Candidate
	if err := r.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list candidates: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count candidates: %w", err)
	}
	return candidates, total, nil
}
