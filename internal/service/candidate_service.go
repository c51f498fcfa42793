package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/cca-admission-api/internal/models"
	appErrors "github.com/noah-isme/cca-admission-api/pkg/errors"
)

type candidateRepository interface {
	FindByID(ctx context.Context, id string) (*models.Candidate, error)
	List(ctx context.Context, filter models.CandidateFilter) ([]models.Candidate, int, error)
}

// CandidateService exposes the candidate directory to staff. Candidates are
// created and updated by the submit workflow, never through this service.
type CandidateService struct {
	repo   candidateRepository
	logger *zap.Logger
}

// NewCandidateService constructs CandidateService.
func NewCandidateService(repo candidateRepository, logger *zap.Logger) *CandidateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidateService{repo: repo, logger: logger}
}

// Get returns a candidate by ID.
func (s *CandidateService) Get(ctx context.Context, id string) (*models.Candidate, error) {
	candidate, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "candidate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidate")
	}
	return candidate, nil
}

// List returns candidates with pagination metadata.
func (s *CandidateService) List(ctx context.Context, filter models.CandidateFilter) ([]models.Candidate, *models.Pagination, error) {
	candidates, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list candidates")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return candidates, pagination, nil
}
