package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/cca-admission-api/internal/events"
	"github.com/noah-isme/cca-admission-api/internal/models"
	"github.com/noah-isme/cca-admission-api/internal/repository"
	appErrors "github.com/noah-isme/cca-admission-api/pkg/errors"
)

type preinscriptionRepository interface {
	Submit(ctx context.Context, params repository.SubmitParams) (*models.Preinscription, error)
	FindByID(ctx context.Context, id string) (*models.Preinscription, error)
	FindDetailByID(ctx context.Context, id string) (*models.PreinscriptionDetail, error)
	List(ctx context.Context, filter models.PreinscriptionFilter) ([]models.PreinscriptionDetail, int, error)
}

// SubmitPreinscriptionRequest describes a candidate's claim on a course seat.
type SubmitPreinscriptionRequest struct {
	NationalID string                   `json:"national_id" validate:"required"`
	Email      string                   `json:"email" validate:"required,email"`
	FullName   string                   `json:"full_name" validate:"required"`
	Phone      string                   `json:"phone"`
	Category   models.CandidateCategory `json:"category" validate:"required,oneof=STUDENT STAFF EXTERNAL"`
	CourseID   string                   `json:"course_id" validate:"required"`
	Notes      string                   `json:"notes"`
}

// AdmissionService orchestrates the preinscription workflow. The repository
// owns the transaction; this layer validates input, maps outcomes onto API
// errors and emits the created event only after the commit has succeeded.
type AdmissionService struct {
	repo        preinscriptionRepository
	publisher   events.Publisher
	metrics     *MetricsService
	courseCache seatCacheInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	leadTime    time.Duration
	now         func() time.Time
}

// NewAdmissionService constructs AdmissionService.
func NewAdmissionService(repo preinscriptionRepository, publisher events.Publisher, metrics *MetricsService, courseCache seatCacheInvalidator, leadTime time.Duration, validate *validator.Validate, logger *zap.Logger) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if leadTime <= 0 {
		leadTime = 72 * time.Hour
	}
	return &AdmissionService{
		repo:        repo,
		publisher:   publisher,
		metrics:     metrics,
		courseCache: courseCache,
		validator:   validate,
		logger:      logger,
		leadTime:    leadTime,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit runs the full preinscription workflow for the acting user.
func (s *AdmissionService) Submit(ctx context.Context, actorID string, req SubmitPreinscriptionRequest) (*models.PreinscriptionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preinscription payload")
	}

	params := repository.SubmitParams{
		NationalID: req.NationalID,
		Email:      req.Email,
		FullName:   req.FullName,
		Phone:      req.Phone,
		Category:   req.Category,
		CourseID:   req.CourseID,
		Notes:      req.Notes,
		Now:        s.now(),
		LeadTime:   s.leadTime,
	}

	preinscription, err := s.repo.Submit(ctx, params)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			s.metrics.RecordSubmission("closed")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		case errors.Is(err, repository.ErrCourseNotOpen):
			s.metrics.RecordSubmission("closed")
			return nil, appErrors.ErrCourseNotOpen
		case errors.Is(err, repository.ErrDuplicateClaim):
			s.metrics.RecordSubmission("duplicate")
			return nil, appErrors.ErrDuplicateClaim
		case errors.Is(err, repository.ErrCapacityExhausted):
			s.metrics.RecordSubmission("exhausted")
			return nil, appErrors.ErrCapacityExhausted
		case repository.IsTransient(err):
			return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, appErrors.ErrTransientStorage.Message)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit preinscription")
		}
	}

	s.metrics.RecordSubmission("created")
	if s.courseCache != nil {
		s.courseCache.InvalidateSeatCache(ctx)
	}
	s.publish(ctx, events.Event{
		Type:             events.TypePreinscriptionCreated,
		CourseID:         preinscription.CourseID,
		CandidateID:      preinscription.CandidateID,
		PreinscriptionID: preinscription.ID,
		ActorID:          actorID,
	})

	detail, err := s.repo.FindDetailByID(ctx, preinscription.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preinscription detail")
	}
	return detail, nil
}

// Get returns a preinscription with candidate and course context.
func (s *AdmissionService) Get(ctx context.Context, id string) (*models.PreinscriptionDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "preinscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preinscription")
	}
	return detail, nil
}

// List returns preinscriptions with pagination metadata.
func (s *AdmissionService) List(ctx context.Context, filter models.PreinscriptionFilter) ([]models.PreinscriptionDetail, *models.Pagination, error) {
	preinscriptions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list preinscriptions")
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
	return preinscriptions, pagination, nil
}

func (s *AdmissionService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
