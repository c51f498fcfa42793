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

type enrollmentRepository interface {
	Create(ctx context.Context, preinscriptionID string, amountCents int64, now time.Time) (*models.Enrollment, error)
	FindByPreinscriptionID(ctx context.Context, preinscriptionID string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type approvedPreinscriptionReader interface {
	FindByID(ctx context.Context, id string) (*models.Preinscription, error)
}

// EnrollRequest converts an approved preinscription into an enrollment. The
// payment was reconciled externally; this service only consumes the
// confirmation flag and the settled amount.
type EnrollRequest struct {
	PreinscriptionID string `json:"preinscription_id" validate:"required"`
	PaymentConfirmed bool   `json:"payment_confirmed"`
	AmountCents      int64  `json:"amount_cents" validate:"gte=0"`
}

// EnrollmentService creates enrollments for approved, paid preinscriptions.
// No seat accounting happens here: the seat was committed at preinscription
// time and stays committed through enrollment.
type EnrollmentService struct {
	repo            enrollmentRepository
	preinscriptions approvedPreinscriptionReader
	publisher       events.Publisher
	metrics         *MetricsService
	validator       *validator.Validate
	logger          *zap.Logger
	now             func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, preinscriptions approvedPreinscriptionReader, publisher events.Publisher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:            repo,
		preinscriptions: preinscriptions,
		publisher:       publisher,
		metrics:         metrics,
		validator:       validate,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Enroll creates an ENROLLED enrollment once every precondition holds. Any
// violated precondition blocks the request without mutation.
func (s *EnrollmentService) Enroll(ctx context.Context, actorID string, req EnrollRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	preinscription, err := s.preinscriptions.FindByID(ctx, req.PreinscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "preinscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preinscription")
	}
	if preinscription.State != models.PreinscriptionApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "preinscription not approved")
	}
	if !req.PaymentConfirmed {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "payment not confirmed")
	}
	if _, err := s.repo.FindByPreinscriptionID(ctx, req.PreinscriptionID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "preinscription already enrolled")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}

	enrollment, err := s.repo.Create(ctx, req.PreinscriptionID, req.AmountCents, s.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInvalidState):
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "preinscription not approved")
		case errors.Is(err, repository.ErrAlreadyEnrolled):
			return nil, appErrors.Clone(appErrors.ErrConflict, "preinscription already enrolled")
		case repository.IsTransient(err):
			return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, appErrors.ErrTransientStorage.Message)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		}
	}

	s.metrics.RecordEnrollment()
	if s.publisher != nil {
		event := events.Event{
			Type:             events.TypeEnrollmentCreated,
			CourseID:         preinscription.CourseID,
			CandidateID:      preinscription.CandidateID,
			PreinscriptionID: preinscription.ID,
			EnrollmentID:     enrollment.ID,
			ActorID:          actorID,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
		}
	}

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Get returns an enrollment with candidate and course context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
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
	return enrollments, pagination, nil
}
