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

type preinscriptionReviewer interface {
	Review(ctx context.Context, id string, approve bool, notes, reviewerID string, now time.Time) (*models.Preinscription, error)
	FindDetailByID(ctx context.Context, id string) (*models.PreinscriptionDetail, error)
}

// Review decisions accepted by the API.
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// ReviewRequest describes a staff decision on a pending preinscription.
type ReviewRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	Notes    string `json:"notes"`
}

// ReviewService drives the PENDING → APPROVED/REJECTED transition. Rejection
// returns the reserved seat to the ledger inside the repository transaction;
// this layer only maps outcomes and emits the reviewed event.
type ReviewService struct {
	repo        preinscriptionReviewer
	publisher   events.Publisher
	metrics     *MetricsService
	courseCache seatCacheInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewReviewService constructs ReviewService.
func NewReviewService(repo preinscriptionReviewer, publisher events.Publisher, metrics *MetricsService, courseCache seatCacheInvalidator, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		repo:        repo,
		publisher:   publisher,
		metrics:     metrics,
		courseCache: courseCache,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Review applies the staff decision to a pending preinscription.
func (s *ReviewService) Review(ctx context.Context, reviewerID, id string, req ReviewRequest) (*models.PreinscriptionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	approve := req.Decision == DecisionApprove
	reviewed, err := s.repo.Review(ctx, id, approve, req.Notes, reviewerID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "preinscription not found")
		case errors.Is(err, repository.ErrInvalidState):
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "preinscription already reviewed")
		case repository.IsTransient(err):
			return nil, appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, appErrors.ErrTransientStorage.Message)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to review preinscription")
		}
	}

	s.metrics.RecordReview(string(reviewed.State))
	if !reviewed.State.HoldsSeat() && s.courseCache != nil {
		s.courseCache.InvalidateSeatCache(ctx)
	}
	if s.publisher != nil {
		event := events.Event{
			Type:             events.TypePreinscriptionReviewed,
			CourseID:         reviewed.CourseID,
			CandidateID:      reviewed.CandidateID,
			PreinscriptionID: reviewed.ID,
			State:            string(reviewed.State),
			ActorID:          reviewerID,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
		}
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preinscription detail")
	}
	return detail, nil
}
