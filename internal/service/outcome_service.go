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

type enrollmentResolver interface {
	Withdraw(ctx context.Context, id string, now time.Time) (*models.Enrollment, error)
	RecordResult(ctx context.Context, id string, passed bool, score float64, now time.Time) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
}

// RecordResultRequest carries the externally supplied final score.
type RecordResultRequest struct {
	Score *float64 `json:"score" validate:"required,gte=0,lte=100"`
}

// OutcomeService resolves enrollments to their terminal state. Withdrawals
// before course end release the seat; PASSED/FAILED keep it counted so
// historical occupancy reflects who took the course.
type OutcomeService struct {
	repo         enrollmentResolver
	publisher    events.Publisher
	metrics      *MetricsService
	courseCache  seatCacheInvalidator
	validator    *validator.Validate
	logger       *zap.Logger
	passingScore float64
	now          func() time.Time
}

// NewOutcomeService constructs OutcomeService.
func NewOutcomeService(repo enrollmentResolver, publisher events.Publisher, metrics *MetricsService, courseCache seatCacheInvalidator, passingScore float64, validate *validator.Validate, logger *zap.Logger) *OutcomeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if passingScore <= 0 {
		passingScore = 60
	}
	return &OutcomeService{
		repo:         repo,
		publisher:    publisher,
		metrics:      metrics,
		courseCache:  courseCache,
		validator:    validate,
		logger:       logger,
		passingScore: passingScore,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Withdraw resolves an active enrollment to WITHDRAWN. Legal only while the
// course is still running; after the end date only PASSED/FAILED remain.
// Candidates may withdraw only their own enrollment; staff and admins may
// withdraw any.
func (s *OutcomeService) Withdraw(ctx context.Context, actor *models.JWTClaims, id string) (*models.EnrollmentDetail, error) {
	current, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !mayWithdraw(actor, current.CandidateID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another candidate")
	}

	enrollment, err := s.repo.Withdraw(ctx, id, s.now())
	if err != nil {
		return nil, s.mapOutcomeError(err, "enrollment not active or course already ended")
	}
	if s.courseCache != nil {
		s.courseCache.InvalidateSeatCache(ctx)
	}
	return s.finishOutcome(ctx, actor.UserID, id, enrollment)
}

func mayWithdraw(actor *models.JWTClaims, candidateID string) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleAdmin, models.RoleStaff:
		return true
	case models.RoleCandidate:
		return actor.CandidateID != nil && *actor.CandidateID == candidateID
	}
	return false
}

// RecordResult resolves an active enrollment to PASSED or FAILED from the
// supplied final score, legal only after the course has ended.
func (s *OutcomeService) RecordResult(ctx context.Context, actorID, id string, req RecordResultRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid result payload")
	}

	score := *req.Score
	passed := score >= s.passingScore
	enrollment, err := s.repo.RecordResult(ctx, id, passed, score, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrCourseNotEnded) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "course has not ended yet")
		}
		return nil, s.mapOutcomeError(err, "enrollment already resolved")
	}
	return s.finishOutcome(ctx, actorID, id, enrollment)
}

func (s *OutcomeService) finishOutcome(ctx context.Context, actorID, id string, enrollment *models.Enrollment) (*models.EnrollmentDetail, error) {
	s.metrics.RecordOutcome(string(enrollment.State))

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}

	if s.publisher != nil {
		event := events.Event{
			Type:             events.TypeOutcomeResolved,
			CourseID:         detail.CourseID,
			CandidateID:      detail.CandidateID,
			PreinscriptionID: enrollment.PreinscriptionID,
			EnrollmentID:     enrollment.ID,
			State:            string(enrollment.State),
			ActorID:          actorID,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
		}
	}
	return detail, nil
}

func (s *OutcomeService) mapOutcomeError(err error, invalidStateMsg string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	case errors.Is(err, repository.ErrInvalidState):
		return appErrors.Clone(appErrors.ErrInvalidState, invalidStateMsg)
	case repository.IsTransient(err):
		return appErrors.Wrap(err, appErrors.ErrTransientStorage.Code, appErrors.ErrTransientStorage.Status, appErrors.ErrTransientStorage.Message)
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve enrollment outcome")
	}
}
