package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/cca-admission-api/internal/models"
	appErrors "github.com/noah-isme/cca-admission-api/pkg/errors"
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Archive(ctx context.Context, id string) error
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindPrice(ctx context.Context, courseID string, category models.CandidateCategory) (*models.CoursePrice, error)
	UpsertPrice(ctx context.Context, price *models.CoursePrice) error
}

// CreateCourseRequest describes a new course offering. Seats are fixed here
// and never change afterwards.
type CreateCourseRequest struct {
	Code       string    `json:"code" validate:"required"`
	Name       string    `json:"name" validate:"required"`
	TotalSeats int       `json:"total_seats" validate:"required,gt=0"`
	StartDate  time.Time `json:"start_date" validate:"required"`
	EndDate    time.Time `json:"end_date" validate:"required"`
}

// SetPriceRequest configures the price of a course for a candidate category.
type SetPriceRequest struct {
	Category    models.CandidateCategory `json:"category" validate:"required,oneof=STUDENT STAFF EXTERNAL"`
	AmountCents int64                    `json:"amount_cents" validate:"gte=0"`
	Currency    string                   `json:"currency" validate:"required,len=3"`
}

const courseCachePrefix = "courses"

// CourseService manages the course catalog. List and detail reads go through
// the Redis cache; every seat-affecting or catalog mutation invalidates it.
type CourseService struct {
	repo      courseRepository
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// Create registers a new course offering.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}

	course := &models.Course{
		Code:       req.Code,
		Name:       req.Name,
		TotalSeats: req.TotalSeats,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Active:     true,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.invalidateCache(ctx)
	return course, nil
}

// Get returns a course with derived free-seat info. The second return value
// reports whether the payload was served from cache.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseDetail, bool, error) {
	key := fmt.Sprintf("%s:detail:%s", courseCachePrefix, id)
	var cached models.CourseDetail
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	detail := &models.CourseDetail{Course: *course, FreeSeats: course.FreeSeats()}
	_ = s.cache.Set(ctx, key, detail, s.cacheTTL)
	return detail, false, nil
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	details := make([]models.CourseDetail, 0, len(courses))
	for _, course := range courses {
		details = append(details, models.CourseDetail{Course: course, FreeSeats: course.FreeSeats()})
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
	return details, pagination, nil
}

// Archive deactivates a course so no new preinscriptions are accepted.
// Existing preinscriptions and enrollments keep referencing it.
func (s *CourseService) Archive(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := s.repo.Archive(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive course")
	}
	s.invalidateCache(ctx)
	return nil
}

// Quote returns the price of a course for a candidate category. This is an
// opaque read: payment reconciliation happens entirely outside this service.
func (s *CourseService) Quote(ctx context.Context, courseID string, category models.CandidateCategory) (*models.CoursePrice, error) {
	if !category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown candidate category")
	}
	price, err := s.repo.FindPrice(ctx, courseID, category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "price not configured for category")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course price")
	}
	return price, nil
}

// SetPrice configures the price of a course for a candidate category.
func (s *CourseService) SetPrice(ctx context.Context, courseID string, req SetPriceRequest) (*models.CoursePrice, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid price payload")
	}
	if _, err := s.repo.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	price := &models.CoursePrice{
		CourseID:    courseID,
		Category:    req.Category,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	if err := s.repo.UpsertPrice(ctx, price); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set course price")
	}
	return price, nil
}

// seatCacheInvalidator lets the services that mutate occupied_seats drop
// cached course payloads after their transaction committed.
type seatCacheInvalidator interface {
	InvalidateSeatCache(ctx context.Context)
}

// InvalidateSeatCache drops cached course payloads after a seat-affecting
// mutation committed elsewhere (submission, rejection, withdrawal).
func (s *CourseService) InvalidateSeatCache(ctx context.Context) {
	s.invalidateCache(ctx)
}

func (s *CourseService) invalidateCache(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, courseCachePrefix+":*"); err != nil {
		s.logger.Warn("failed to invalidate course cache", zap.Error(err))
	}
}
