package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cca-admission-api/internal/events"
	"github.com/noah-isme/cca-admission-api/internal/models"
	"github.com/noah-isme/cca-admission-api/internal/repository"
	appErrors "github.com/noah-isme/cca-admission-api/pkg/errors"
)

type mockEnrollmentResolver struct {
	items        map[string]*models.Enrollment
	courseEnded  bool
	lastPassed   bool
	lastScore    float64
	recordCalled bool
}

func (m *mockEnrollmentResolver) Withdraw(_ context.Context, id string, now time.Time) (*models.Enrollment, error) {
	enrollment, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if enrollment.State != models.EnrollmentEnrolled || m.courseEnded {
		return nil, repository.ErrInvalidState
	}
	enrollment.State = models.EnrollmentWithdrawn
	enrollment.ResolvedAt = &now
	cp := *enrollment
	return &cp, nil
}

func (m *mockEnrollmentResolver) RecordResult(_ context.Context, id string, passed bool, score float64, now time.Time) (*models.Enrollment, error) {
	m.recordCalled = true
	m.lastPassed = passed
	m.lastScore = score
	enrollment, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if !m.courseEnded {
		return nil, repository.ErrCourseNotEnded
	}
	if enrollment.State != models.EnrollmentEnrolled {
		return nil, repository.ErrInvalidState
	}
	if passed {
		enrollment.State = models.EnrollmentPassed
	} else {
		enrollment.State = models.EnrollmentFailed
	}
	enrollment.FinalScore = &score
	enrollment.ResolvedAt = &now
	cp := *enrollment
	return &cp, nil
}

func (m *mockEnrollmentResolver) FindDetailByID(_ context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.EnrollmentDetail{
		Enrollment:    *enrollment,
		CandidateID:   "cand-1",
		CandidateName: "Ana Diaz",
		CourseID:      "course-1",
		CourseName:    "Intro to Go",
	}, nil
}

func newActiveEnrollment(id string) *models.Enrollment {
	return &models.Enrollment{
		ID:               id,
		PreinscriptionID: "pre-1",
		State:            models.EnrollmentEnrolled,
		AmountCents:      25000,
		EnrolledAt:       time.Now().UTC().Add(-24 * time.Hour),
	}
}

func floatPtr(v float64) *float64 { return &v }

func candidateClaims(userID, candidateID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleCandidate, CandidateID: &candidateID}
}

func staffClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleStaff}
}

func TestOutcomeServiceWithdrawByOwner(t *testing.T) {
	repo := &mockEnrollmentResolver{items: map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")}}
	publisher := &capturePublisher{}
	svc := NewOutcomeService(repo, publisher, nil, nil, 60, nil, nil)

	detail, err := svc.Withdraw(context.Background(), candidateClaims("user-1", "cand-1"), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentWithdrawn, detail.State)
	require.NotNil(t, detail.ResolvedAt)

	captured := publisher.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, events.TypeOutcomeResolved, captured[0].Type)
	assert.Equal(t, string(models.EnrollmentWithdrawn), captured[0].State)
	assert.Equal(t, "user-1", captured[0].ActorID)
}

func TestOutcomeServiceWithdrawByStaff(t *testing.T) {
	repo := &mockEnrollmentResolver{items: map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")}}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	detail, err := svc.Withdraw(context.Background(), staffClaims("staff-1"), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentWithdrawn, detail.State)
}

func TestOutcomeServiceWithdrawOtherCandidate(t *testing.T) {
	repo := &mockEnrollmentResolver{items: map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")}}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	_, err := svc.Withdraw(context.Background(), candidateClaims("user-2", "cand-2"), "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentEnrolled, repo.items["enr-1"].State)
}

func TestOutcomeServiceWithdrawWithoutCandidateClaim(t *testing.T) {
	repo := &mockEnrollmentResolver{items: map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")}}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	claims := &models.JWTClaims{UserID: "user-3", Role: models.RoleCandidate}
	_, err := svc.Withdraw(context.Background(), claims, "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestOutcomeServiceWithdrawInvalidatesSeatCache(t *testing.T) {
	repo := &mockEnrollmentResolver{items: map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")}}
	spy := &seatCacheSpy{}
	svc := NewOutcomeService(repo, nil, nil, spy, 60, nil, nil)

	_, err := svc.Withdraw(context.Background(), staffClaims("staff-1"), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, spy.invalidations())
}

func TestOutcomeServiceWithdrawAfterCourseEnd(t *testing.T) {
	repo := &mockEnrollmentResolver{
		items:       map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")},
		courseEnded: true,
	}
	spy := &seatCacheSpy{}
	svc := NewOutcomeService(repo, nil, nil, spy, 60, nil, nil)

	_, err := svc.Withdraw(context.Background(), candidateClaims("user-1", "cand-1"), "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Zero(t, spy.invalidations())
}

func TestOutcomeServiceWithdrawResolved(t *testing.T) {
	withdrawn := newActiveEnrollment("enr-1")
	withdrawn.State = models.EnrollmentWithdrawn
	repo := &mockEnrollmentResolver{items: map[string]*models.Enrollment{"enr-1": withdrawn}}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	_, err := svc.Withdraw(context.Background(), candidateClaims("user-1", "cand-1"), "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestOutcomeServiceWithdrawNotFound(t *testing.T) {
	repo := &mockEnrollmentResolver{items: map[string]*models.Enrollment{}}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	_, err := svc.Withdraw(context.Background(), staffClaims("staff-1"), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestOutcomeServiceRecordResultPassed(t *testing.T) {
	repo := &mockEnrollmentResolver{
		items:       map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")},
		courseEnded: true,
	}
	publisher := &capturePublisher{}
	svc := NewOutcomeService(repo, publisher, nil, nil, 60, nil, nil)

	detail, err := svc.RecordResult(context.Background(), "staff-1", "enr-1", RecordResultRequest{Score: floatPtr(87.5)})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentPassed, detail.State)
	assert.True(t, repo.lastPassed)
	assert.Equal(t, 87.5, repo.lastScore)
	require.NotNil(t, detail.FinalScore)
	assert.Equal(t, 87.5, *detail.FinalScore)

	captured := publisher.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, string(models.EnrollmentPassed), captured[0].State)
}

func TestOutcomeServiceRecordResultFailed(t *testing.T) {
	repo := &mockEnrollmentResolver{
		items:       map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")},
		courseEnded: true,
	}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	detail, err := svc.RecordResult(context.Background(), "staff-1", "enr-1", RecordResultRequest{Score: floatPtr(59.9)})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentFailed, detail.State)
	assert.False(t, repo.lastPassed)
}

func TestOutcomeServiceRecordResultBoundaryScore(t *testing.T) {
	repo := &mockEnrollmentResolver{
		items:       map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")},
		courseEnded: true,
	}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	detail, err := svc.RecordResult(context.Background(), "staff-1", "enr-1", RecordResultRequest{Score: floatPtr(60)})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentPassed, detail.State)
}

func TestOutcomeServiceRecordResultBeforeCourseEnd(t *testing.T) {
	repo := &mockEnrollmentResolver{items: map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")}}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	_, err := svc.RecordResult(context.Background(), "staff-1", "enr-1", RecordResultRequest{Score: floatPtr(75)})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
	assert.Equal(t, "course has not ended yet", appErr.Message)
}

func TestOutcomeServiceRecordResultValidation(t *testing.T) {
	repo := &mockEnrollmentResolver{
		items:       map[string]*models.Enrollment{"enr-1": newActiveEnrollment("enr-1")},
		courseEnded: true,
	}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	_, err := svc.RecordResult(context.Background(), "staff-1", "enr-1", RecordResultRequest{Score: nil})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.recordCalled)

	_, err = svc.RecordResult(context.Background(), "staff-1", "enr-1", RecordResultRequest{Score: floatPtr(101)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.recordCalled)
}

func TestOutcomeServiceRecordResultNotFound(t *testing.T) {
	repo := &mockEnrollmentResolver{items: map[string]*models.Enrollment{}, courseEnded: true}
	svc := NewOutcomeService(repo, nil, nil, nil, 60, nil, nil)

	_, err := svc.RecordResult(context.Background(), "staff-1", "missing", RecordResultRequest{Score: floatPtr(75)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
