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

type mockReviewerRepo struct {
	items map[string]*models.Preinscription
}

func (m *mockReviewerRepo) Review(_ context.Context, id string, approve bool, notes, reviewerID string, now time.Time) (*models.Preinscription, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if !p.State.Reviewable() {
		return nil, repository.ErrInvalidState
	}
	if approve {
		p.State = models.PreinscriptionApproved
	} else {
		p.State = models.PreinscriptionRejected
	}
	p.Notes = notes
	p.ReviewedAt = &now
	p.ReviewedBy = &reviewerID
	cp := *p
	return &cp, nil
}

func (m *mockReviewerRepo) FindDetailByID(_ context.Context, id string) (*models.PreinscriptionDetail, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.PreinscriptionDetail{Preinscription: *p, CandidateName: "Ana Diaz"}, nil
}

func newPendingPreinscription(id string) *models.Preinscription {
	return &models.Preinscription{
		ID:          id,
		CandidateID: "cand-1",
		CourseID:    "course-1",
		State:       models.PreinscriptionPending,
		SubmittedAt: time.Now().UTC(),
	}
}

func TestReviewServiceApprove(t *testing.T) {
	repo := &mockReviewerRepo{items: map[string]*models.Preinscription{"pre-1": newPendingPreinscription("pre-1")}}
	publisher := &capturePublisher{}
	svc := NewReviewService(repo, publisher, nil, nil, nil, nil)

	detail, err := svc.Review(context.Background(), "staff-1", "pre-1", ReviewRequest{Decision: DecisionApprove, Notes: "ok"})
	require.NoError(t, err)
	assert.Equal(t, models.PreinscriptionApproved, detail.State)
	require.NotNil(t, detail.ReviewedBy)
	assert.Equal(t, "staff-1", *detail.ReviewedBy)

	captured := publisher.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, events.TypePreinscriptionReviewed, captured[0].Type)
	assert.Equal(t, string(models.PreinscriptionApproved), captured[0].State)
}

func TestReviewServiceReject(t *testing.T) {
	repo := &mockReviewerRepo{items: map[string]*models.Preinscription{"pre-1": newPendingPreinscription("pre-1")}}
	svc := NewReviewService(repo, nil, nil, nil, nil, nil)

	detail, err := svc.Review(context.Background(), "staff-1", "pre-1", ReviewRequest{Decision: DecisionReject, Notes: "incomplete"})
	require.NoError(t, err)
	assert.Equal(t, models.PreinscriptionRejected, detail.State)
	assert.Equal(t, "incomplete", detail.Notes)
}

func TestReviewServiceRejectInvalidatesSeatCache(t *testing.T) {
	repo := &mockReviewerRepo{items: map[string]*models.Preinscription{"pre-1": newPendingPreinscription("pre-1")}}
	spy := &seatCacheSpy{}
	svc := NewReviewService(repo, nil, nil, spy, nil, nil)

	_, err := svc.Review(context.Background(), "staff-1", "pre-1", ReviewRequest{Decision: DecisionReject})
	require.NoError(t, err)
	assert.Equal(t, 1, spy.invalidations())
}

func TestReviewServiceApproveKeepsSeatCache(t *testing.T) {
	repo := &mockReviewerRepo{items: map[string]*models.Preinscription{"pre-1": newPendingPreinscription("pre-1")}}
	spy := &seatCacheSpy{}
	svc := NewReviewService(repo, nil, nil, spy, nil, nil)

	// approval leaves occupied_seats untouched, so cached payloads stay valid
	_, err := svc.Review(context.Background(), "staff-1", "pre-1", ReviewRequest{Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Zero(t, spy.invalidations())
}

func TestReviewServiceInvalidDecision(t *testing.T) {
	repo := &mockReviewerRepo{items: map[string]*models.Preinscription{"pre-1": newPendingPreinscription("pre-1")}}
	svc := NewReviewService(repo, nil, nil, nil, nil, nil)

	_, err := svc.Review(context.Background(), "staff-1", "pre-1", ReviewRequest{Decision: "MAYBE"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.PreinscriptionPending, repo.items["pre-1"].State)
}

func TestReviewServiceNotFound(t *testing.T) {
	repo := &mockReviewerRepo{items: map[string]*models.Preinscription{}}
	svc := NewReviewService(repo, nil, nil, nil, nil, nil)

	_, err := svc.Review(context.Background(), "staff-1", "missing", ReviewRequest{Decision: DecisionApprove})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReviewServiceAlreadyReviewed(t *testing.T) {
	reviewed := newPendingPreinscription("pre-1")
	reviewed.State = models.PreinscriptionApproved
	repo := &mockReviewerRepo{items: map[string]*models.Preinscription{"pre-1": reviewed}}
	svc := NewReviewService(repo, nil, nil, nil, nil, nil)

	_, err := svc.Review(context.Background(), "staff-1", "pre-1", ReviewRequest{Decision: DecisionReject})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	// the decision is one-way; the approved state must survive
	assert.Equal(t, models.PreinscriptionApproved, repo.items["pre-1"].State)
}
