package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cca-admission-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func courseRows(id string, total, occupied int, start, end time.Time, active bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "code", "name", "total_seats", "occupied_seats", "start_date", "end_date", "active", "created_at", "updated_at"}).
		AddRow(id, "GO-101", "Intro to Go", total, occupied, start, end, active, now, now)
}

func expectTxStart(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestPreinscriptionRepositorySubmitNewCandidate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := now.Add(30 * 24 * time.Hour)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1 FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(courseRows("course-1", 30, 10, start, start.Add(90*24*time.Hour), true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM candidates WHERE national_id = $1 AND email = $2 FOR UPDATE")).
		WithArgs("NID-1", "ana@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO candidates")).
		WithArgs(sqlmock.AnyArg(), "NID-1", "ana@example.com", "Ana Diaz", "555-0101", models.CategoryStudent, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM preinscriptions")).
		WithArgs(sqlmock.AnyArg(), "course-1", models.PreinscriptionRejected).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET occupied_seats = occupied_seats + 1")).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO preinscriptions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	created, err := repo.Submit(context.Background(), SubmitParams{
		NationalID: "NID-1",
		Email:      "ana@example.com",
		FullName:   "Ana Diaz",
		Phone:      "555-0101",
		Category:   models.CategoryStudent,
		CourseID:   "course-1",
		Now:        now,
		LeadTime:   72 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PreinscriptionPending, created.State)
	assert.Equal(t, "course-1", created.CourseID)
	assert.NotEmpty(t, created.CandidateID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreinscriptionRepositorySubmitCourseClosed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// starts within the lead window, submissions are closed
	start := now.Add(24 * time.Hour)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1 FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(courseRows("course-1", 30, 10, start, start.Add(90*24*time.Hour), true))
	mock.ExpectRollback()

	_, err := repo.Submit(context.Background(), SubmitParams{
		NationalID: "NID-1",
		Email:      "ana@example.com",
		Category:   models.CategoryStudent,
		CourseID:   "course-1",
		Now:        now,
		LeadTime:   72 * time.Hour,
	})
	assert.ErrorIs(t, err, ErrCourseNotOpen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreinscriptionRepositorySubmitArchivedCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := now.Add(30 * 24 * time.Hour)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(courseRows("course-1", 30, 10, start, start.Add(90*24*time.Hour), false))
	mock.ExpectRollback()

	_, err := repo.Submit(context.Background(), SubmitParams{
		NationalID: "NID-1",
		Email:      "ana@example.com",
		Category:   models.CategoryStudent,
		CourseID:   "course-1",
		Now:        now,
		LeadTime:   72 * time.Hour,
	})
	assert.ErrorIs(t, err, ErrCourseNotOpen)
}

func TestPreinscriptionRepositorySubmitDuplicateClaim(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := now.Add(30 * 24 * time.Hour)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(courseRows("course-1", 30, 10, start, start.Add(90*24*time.Hour), true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM candidates")).
		WithArgs("NID-1", "ana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cand-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE candidates")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM preinscriptions")).
		WithArgs("cand-1", "course-1", models.PreinscriptionRejected).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	_, err := repo.Submit(context.Background(), SubmitParams{
		NationalID: "NID-1",
		Email:      "ana@example.com",
		FullName:   "Ana Diaz",
		Category:   models.CategoryStudent,
		CourseID:   "course-1",
		Now:        now,
		LeadTime:   72 * time.Hour,
	})
	assert.ErrorIs(t, err, ErrDuplicateClaim)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreinscriptionRepositorySubmitCapacityExhausted(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := now.Add(30 * 24 * time.Hour)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(courseRows("course-1", 30, 30, start, start.Add(90*24*time.Hour), true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM candidates")).
		WithArgs("NID-1", "ana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cand-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE candidates")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM preinscriptions")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Submit(context.Background(), SubmitParams{
		NationalID: "NID-1",
		Email:      "ana@example.com",
		FullName:   "Ana Diaz",
		Category:   models.CategoryStudent,
		CourseID:   "course-1",
		Now:        now,
		LeadTime:   72 * time.Hour,
	})
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreinscriptionRepositorySubmitUniqueIndexBackstop(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := now.Add(30 * 24 * time.Hour)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(courseRows("course-1", 30, 10, start, start.Add(90*24*time.Hour), true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM candidates")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cand-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE candidates")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM preinscriptions")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET occupied_seats = occupied_seats + 1")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO preinscriptions")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.Submit(context.Background(), SubmitParams{
		NationalID: "NID-1",
		Email:      "ana@example.com",
		FullName:   "Ana Diaz",
		Category:   models.CategoryStudent,
		CourseID:   "course-1",
		Now:        now,
		LeadTime:   72 * time.Hour,
	})
	assert.ErrorIs(t, err, ErrDuplicateClaim)
	require.NoError(t, mock.ExpectationsWereMet())
}

func preinscriptionRows(id, state string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "candidate_id", "course_id", "state", "notes", "submitted_at", "reviewed_at", "reviewed_by"}).
		AddRow(id, "cand-1", "course-1", state, "", time.Now().UTC(), nil, nil)
}

func TestPreinscriptionRepositoryReviewApprove(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM preinscriptions WHERE id = $1 FOR UPDATE")).
		WithArgs("pre-1").
		WillReturnRows(preinscriptionRows("pre-1", "PENDING"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE preinscriptions SET state = $2")).
		WithArgs("pre-1", models.PreinscriptionApproved, "looks good", now, "staff-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reviewed, err := repo.Review(context.Background(), "pre-1", true, "looks good", "staff-1", now)
	require.NoError(t, err)
	assert.Equal(t, models.PreinscriptionApproved, reviewed.State)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, "staff-1", *reviewed.ReviewedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreinscriptionRepositoryReviewRejectReleasesSeat(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	start := now.Add(30 * 24 * time.Hour)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM preinscriptions WHERE id = $1 FOR UPDATE")).
		WithArgs("pre-1").
		WillReturnRows(preinscriptionRows("pre-1", "PENDING"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE preinscriptions SET state = $2")).
		WithArgs("pre-1", models.PreinscriptionRejected, "incomplete documents", now, "staff-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1 FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(courseRows("course-1", 30, 12, start, start.Add(90*24*time.Hour), true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET occupied_seats = occupied_seats - 1")).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reviewed, err := repo.Review(context.Background(), "pre-1", false, "incomplete documents", "staff-1", now)
	require.NoError(t, err)
	assert.Equal(t, models.PreinscriptionRejected, reviewed.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreinscriptionRepositoryReviewAlreadyReviewed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM preinscriptions WHERE id = $1 FOR UPDATE")).
		WithArgs("pre-1").
		WillReturnRows(preinscriptionRows("pre-1", "APPROVED"))
	mock.ExpectRollback()

	_, err := repo.Review(context.Background(), "pre-1", false, "", "staff-1", time.Now().UTC())
	assert.ErrorIs(t, err, ErrInvalidState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreinscriptionRepositorySubmitRetriesOnLockTimeout(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{Backoff: time.Millisecond})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := now.Add(30 * 24 * time.Hour)

	// first attempt dies on lock_timeout, the second one succeeds
	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("course-1").
		WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(courseRows("course-1", 30, 10, start, start.Add(90*24*time.Hour), true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM candidates")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cand-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE candidates")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM preinscriptions")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET occupied_seats = occupied_seats + 1")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO preinscriptions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	created, err := repo.Submit(context.Background(), SubmitParams{
		NationalID: "NID-1",
		Email:      "ana@example.com",
		FullName:   "Ana Diaz",
		Category:   models.CategoryStudent,
		CourseID:   "course-1",
		Now:        now,
		LeadTime:   72 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, "cand-1", created.CandidateID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreinscriptionRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreinscriptionRepository(db, TxConfig{})

	rows := sqlmock.NewRows([]string{"id", "candidate_id", "course_id", "state", "notes", "submitted_at", "reviewed_at", "reviewed_by",
		"candidate_name", "candidate_national_id", "course_code", "course_name"}).
		AddRow("pre-1", "cand-1", "course-1", "PENDING", "", time.Now().UTC(), nil, nil, "Ana Diaz", "NID-1", "GO-101", "Intro to Go")

	mock.ExpectQuery(regexp.QuoteMeta("FROM preinscriptions p")).
		WithArgs("course-1", models.PreinscriptionPending).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("course-1", models.PreinscriptionPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.PreinscriptionFilter{
		CourseID: "course-1",
		State:    models.PreinscriptionPending,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "Ana Diaz", items[0].CandidateName)
}
