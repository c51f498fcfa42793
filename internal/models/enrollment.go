package models

import "time"

// EnrollmentState represents the lifecycle of a formal enrollment.
type EnrollmentState string

// Possible enrollment states. PASSED, FAILED and WITHDRAWN are terminal.
const (
	EnrollmentEnrolled  EnrollmentState = "ENROLLED"
	EnrollmentPassed    EnrollmentState = "PASSED"
	EnrollmentFailed    EnrollmentState = "FAILED"
	EnrollmentWithdrawn EnrollmentState = "WITHDRAWN"
)

// Terminal reports whether no further transition is permitted.
func (s EnrollmentState) Terminal() bool {
	return s == EnrollmentPassed || s == EnrollmentFailed || s == EnrollmentWithdrawn
}

// HoldsSeat reports whether an enrollment in this state keeps its seat
// counted. Seats stay counted for PASSED/FAILED so historical occupancy
// reflects how many people took the course; only WITHDRAWN frees the seat.
func (s EnrollmentState) HoldsSeat() bool {
	return s != EnrollmentWithdrawn
}

// Enrollment is the formal, paid claim derived from an approved
// preinscription. Exactly one enrollment may exist per preinscription.
type Enrollment struct {
	ID               string          `db:"id" json:"id"`
	PreinscriptionID string          `db:"preinscription_id" json:"preinscription_id"`
	State            EnrollmentState `db:"state" json:"state"`
	AmountCents      int64           `db:"amount_cents" json:"amount_cents"`
	FinalScore       *float64        `db:"final_score" json:"final_score,omitempty"`
	EnrolledAt       time.Time       `db:"enrolled_at" json:"enrolled_at"`
	ResolvedAt       *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with candidate and course context.
type EnrollmentDetail struct {
	Enrollment
	CandidateID   string `db:"candidate_id" json:"candidate_id"`
	CandidateName string `db:"candidate_name" json:"candidate_name"`
	CourseID      string `db:"course_id" json:"course_id"`
	CourseName    string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	CourseID    string
	CandidateID string
	State       EnrollmentState
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
