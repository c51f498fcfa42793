package models

import "time"

// PreinscriptionState represents the review lifecycle of a preinscription.
type PreinscriptionState string

// Possible preinscription states. REJECTED is terminal; rejected rows are
// retained forever as audit records.
const (
	PreinscriptionPending  PreinscriptionState = "PENDING"
	PreinscriptionApproved PreinscriptionState = "APPROVED"
	PreinscriptionRejected PreinscriptionState = "REJECTED"
)

// Reviewable reports whether the state still accepts a review decision.
func (s PreinscriptionState) Reviewable() bool {
	return s == PreinscriptionPending
}

// HoldsSeat reports whether a preinscription in this state keeps one unit of
// occupied_seats bound to it.
func (s PreinscriptionState) HoldsSeat() bool {
	return s != PreinscriptionRejected
}

// Preinscription is a provisional, reviewable claim on one seat of one course
// by one candidate. At most one non-REJECTED row may exist per
// (candidate_id, course_id) pair.
type Preinscription struct {
	ID          string              `db:"id" json:"id"`
	CandidateID string              `db:"candidate_id" json:"candidate_id"`
	CourseID    string              `db:"course_id" json:"course_id"`
	State       PreinscriptionState `db:"state" json:"state"`
	Notes       string              `db:"notes" json:"notes"`
	SubmittedAt time.Time           `db:"submitted_at" json:"submitted_at"`
	ReviewedAt  *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewedBy  *string             `db:"reviewed_by" json:"reviewed_by,omitempty"`
}

// PreinscriptionDetail enriches Preinscription with candidate and course info.
type PreinscriptionDetail struct {
	Preinscription
	CandidateName       string `db:"candidate_name" json:"candidate_name"`
	CandidateNationalID string `db:"candidate_national_id" json:"candidate_national_id"`
	CourseCode          string `db:"course_code" json:"course_code"`
	CourseName          string `db:"course_name" json:"course_name"`
}

// PreinscriptionFilter provides filters for listing preinscriptions.
type PreinscriptionFilter struct {
	CandidateID string
	CourseID    string
	State       PreinscriptionState
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
