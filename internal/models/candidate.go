package models

import "time"

// CandidateCategory drives pricing for a candidate.
type CandidateCategory string

// Recognised candidate categories.
const (
	CategoryStudent  CandidateCategory = "STUDENT"
	CategoryStaff    CandidateCategory = "STAFF"
	CategoryExternal CandidateCategory = "EXTERNAL"
)

// Valid reports whether the category is one of the recognised values.
func (c CandidateCategory) Valid() bool {
	switch c {
	case CategoryStudent, CategoryStaff, CategoryExternal:
		return true
	}
	return false
}

// Candidate is a person eligible to enroll. The (national id, email) pair is
// the natural key used for deduplication: a resubmission with the same pair
// updates contact details in place instead of creating a second record.
type Candidate struct {
	ID         string            `db:"id" json:"id"`
	NationalID string            `db:"national_id" json:"national_id"`
	Email      string            `db:"email" json:"email"`
	FullName   string            `db:"full_name" json:"full_name"`
	Phone      string            `db:"phone" json:"phone"`
	Category   CandidateCategory `db:"category" json:"category"`
	Active     bool              `db:"active" json:"active"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updated_at"`
}

// CandidateFilter captures search parameters for listing candidates.
type CandidateFilter struct {
	Search    string
	Category  CandidateCategory
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
