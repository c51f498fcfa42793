package models

import "time"

// Course represents a finite-capacity certification course offering.
// TotalSeats is fixed at creation; OccupiedSeats is owned exclusively by the
// capacity ledger and must never be written through any other path.
type Course struct {
	ID            string    `db:"id" json:"id"`
	Code          string    `db:"code" json:"code"`
	Name          string    `db:"name" json:"name"`
	TotalSeats    int       `db:"total_seats" json:"total_seats"`
	OccupiedSeats int       `db:"occupied_seats" json:"occupied_seats"`
	StartDate     time.Time `db:"start_date" json:"start_date"`
	EndDate       time.Time `db:"end_date" json:"end_date"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// FreeSeats returns the number of seats still available.
func (c Course) FreeSeats() int {
	free := c.TotalSeats - c.OccupiedSeats
	if free < 0 {
		return 0
	}
	return free
}

// Ended reports whether the course period has concluded at the given instant.
func (c Course) Ended(now time.Time) bool {
	return now.After(c.EndDate)
}

// OpenForSubmission reports whether a preinscription may be submitted at the
// given instant honoring the configured minimum lead time before start.
func (c Course) OpenForSubmission(now time.Time, leadTime time.Duration) bool {
	return c.Active && !now.After(c.StartDate.Add(-leadTime))
}

// CourseDetail extends Course with derived occupancy info for responses.
type CourseDetail struct {
	Course
	FreeSeats int `json:"free_seats"`
}

// CourseFilter defines filter criteria for listing courses.
type CourseFilter struct {
	Active    *bool
	Search    string
	Upcoming  bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CoursePrice maps a candidate category to the price of a course.
type CoursePrice struct {
	CourseID    string            `db:"course_id" json:"course_id"`
	Category    CandidateCategory `db:"category" json:"category"`
	AmountCents int64             `db:"amount_cents" json:"amount_cents"`
	Currency    string            `db:"currency" json:"currency"`
}
