package events

import "time"

// EventType identifies the kind of domain event emitted by the admission core.
type EventType string

// Emitted event types. External collaborators (notification, analytics,
// certificate issuance) subscribe to these; the service itself only produces.
const (
	TypePreinscriptionCreated  EventType = "preinscription.created"
	TypePreinscriptionReviewed EventType = "preinscription.reviewed"
	TypeEnrollmentCreated      EventType = "enrollment.created"
	TypeOutcomeResolved        EventType = "outcome.resolved"
)

// Event is the envelope published to the event sink. Events are emitted only
// after the owning transaction has committed.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	CourseID         string `json:"course_id,omitempty"`
	CandidateID      string `json:"candidate_id,omitempty"`
	PreinscriptionID string `json:"preinscription_id,omitempty"`
	EnrollmentID     string `json:"enrollment_id,omitempty"`

	// State carries the resulting state for review and outcome events,
	// e.g. "APPROVED", "REJECTED", "PASSED", "WITHDRAWN".
	State string `json:"state,omitempty"`

	ActorID string `json:"actor_id,omitempty"`
}
