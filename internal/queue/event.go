// Package queue defines message payloads exchanged over the message broker.
package queue

// RegistrationCreatedQueue is the durable queue carrying
// RegistrationCreatedEvent messages.
const RegistrationCreatedQueue = "registration.created"

// RegistrationCreatedEvent is published after a roster entry has been
// stored. It contains enough information for downstream consumers to
// log or notify without querying either store.
type RegistrationCreatedEvent struct {
	Kind          string `json:"kind"`
	ListingID     string `json:"listing_id"`
	ListingName   string `json:"listing_name"`
	StudentID     uint64 `json:"student_id"`
	StudentEmail  string `json:"student_email"`
	StudentNumber string `json:"student_number,omitempty"`
	Status        string `json:"status"`
	RegisteredAt  string `json:"registered_at"` // RFC 3339, UTC
}
