package model

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind distinguishes the two registrable listings.
type Kind string

const (
	KindClub  Kind = "club"
	KindEvent Kind = "event"
)

// ParseKind accepts the singular or plural form used in URLs.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "club", "clubs":
		return KindClub, true
	case "event", "events":
		return KindEvent, true
	}
	return "", false
}

// Collection is the MongoDB collection holding listings of this kind.
func (k Kind) Collection() string { return string(k) + "s" }

var clubCategories = []string{"Academic", "Sports", "Cultural", "Technical", "Social", "Other"}

var eventCategories = []string{"Workshop", "Seminar", "Competition", "Social", "Cultural", "Sports", "Other"}

// Categories returns the category enum for kind.
func Categories(kind Kind) []string {
	if kind == KindEvent {
		return eventCategories
	}
	return clubCategories
}

// ValidCategory reports whether category belongs to kind's enum.
func ValidCategory(kind Kind, category string) bool {
	for _, c := range Categories(kind) {
		if c == category {
			return true
		}
	}
	return false
}

// RosterStatus is the review state of a roster entry. Entries are
// created pending; nothing transitions them yet.
type RosterStatus string

const (
	RosterPending  RosterStatus = "pending"
	RosterApproved RosterStatus = "approved"
	RosterRejected RosterStatus = "rejected"
)

// RosterEntry is one registration embedded in a club or event.
type RosterEntry struct {
	StudentID        uint64       `bson:"student_id" json:"student_id"`
	RegistrationDate time.Time    `bson:"registration_date" json:"registration_date"`
	Status           RosterStatus `bson:"status" json:"status"`
}

// Listing holds the fields clubs and events share. It is stored inline
// in both the `clubs` and `events` collections.
//
// Fields:
//
//	ID                   – MongoDB object id.
//	Category             – one of Categories(kind).
//	IsActive             – closed listings refuse registrations.
//	Capacity             – maximum roster length; nil means unlimited.
//	RegistrationDeadline – registrations after this instant are refused.
//	RegistrationLink     – opaque shareable token, unique per collection.
//	Roster               – registrations in arrival order.
type Listing struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                 string             `bson:"name" json:"name"`
	Description          string             `bson:"description" json:"description"`
	Category             string             `bson:"category" json:"category"`
	IsActive             bool               `bson:"is_active" json:"is_active"`
	Capacity             *int               `bson:"capacity" json:"capacity"`
	RegistrationDeadline *time.Time         `bson:"registration_deadline" json:"registration_deadline"`
	Requirements         string             `bson:"requirements" json:"requirements"`
	ContactEmail         string             `bson:"contact_email" json:"contact_email"`
	RegistrationLink     string             `bson:"registration_link" json:"registration_link"`
	Roster               []RosterEntry      `bson:"roster" json:"roster"`
	CreatedAt            time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `bson:"updated_at" json:"updated_at"`
}

// Entry returns the roster entry for studentID, if any.
func (l *Listing) Entry(studentID uint64) (RosterEntry, bool) {
	for _, e := range l.Roster {
		if e.StudentID == studentID {
			return e, true
		}
	}
	return RosterEntry{}, false
}

// Full reports whether a capacity is set and already reached.
func (l *Listing) Full() bool {
	return l.Capacity != nil && len(l.Roster) >= *l.Capacity
}

// DeadlinePassed reports whether a deadline is set and now is after it.
func (l *Listing) DeadlinePassed(now time.Time) bool {
	return l.RegistrationDeadline != nil && now.After(*l.RegistrationDeadline)
}

// SpotsRemaining is nil for unlimited listings.
func (l *Listing) SpotsRemaining() *int {
	if l.Capacity == nil {
		return nil
	}
	n := *l.Capacity - len(l.Roster)
	if n < 0 {
		n = 0
	}
	return &n
}

// Club is a student organisation students can join.
type Club struct {
	Listing `bson:",inline"`
}

// Event is a dated activity, optionally hosted by a club. A nil ClubID
// marks a university-wide event.
type Event struct {
	Listing  `bson:",inline"`
	Date     time.Time           `bson:"date" json:"date"`
	Time     string              `bson:"time" json:"time"`
	Duration string              `bson:"duration" json:"duration"`
	Location string              `bson:"location" json:"location"`
	ClubID   *primitive.ObjectID `bson:"club_id" json:"club_id"`
}
