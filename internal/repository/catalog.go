package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/iliyamo/club-event-registration/internal/model"
)

// Catalog stores clubs and events with their embedded rosters. Two
// implementations exist: CatalogRepo on MongoDB and MemoryCatalog.
//
// Lookups taking idOrLink try the object id first and fall back to the
// registration link. Updates never touch the roster or the link; the
// roster only grows through AppendRoster and the link only changes
// through RotateLink.
type Catalog interface {
	CreateClub(ctx context.Context, c *model.Club) error
	CreateEvent(ctx context.Context, e *model.Event) error

	ListClubs(ctx context.Context) ([]model.Club, error)
	ListEvents(ctx context.Context) ([]model.Event, error)

	GetClub(ctx context.Context, idOrLink string) (model.Club, error)
	GetEvent(ctx context.Context, idOrLink string) (model.Event, error)
	GetListing(ctx context.Context, kind model.Kind, idOrLink string) (model.Listing, error)
	ClubExists(ctx context.Context, id primitive.ObjectID) (bool, error)

	// UpdateClub and UpdateEvent persist the editable fields of the
	// argument and refresh it with the stored document. They fail with
	// ErrCapacityBelowRoster when the new capacity is smaller than the
	// stored roster.
	UpdateClub(ctx context.Context, c *model.Club) error
	UpdateEvent(ctx context.Context, e *model.Event) error

	Delete(ctx context.Context, kind model.Kind, id primitive.ObjectID) error
	RotateLink(ctx context.Context, kind model.Kind, id primitive.ObjectID, link string) error

	// AppendRoster adds entry to the listing if, atomically with the
	// write, the listing is active, before its deadline, below capacity
	// and does not yet hold the student. Otherwise it returns the
	// refusal reason from CheckEligible.
	AppendRoster(ctx context.Context, kind model.Kind, id primitive.ObjectID, entry model.RosterEntry) error

	ClubsWithStudent(ctx context.Context, studentID uint64) ([]model.Club, error)
	EventsWithStudent(ctx context.Context, studentID uint64) ([]model.Event, error)
}

// NewLink returns a fresh registration link token.
func NewLink() string { return uuid.NewString() }

// parseID returns the object id encoded in s, if it is one.
func parseID(s string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(s))
	return id, err == nil
}

// prepareNew fills the system assigned fields of a listing about to be
// inserted.
func prepareNew(l *model.Listing, now time.Time) {
	if l.ID.IsZero() {
		l.ID = primitive.NewObjectID()
	}
	if l.RegistrationLink == "" {
		l.RegistrationLink = NewLink()
	}
	l.Roster = []model.RosterEntry{}
	t := stamp(now)
	l.CreatedAt = t
	l.UpdatedAt = t
}

// stamp truncates t to the millisecond precision MongoDB stores, so that
// both catalogs hand back identical timestamps.
func stamp(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

var (
	_ Catalog = (*CatalogRepo)(nil)
	_ Catalog = (*MemoryCatalog)(nil)
)
