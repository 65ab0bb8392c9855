// Package registration implements the eligibility-gated roster append
// and the admin roster views built on top of the catalog and identity
// stores.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/club-event-registration/internal/apperr"
	"github.com/iliyamo/club-event-registration/internal/auth"
	"github.com/iliyamo/club-event-registration/internal/metrics"
	"github.com/iliyamo/club-event-registration/internal/model"
	"github.com/iliyamo/club-event-registration/internal/queue"
	"github.com/iliyamo/club-event-registration/internal/repository"
)

// Refusal reasons, shared with the stores so that a refusal detected
// inside the atomic append matches the one detected up front.
var (
	ErrNotFound          = repository.ErrListingNotFound
	ErrNotActive         = repository.ErrNotActive
	ErrDeadlinePassed    = repository.ErrDeadlinePassed
	ErrCapacityFull      = repository.ErrCapacityFull
	ErrAlreadyRegistered = repository.ErrAlreadyRegistered
)

// Catalog is the part of repository.Catalog the workflow needs.
type Catalog interface {
	GetListing(ctx context.Context, kind model.Kind, idOrLink string) (model.Listing, error)
	AppendRoster(ctx context.Context, kind model.Kind, id primitive.ObjectID, entry model.RosterEntry) error
	ClubsWithStudent(ctx context.Context, studentID uint64) ([]model.Club, error)
	EventsWithStudent(ctx context.Context, studentID uint64) ([]model.Event, error)
}

// Students resolves roster entries to student profiles.
type Students interface {
	StudentsByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Student, error)
}

// Publisher announces stored registrations.
type Publisher interface {
	PublishRegistrationCreated(ctx context.Context, ev queue.RegistrationCreatedEvent) error
}

const publishTimeout = 5 * time.Second

// Service runs the registration workflow.
type Service struct {
	catalog   Catalog
	students  Students
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService creates a Service. publisher, logger, m and tracer may be
// nil.
func NewService(catalog Catalog, students Students, publisher Publisher, logger *slog.Logger, m *metrics.Metrics, tracer trace.Tracer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/iliyamo/club-event-registration/internal/registration")
	}
	return &Service{
		catalog:   catalog,
		students:  students,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		tracer:    tracer,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, sp := s.tracer.Start(ctx, "registration."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			sp.RecordError(*errp)
			sp.SetStatus(codes.Error, apperr.KindOf(*errp).String())
		}
		sp.End()
	}
}

// Register appends the student to the roster of the listing named by
// idOrLink (object id first, registration link as fallback). The
// refusals are ErrNotFound, ErrNotActive, ErrDeadlinePassed,
// ErrAlreadyRegistered and ErrCapacityFull. The eligibility check is
// repeated by the store atomically with the write, so of two students
// racing for the last spot exactly one succeeds.
func (s *Service) Register(ctx context.Context, p auth.StudentPrincipal, kind model.Kind, idOrLink string) (entry model.RosterEntry, err error) {
	defer s.metrics.Observe("register", time.Now())
	ctx, end := s.span(ctx, "Register",
		attribute.String("listing.kind", string(kind)),
		attribute.Int64("student.id", int64(p.Student.ID)))
	defer end(&err)
	defer func() { s.countRegistration(kind, err) }()

	l, err := s.catalog.GetListing(ctx, kind, idOrLink)
	if err != nil {
		return model.RosterEntry{}, err
	}
	now := s.now().UTC()
	if err := repository.CheckEligible(&l, p.Student.ID, now); err != nil {
		return model.RosterEntry{}, err
	}

	entry = model.RosterEntry{
		StudentID:        p.Student.ID,
		RegistrationDate: now.Truncate(time.Millisecond),
		Status:           model.RosterPending,
	}
	if err := s.catalog.AppendRoster(ctx, kind, l.ID, entry); err != nil {
		return model.RosterEntry{}, err
	}

	s.logger.InfoContext(ctx, "registration created",
		slog.String("kind", string(kind)),
		slog.String("listing_id", l.ID.Hex()),
		slog.Uint64("student_id", p.Student.ID))
	s.publish(ctx, kind, l, p.Student, entry)
	return entry, nil
}

// publish sends the registration.created message in the background; a
// broker outage never fails a stored registration.
func (s *Service) publish(ctx context.Context, kind model.Kind, l model.Listing, st model.Student, e model.RosterEntry) {
	if s.publisher == nil {
		return
	}
	ev := queue.RegistrationCreatedEvent{
		Kind:          string(kind),
		ListingID:     l.ID.Hex(),
		ListingName:   l.Name,
		StudentID:     st.ID,
		StudentEmail:  st.Email,
		StudentNumber: st.StudentNumberOrEmpty(),
		Status:        string(e.Status),
		RegisteredAt:  e.RegistrationDate.Format(time.RFC3339),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	go func() {
		defer cancel()
		if err := s.publisher.PublishRegistrationCreated(ctx, ev); err != nil {
			s.metrics.Queue("out", metrics.OutcomeError)
			s.logger.WarnContext(ctx, "publish registration.created failed", slog.Any("error", err))
			return
		}
		s.metrics.Queue("out", metrics.OutcomeSuccess)
	}()
}

func (s *Service) countRegistration(kind model.Kind, err error) {
	switch {
	case err == nil:
		s.metrics.Registration(string(kind), metrics.OutcomeSuccess, "")
	case apperr.KindOf(err) == apperr.KindConflict || apperr.KindOf(err) == apperr.KindNotFound:
		s.metrics.Registration(string(kind), metrics.OutcomeRefused, refusalReason(err))
	default:
		s.metrics.Registration(string(kind), metrics.OutcomeError, "")
	}
}

func refusalReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrCapacityFull):
		return "capacity_full"
	}
	return "other"
}

// Registration is one listing the student is on, with their own entry.
type Registration struct {
	Kind             model.Kind          `json:"kind"`
	ID               primitive.ObjectID  `json:"id"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	Category         string              `json:"category"`
	IsActive         bool                `json:"is_active"`
	Date             *time.Time          `json:"date,omitempty"`
	Time             string              `json:"time,omitempty"`
	Location         string              `json:"location,omitempty"`
	ClubID           *primitive.ObjectID `json:"club_id,omitempty"`
	Status           model.RosterStatus  `json:"status"`
	RegistrationDate time.Time           `json:"registration_date"`
}

// MyRegistrations groups a student's registrations by kind.
type MyRegistrations struct {
	Clubs  []Registration `json:"clubs"`
	Events []Registration `json:"events"`
}

func registrationOf(kind model.Kind, l model.Listing, studentID uint64) Registration {
	e, _ := l.Entry(studentID)
	return Registration{
		Kind:             kind,
		ID:               l.ID,
		Name:             l.Name,
		Description:      l.Description,
		Category:         l.Category,
		IsActive:         l.IsActive,
		Status:           e.Status,
		RegistrationDate: e.RegistrationDate,
	}
}

// MyRegistrations lists the clubs and events whose roster holds the
// student.
func (s *Service) MyRegistrations(ctx context.Context, p auth.StudentPrincipal) (out MyRegistrations, err error) {
	ctx, end := s.span(ctx, "MyRegistrations", attribute.Int64("student.id", int64(p.Student.ID)))
	defer end(&err)

	clubs, err := s.catalog.ClubsWithStudent(ctx, p.Student.ID)
	if err != nil {
		return MyRegistrations{}, err
	}
	events, err := s.catalog.EventsWithStudent(ctx, p.Student.ID)
	if err != nil {
		return MyRegistrations{}, err
	}

	out = MyRegistrations{Clubs: make([]Registration, 0, len(clubs)), Events: make([]Registration, 0, len(events))}
	for _, c := range clubs {
		out.Clubs = append(out.Clubs, registrationOf(model.KindClub, c.Listing, p.Student.ID))
	}
	for _, e := range events {
		r := registrationOf(model.KindEvent, e.Listing, p.Student.ID)
		date := e.Date
		r.Date, r.Time, r.Location, r.ClubID = &date, e.Time, e.Location, e.ClubID
		out.Events = append(out.Events, r)
	}
	return out, nil
}

// RosterRow is a roster entry joined with the student's profile. A
// student missing from the identity store keeps a row with blank
// profile fields.
type RosterRow struct {
	StudentID        uint64             `json:"student_id"`
	Name             string             `json:"name"`
	Email            string             `json:"email"`
	StudentNumber    string             `json:"student_number"`
	Year             model.Year         `json:"year"`
	Major            string             `json:"major"`
	Phone            string             `json:"phone"`
	RegistrationDate time.Time          `json:"registration_date"`
	Status           model.RosterStatus `json:"status"`
}

// Roster is a listing's roster in arrival order.
type Roster struct {
	Kind        model.Kind         `json:"kind"`
	ListingID   primitive.ObjectID `json:"listing_id"`
	ListingName string             `json:"listing_name"`
	Capacity    *int               `json:"capacity"`
	Entries     []RosterRow        `json:"registrations"`
}

// Roster loads the listing named by idOrLink and joins its entries with
// the identity store.
func (s *Service) Roster(ctx context.Context, kind model.Kind, idOrLink string) (r Roster, err error) {
	ctx, end := s.span(ctx, "Roster", attribute.String("listing.kind", string(kind)))
	defer end(&err)

	l, err := s.catalog.GetListing(ctx, kind, idOrLink)
	if err != nil {
		return Roster{}, err
	}
	ids := make([]uint64, 0, len(l.Roster))
	for _, e := range l.Roster {
		ids = append(ids, e.StudentID)
	}
	profiles := map[uint64]model.Student{}
	if len(ids) > 0 {
		if profiles, err = s.students.StudentsByIDs(ctx, ids); err != nil {
			return Roster{}, err
		}
	}

	r = Roster{Kind: kind, ListingID: l.ID, ListingName: l.Name, Capacity: l.Capacity, Entries: make([]RosterRow, 0, len(l.Roster))}
	for _, e := range l.Roster {
		row := RosterRow{StudentID: e.StudentID, RegistrationDate: e.RegistrationDate, Status: e.Status}
		if st, ok := profiles[e.StudentID]; ok {
			row.Name, row.Email, row.StudentNumber = st.Name, st.Email, st.StudentNumberOrEmpty()
			row.Year, row.Major, row.Phone = st.Year, st.Major, st.Phone
		}
		r.Entries = append(r.Entries, row)
	}
	return r, nil
}
