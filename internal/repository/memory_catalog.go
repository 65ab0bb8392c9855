package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/iliyamo/club-event-registration/internal/apperr"
	"github.com/iliyamo/club-event-registration/internal/model"
)

// MemoryCatalog is a process local Catalog. It backs demo mode, when no
// MongoDB is configured, and the service and handler tests. A single
// mutex serialises every write, which gives AppendRoster the same
// check-and-append atomicity the MongoDB filter provides.
type MemoryCatalog struct {
	mu     sync.RWMutex
	clubs  map[primitive.ObjectID]*model.Club
	events map[primitive.ObjectID]*model.Event
	links  map[model.Kind]map[string]primitive.ObjectID
	now    func() time.Time
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		clubs:  map[primitive.ObjectID]*model.Club{},
		events: map[primitive.ObjectID]*model.Event{},
		links: map[model.Kind]map[string]primitive.ObjectID{
			model.KindClub:  {},
			model.KindEvent: {},
		},
		now: time.Now,
	}
}

// SetClock replaces the time source used for timestamps. Tests only.
func (m *MemoryCatalog) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryCatalog) CreateClub(_ context.Context, c *model.Club) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimLink(model.KindClub, &c.Listing)
	cp := cloneClub(*c)
	m.clubs[c.ID] = &cp
	return nil
}

func (m *MemoryCatalog) CreateEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimLink(model.KindEvent, &e.Listing)
	cp := cloneEvent(*e)
	m.events[e.ID] = &cp
	return nil
}

// claimLink prepares l for insert, replacing a link that is already taken.
func (m *MemoryCatalog) claimLink(kind model.Kind, l *model.Listing) {
	prepareNew(l, m.now())
	for {
		if _, taken := m.links[kind][l.RegistrationLink]; !taken {
			break
		}
		l.RegistrationLink = NewLink()
	}
	m.links[kind][l.RegistrationLink] = l.ID
}

func (m *MemoryCatalog) ListClubs(_ context.Context) ([]model.Club, error) {
	return m.clubsWhere(func(*model.Club) bool { return true }), nil
}

func (m *MemoryCatalog) ListEvents(_ context.Context) ([]model.Event, error) {
	return m.eventsWhere(func(*model.Event) bool { return true }), nil
}

func (m *MemoryCatalog) ClubsWithStudent(_ context.Context, studentID uint64) ([]model.Club, error) {
	return m.clubsWhere(func(c *model.Club) bool {
		_, ok := c.Entry(studentID)
		return ok
	}), nil
}

func (m *MemoryCatalog) EventsWithStudent(_ context.Context, studentID uint64) ([]model.Event, error) {
	return m.eventsWhere(func(e *model.Event) bool {
		_, ok := e.Entry(studentID)
		return ok
	}), nil
}

func (m *MemoryCatalog) clubsWhere(keep func(*model.Club) bool) []model.Club {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Club{}
	for _, c := range m.clubs {
		if keep(c) {
			out = append(out, cloneClub(*c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return olderFirst(&out[i].Listing, &out[j].Listing) })
	return out
}

func (m *MemoryCatalog) eventsWhere(keep func(*model.Event) bool) []model.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Event{}
	for _, e := range m.events {
		if keep(e) {
			out = append(out, cloneEvent(*e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return olderFirst(&out[i].Listing, &out[j].Listing) })
	return out
}

func olderFirst(a, b *model.Listing) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.Hex() < b.ID.Hex()
}

func (m *MemoryCatalog) GetClub(_ context.Context, idOrLink string) (model.Club, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.resolve(model.KindClub, idOrLink)
	if !ok {
		return model.Club{}, ErrListingNotFound
	}
	return cloneClub(*m.clubs[id]), nil
}

func (m *MemoryCatalog) GetEvent(_ context.Context, idOrLink string) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.resolve(model.KindEvent, idOrLink)
	if !ok {
		return model.Event{}, ErrListingNotFound
	}
	return cloneEvent(*m.events[id]), nil
}

func (m *MemoryCatalog) GetListing(_ context.Context, kind model.Kind, idOrLink string) (model.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.resolve(kind, idOrLink)
	if !ok {
		return model.Listing{}, ErrListingNotFound
	}
	return cloneListing(*m.listing(kind, id)), nil
}

func (m *MemoryCatalog) ClubExists(_ context.Context, id primitive.ObjectID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clubs[id]
	return ok, nil
}

// resolve maps idOrLink to a stored id: object id first, link second.
// Callers hold the lock.
func (m *MemoryCatalog) resolve(kind model.Kind, idOrLink string) (primitive.ObjectID, bool) {
	if id, ok := parseID(idOrLink); ok && m.listing(kind, id) != nil {
		return id, true
	}
	id, ok := m.links[kind][idOrLink]
	return id, ok
}

// listing returns the stored listing or nil. Callers hold the lock.
func (m *MemoryCatalog) listing(kind model.Kind, id primitive.ObjectID) *model.Listing {
	if kind == model.KindEvent {
		if e, ok := m.events[id]; ok {
			return &e.Listing
		}
		return nil
	}
	if c, ok := m.clubs[id]; ok {
		return &c.Listing
	}
	return nil
}

func (m *MemoryCatalog) UpdateClub(_ context.Context, c *model.Club) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.clubs[c.ID]
	if !ok {
		return ErrListingNotFound
	}
	if err := m.applyListing(&cur.Listing, &c.Listing); err != nil {
		return err
	}
	*c = cloneClub(*cur)
	return nil
}

func (m *MemoryCatalog) UpdateEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.events[e.ID]
	if !ok {
		return ErrListingNotFound
	}
	if err := m.applyListing(&cur.Listing, &e.Listing); err != nil {
		return err
	}
	cur.Date = e.Date
	cur.Time = e.Time
	cur.Duration = e.Duration
	cur.Location = e.Location
	cur.ClubID = cloneID(e.ClubID)
	*e = cloneEvent(*cur)
	return nil
}

// applyListing copies the editable fields of src into dst, leaving the
// roster, link and creation time alone.
func (m *MemoryCatalog) applyListing(dst, src *model.Listing) error {
	if src.Capacity != nil && len(dst.Roster) > *src.Capacity {
		return ErrCapacityBelowRoster
	}
	dst.Name = src.Name
	dst.Description = src.Description
	dst.Category = src.Category
	dst.IsActive = src.IsActive
	dst.Capacity = cloneInt(src.Capacity)
	dst.RegistrationDeadline = cloneTime(src.RegistrationDeadline)
	dst.Requirements = src.Requirements
	dst.ContactEmail = src.ContactEmail
	dst.UpdatedAt = stamp(m.now())
	return nil
}

func (m *MemoryCatalog) Delete(_ context.Context, kind model.Kind, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listing(kind, id)
	if l == nil {
		return ErrListingNotFound
	}
	delete(m.links[kind], l.RegistrationLink)
	if kind == model.KindEvent {
		delete(m.events, id)
		return nil
	}
	delete(m.clubs, id)
	for _, e := range m.events {
		if e.ClubID != nil && *e.ClubID == id {
			e.ClubID = nil
			e.UpdatedAt = stamp(m.now())
		}
	}
	return nil
}

func (m *MemoryCatalog) RotateLink(_ context.Context, kind model.Kind, id primitive.ObjectID, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listing(kind, id)
	if l == nil {
		return ErrListingNotFound
	}
	if owner, taken := m.links[kind][link]; taken && owner != id {
		return apperr.Conflict("registration link already in use")
	}
	delete(m.links[kind], l.RegistrationLink)
	l.RegistrationLink = link
	l.UpdatedAt = stamp(m.now())
	m.links[kind][link] = id
	return nil
}

func (m *MemoryCatalog) AppendRoster(_ context.Context, kind model.Kind, id primitive.ObjectID, entry model.RosterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listing(kind, id)
	if l == nil {
		return ErrListingNotFound
	}
	entry.RegistrationDate = stamp(entry.RegistrationDate)
	if err := CheckEligible(l, entry.StudentID, entry.RegistrationDate); err != nil {
		return err
	}
	l.Roster = append(l.Roster, entry)
	l.UpdatedAt = entry.RegistrationDate
	return nil
}

// Copies keep callers from aliasing stored state.

func cloneListing(l model.Listing) model.Listing {
	l.Capacity = cloneInt(l.Capacity)
	l.RegistrationDeadline = cloneTime(l.RegistrationDeadline)
	l.Roster = append([]model.RosterEntry{}, l.Roster...)
	return l
}

func cloneClub(c model.Club) model.Club {
	c.Listing = cloneListing(c.Listing)
	return c
}

func cloneEvent(e model.Event) model.Event {
	e.Listing = cloneListing(e.Listing)
	e.ClubID = cloneID(e.ClubID)
	return e
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneID(p *primitive.ObjectID) *primitive.ObjectID {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
