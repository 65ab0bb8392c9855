package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/iliyamo/club-event-registration/internal/apperr"
	"github.com/iliyamo/club-event-registration/internal/model"
	"github.com/iliyamo/club-event-registration/internal/repository"
)

// CatalogHandler serves the public club and event views and the admin
// management endpoints.
type CatalogHandler struct {
	Catalog repository.Catalog
	// PublicBaseURL prefixes the shareable link returned by GenerateLink.
	PublicBaseURL string
}

func NewCatalogHandler(catalog repository.Catalog, publicBaseURL string) *CatalogHandler {
	if catalog == nil {
		panic("nil catalog passed to NewCatalogHandler")
	}
	return &CatalogHandler{Catalog: catalog, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

// ----- public views -----

// listingView is the sanitized form of a listing: the roster is reduced
// to counts.
type listingView struct {
	ID                   primitive.ObjectID `json:"id"`
	Name                 string             `json:"name"`
	Description          string             `json:"description"`
	Category             string             `json:"category"`
	IsActive             bool               `json:"is_active"`
	Capacity             *int               `json:"capacity"`
	RegistrationDeadline *time.Time         `json:"registration_deadline"`
	Requirements         string             `json:"requirements"`
	ContactEmail         string             `json:"contact_email"`
	RegistrationLink     string             `json:"registration_link"`
	RegisteredCount      int                `json:"registered_count"`
	SpotsRemaining       *int               `json:"spots_remaining"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

type clubView struct {
	listingView
}

type eventView struct {
	listingView
	Date     time.Time           `json:"date"`
	Time     string              `json:"time"`
	Duration string              `json:"duration"`
	Location string              `json:"location"`
	ClubID   *primitive.ObjectID `json:"club_id"`
}

func viewOf(l model.Listing) listingView {
	return listingView{
		ID:                   l.ID,
		Name:                 l.Name,
		Description:          l.Description,
		Category:             l.Category,
		IsActive:             l.IsActive,
		Capacity:             l.Capacity,
		RegistrationDeadline: l.RegistrationDeadline,
		Requirements:         l.Requirements,
		ContactEmail:         l.ContactEmail,
		RegistrationLink:     l.RegistrationLink,
		RegisteredCount:      len(l.Roster),
		SpotsRemaining:       l.SpotsRemaining(),
		CreatedAt:            l.CreatedAt,
		UpdatedAt:            l.UpdatedAt,
	}
}

func clubViewOf(c model.Club) clubView { return clubView{viewOf(c.Listing)} }

func eventViewOf(e model.Event) eventView {
	return eventView{listingView: viewOf(e.Listing), Date: e.Date, Time: e.Time, Duration: e.Duration, Location: e.Location, ClubID: e.ClubID}
}

// ListClubs handles GET /api/clubs.
func (h *CatalogHandler) ListClubs(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	clubs, err := h.Catalog.ListClubs(ctx)
	if err != nil {
		return err
	}
	out := make([]clubView, 0, len(clubs))
	for _, cl := range clubs {
		out = append(out, clubViewOf(cl))
	}
	return c.JSON(http.StatusOK, out)
}

// ListEvents handles GET /api/events.
func (h *CatalogHandler) ListEvents(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	events, err := h.Catalog.ListEvents(ctx)
	if err != nil {
		return err
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventViewOf(e))
	}
	return c.JSON(http.StatusOK, out)
}

// GetClub handles GET /api/clubs/:id, where id is an object id or a
// registration link.
func (h *CatalogHandler) GetClub(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	cl, err := h.Catalog.GetClub(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, clubViewOf(cl))
}

// GetEvent handles GET /api/events/:id.
func (h *CatalogHandler) GetEvent(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	e, err := h.Catalog.GetEvent(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, eventViewOf(e))
}

// ClubCategories handles GET /api/clubs/categories.
func (h *CatalogHandler) ClubCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"categories": model.Categories(model.KindClub)})
}

// EventCategories handles GET /api/events/categories.
func (h *CatalogHandler) EventCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"categories": model.Categories(model.KindEvent)})
}

// ----- admin DTOs -----

// listingReq carries the shared listing fields. On create a nil pointer
// means "use the default"; on update it means "leave unchanged".
type listingReq struct {
	Name                 *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description          *string `json:"description" validate:"omitempty,max=5000"`
	Category             *string `json:"category"`
	IsActive             *bool   `json:"is_active"`
	Capacity             *int    `json:"capacity"`
	RegistrationDeadline *string `json:"registration_deadline"`
	Requirements         *string `json:"requirements" validate:"omitempty,max=2000"`
	ContactEmail         *string `json:"contact_email" validate:"omitempty,email"`
}

type clubReq struct {
	listingReq
}

type eventReq struct {
	listingReq
	Date     *string `json:"date"`
	Time     *string `json:"time" validate:"omitempty,max=20"`
	Duration *string `json:"duration" validate:"omitempty,max=50"`
	Location *string `json:"location" validate:"omitempty,max=200"`
	// ClubID is a club object id; an empty string detaches the event.
	ClubID *string `json:"club_id"`
}

// apply copies the set fields of r onto l.
func (r listingReq) apply(kind model.Kind, l *model.Listing) error {
	if r.Name != nil {
		l.Name = strings.TrimSpace(*r.Name)
	}
	if r.Description != nil {
		l.Description = *r.Description
	}
	if r.Category != nil {
		l.Category = strings.TrimSpace(*r.Category)
	}
	if r.IsActive != nil {
		l.IsActive = *r.IsActive
	}
	if r.Capacity != nil {
		if *r.Capacity <= 0 {
			l.Capacity = nil
		} else {
			n := *r.Capacity
			l.Capacity = &n
		}
	}
	if r.RegistrationDeadline != nil {
		if strings.TrimSpace(*r.RegistrationDeadline) == "" {
			l.RegistrationDeadline = nil
		} else {
			t, err := parseTime("registration_deadline", *r.RegistrationDeadline)
			if err != nil {
				return err
			}
			l.RegistrationDeadline = &t
		}
	}
	if r.Requirements != nil {
		l.Requirements = *r.Requirements
	}
	if r.ContactEmail != nil {
		l.ContactEmail = model.NormalizeEmail(*r.ContactEmail)
	}

	switch {
	case l.Name == "":
		return apperr.Validation("name is required")
	case !model.ValidCategory(kind, l.Category):
		return apperr.Validation("category must be one of " + strings.Join(model.Categories(kind), ", "))
	}
	return nil
}

func (h *CatalogHandler) applyEvent(c echo.Context, r eventReq, e *model.Event) error {
	if err := r.listingReq.apply(model.KindEvent, &e.Listing); err != nil {
		return err
	}
	if e.RegistrationDeadline == nil {
		return apperr.Validation("registration_deadline is required for events")
	}
	if r.Date != nil {
		t, err := parseTime("date", *r.Date)
		if err != nil {
			return err
		}
		e.Date = t
	}
	if e.Date.IsZero() {
		return apperr.Validation("date is required")
	}
	if r.Time != nil {
		e.Time = strings.TrimSpace(*r.Time)
	}
	if r.Duration != nil {
		e.Duration = strings.TrimSpace(*r.Duration)
	}
	if r.Location != nil {
		e.Location = strings.TrimSpace(*r.Location)
	}
	if e.Location == "" {
		return apperr.Validation("location is required")
	}
	if r.ClubID != nil {
		raw := strings.TrimSpace(*r.ClubID)
		if raw == "" {
			e.ClubID = nil
			return nil
		}
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return apperr.Validation("club_id is not a valid id")
		}
		ctx, cancel := withTimeout(c)
		defer cancel()
		ok, err := h.Catalog.ClubExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("club_id does not reference an existing club")
		}
		e.ClubID = &id
	}
	return nil
}

func objectIDParam(c echo.Context) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return primitive.NilObjectID, repository.ErrListingNotFound
	}
	return id, nil
}

// ----- admin endpoints -----

// CreateClub handles POST /api/clubs.
func (h *CatalogHandler) CreateClub(c echo.Context) error {
	var req clubReq
	if err := bind(c, &req); err != nil {
		return err
	}
	cl := model.Club{Listing: model.Listing{IsActive: true}}
	if err := req.apply(model.KindClub, &cl.Listing); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Catalog.CreateClub(ctx, &cl); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cl)
}

// CreateEvent handles POST /api/events.
func (h *CatalogHandler) CreateEvent(c echo.Context) error {
	var req eventReq
	if err := bind(c, &req); err != nil {
		return err
	}
	e := model.Event{Listing: model.Listing{IsActive: true}}
	if err := h.applyEvent(c, req, &e); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Catalog.CreateEvent(ctx, &e); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

// UpdateClub handles PUT and PATCH /api/clubs/:id. Only the fields
// present in the body change.
func (h *CatalogHandler) UpdateClub(c echo.Context) error {
	id, err := objectIDParam(c)
	if err != nil {
		return err
	}
	var req clubReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	cl, err := h.Catalog.GetClub(ctx, id.Hex())
	if err != nil {
		return err
	}
	if err := req.apply(model.KindClub, &cl.Listing); err != nil {
		return err
	}
	if err := h.Catalog.UpdateClub(ctx, &cl); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

// UpdateEvent handles PUT and PATCH /api/events/:id.
func (h *CatalogHandler) UpdateEvent(c echo.Context) error {
	id, err := objectIDParam(c)
	if err != nil {
		return err
	}
	var req eventReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	e, err := h.Catalog.GetEvent(ctx, id.Hex())
	if err != nil {
		return err
	}
	if err := h.applyEvent(c, req, &e); err != nil {
		return err
	}
	if err := h.Catalog.UpdateEvent(ctx, &e); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

// DeleteClub handles DELETE /api/clubs/:id. Events hosted by the club
// become university-wide.
func (h *CatalogHandler) DeleteClub(c echo.Context) error {
	return h.delete(c, model.KindClub)
}

// DeleteEvent handles DELETE /api/events/:id.
func (h *CatalogHandler) DeleteEvent(c echo.Context) error {
	return h.delete(c, model.KindEvent)
}

func (h *CatalogHandler) delete(c echo.Context, kind model.Kind) error {
	id, err := objectIDParam(c)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Catalog.Delete(ctx, kind, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": string(kind) + " deleted"})
}

type linkResp struct {
	RegistrationLink string `json:"registration_link"`
	FullLink         string `json:"full_link"`
}

// GenerateClubLink handles POST /api/clubs/:id/generate-link.
func (h *CatalogHandler) GenerateClubLink(c echo.Context) error {
	return h.generateLink(c, model.KindClub)
}

// GenerateEventLink handles POST /api/events/:id/generate-link.
func (h *CatalogHandler) GenerateEventLink(c echo.Context) error {
	return h.generateLink(c, model.KindEvent)
}

// generateLink replaces the registration link; the old one stops
// resolving immediately.
func (h *CatalogHandler) generateLink(c echo.Context, kind model.Kind) error {
	id, err := objectIDParam(c)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	link := repository.NewLink()
	if err := h.Catalog.RotateLink(ctx, kind, id, link); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, linkResp{
		RegistrationLink: link,
		FullLink:         h.PublicBaseURL + "/register/" + string(kind) + "/" + link,
	})
}
