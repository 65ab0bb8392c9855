package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iliyamo/club-event-registration/internal/apperr"
	"github.com/iliyamo/club-event-registration/internal/model"
)

// appendAttempts bounds the retries of AppendRoster when the guarded
// write misses but a reload finds the listing eligible again.
const appendAttempts = 3

// CatalogRepo is the MongoDB catalog. Clubs and events live in their own
// collections with the roster embedded in each document.
type CatalogRepo struct {
	clubs  *mongo.Collection
	events *mongo.Collection
	now    func() time.Time
}

// NewCatalogRepo constructs a CatalogRepo on db.
func NewCatalogRepo(db *mongo.Database) *CatalogRepo {
	return &CatalogRepo{
		clubs:  db.Collection(model.KindClub.Collection()),
		events: db.Collection(model.KindEvent.Collection()),
		now:    time.Now,
	}
}

func (r *CatalogRepo) coll(kind model.Kind) *mongo.Collection {
	if kind == model.KindEvent {
		return r.events
	}
	return r.clubs
}

// EnsureIndexes creates the unique link index and the roster lookup
// index on both collections. It is idempotent.
func (r *CatalogRepo) EnsureIndexes(ctx context.Context) error {
	for _, c := range []*mongo.Collection{r.clubs, r.events} {
		_, err := c.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "registration_link", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uq_registration_link"),
			},
			{
				Keys:    bson.D{{Key: "roster.student_id", Value: 1}},
				Options: options.Index().SetName("ix_roster_student"),
			},
		})
		if err != nil {
			return storeErr("ensure indexes on "+c.Name(), err)
		}
	}
	return nil
}

func (r *CatalogRepo) CreateClub(ctx context.Context, c *model.Club) error {
	return r.insert(ctx, r.clubs, &c.Listing, c)
}

func (r *CatalogRepo) CreateEvent(ctx context.Context, e *model.Event) error {
	return r.insert(ctx, r.events, &e.Listing, e)
}

// insert assigns the system fields through l and stores doc. A link
// collision, which only a caller supplied link can realistically cause,
// is retried with a fresh token.
func (r *CatalogRepo) insert(ctx context.Context, coll *mongo.Collection, l *model.Listing, doc any) error {
	prepareNew(l, r.now())
	for attempt := 0; ; attempt++ {
		_, err := coll.InsertOne(ctx, doc)
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) || attempt >= 2 {
			return storeErr("insert "+coll.Name(), err)
		}
		l.RegistrationLink = NewLink()
	}
}

func (r *CatalogRepo) ListClubs(ctx context.Context) ([]model.Club, error) {
	out := []model.Club{}
	return out, r.find(ctx, r.clubs, bson.M{}, &out)
}

func (r *CatalogRepo) ListEvents(ctx context.Context) ([]model.Event, error) {
	out := []model.Event{}
	return out, r.find(ctx, r.events, bson.M{}, &out)
}

func (r *CatalogRepo) ClubsWithStudent(ctx context.Context, studentID uint64) ([]model.Club, error) {
	out := []model.Club{}
	return out, r.find(ctx, r.clubs, bson.M{"roster.student_id": studentID}, &out)
}

func (r *CatalogRepo) EventsWithStudent(ctx context.Context, studentID uint64) ([]model.Event, error) {
	out := []model.Event{}
	return out, r.find(ctx, r.events, bson.M{"roster.student_id": studentID}, &out)
}

// find decodes every document matching filter into out, oldest first.
func (r *CatalogRepo) find(ctx context.Context, coll *mongo.Collection, filter bson.M, out any) error {
	cur, err := coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return storeErr("find "+coll.Name(), err)
	}
	return storeErr("decode "+coll.Name(), cur.All(ctx, out))
}

func (r *CatalogRepo) GetClub(ctx context.Context, idOrLink string) (model.Club, error) {
	var c model.Club
	err := r.findOne(ctx, r.clubs, idOrLink, &c)
	return c, err
}

func (r *CatalogRepo) GetEvent(ctx context.Context, idOrLink string) (model.Event, error) {
	var e model.Event
	err := r.findOne(ctx, r.events, idOrLink, &e)
	return e, err
}

func (r *CatalogRepo) GetListing(ctx context.Context, kind model.Kind, idOrLink string) (model.Listing, error) {
	var l model.Listing
	err := r.findOne(ctx, r.coll(kind), idOrLink, &l)
	return l, err
}

func (r *CatalogRepo) ClubExists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	n, err := r.clubs.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, storeErr("count clubs", err)
	}
	return n > 0, nil
}

// findOne resolves idOrLink by object id first and registration link
// second.
func (r *CatalogRepo) findOne(ctx context.Context, coll *mongo.Collection, idOrLink string, out any) error {
	if idOrLink == "" {
		return ErrListingNotFound
	}
	if id, ok := parseID(idOrLink); ok {
		err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(out)
		if err == nil {
			return nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return storeErr("find "+coll.Name()+" by id", err)
		}
	}
	err := coll.FindOne(ctx, bson.M{"registration_link": idOrLink}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrListingNotFound
	}
	return storeErr("find "+coll.Name()+" by link", err)
}

func (r *CatalogRepo) UpdateClub(ctx context.Context, c *model.Club) error {
	set := listingSet(&c.Listing, r.now())
	return r.update(ctx, r.clubs, c.ID, c.Capacity, set, c)
}

func (r *CatalogRepo) UpdateEvent(ctx context.Context, e *model.Event) error {
	set := listingSet(&e.Listing, r.now())
	set["date"] = e.Date
	set["time"] = e.Time
	set["duration"] = e.Duration
	set["location"] = e.Location
	set["club_id"] = e.ClubID
	return r.update(ctx, r.events, e.ID, e.Capacity, set, e)
}

func listingSet(l *model.Listing, now time.Time) bson.M {
	return bson.M{
		"name":                  l.Name,
		"description":           l.Description,
		"category":              l.Category,
		"is_active":             l.IsActive,
		"capacity":              l.Capacity,
		"registration_deadline": l.RegistrationDeadline,
		"requirements":          l.Requirements,
		"contact_email":         l.ContactEmail,
		"updated_at":            stamp(now),
	}
}

// update applies set to the document with id, refusing atomically when
// capacity would drop below the stored roster size, and decodes the
// updated document into out.
func (r *CatalogRepo) update(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID, capacity *int, set bson.M, out any) error {
	filter := bson.M{"_id": id}
	if capacity != nil {
		filter["$expr"] = bson.M{"$lte": bson.A{bson.M{"$size": "$roster"}, *capacity}}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(out)
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return storeErr("update "+coll.Name(), err)
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return storeErr("update "+coll.Name(), err)
	}
	if n > 0 {
		return ErrCapacityBelowRoster
	}
	return ErrListingNotFound
}

// Delete removes the listing and its roster. Deleting a club turns the
// events it hosted into university-wide events.
func (r *CatalogRepo) Delete(ctx context.Context, kind model.Kind, id primitive.ObjectID) error {
	res, err := r.coll(kind).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return storeErr("delete "+kind.Collection(), err)
	}
	if res.DeletedCount == 0 {
		return ErrListingNotFound
	}
	if kind == model.KindClub {
		_, err = r.events.UpdateMany(ctx,
			bson.M{"club_id": id},
			bson.M{"$set": bson.M{"club_id": nil, "updated_at": stamp(r.now())}})
		if err != nil {
			return storeErr("detach events", err)
		}
	}
	return nil
}

func (r *CatalogRepo) RotateLink(ctx context.Context, kind model.Kind, id primitive.ObjectID, link string) error {
	res, err := r.coll(kind).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"registration_link": link, "updated_at": stamp(r.now())}})
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("registration link already in use")
	}
	if err != nil {
		return storeErr("rotate link", err)
	}
	if res.MatchedCount == 0 {
		return ErrListingNotFound
	}
	return nil
}

// AppendRoster pushes entry with a single conditional update. The filter
// repeats every eligibility rule, so of two requests racing for the last
// spot only one can match; the other reloads and is told why.
func (r *CatalogRepo) AppendRoster(ctx context.Context, kind model.Kind, id primitive.ObjectID, entry model.RosterEntry) error {
	coll := r.coll(kind)
	entry.RegistrationDate = stamp(entry.RegistrationDate)
	now := entry.RegistrationDate

	filter := bson.M{
		"_id":               id,
		"is_active":         true,
		"roster.student_id": bson.M{"$ne": entry.StudentID},
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"registration_deadline": nil},
				bson.M{"registration_deadline": bson.M{"$gte": now}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"capacity": nil},
				bson.M{"$expr": bson.M{"$lt": bson.A{bson.M{"$size": "$roster"}, "$capacity"}}},
			}},
		},
	}
	update := bson.M{
		"$push": bson.M{"roster": entry},
		"$set":  bson.M{"updated_at": now},
	}

	for attempt := 0; attempt < appendAttempts; attempt++ {
		res, err := coll.UpdateOne(ctx, filter, update)
		if err != nil {
			return storeErr("append roster", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}

		var l model.Listing
		err = coll.FindOne(ctx, bson.M{"_id": id}).Decode(&l)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrListingNotFound
		}
		if err != nil {
			return storeErr("append roster", err)
		}
		if reason := CheckEligible(&l, entry.StudentID, now); reason != nil {
			return reason
		}
	}
	return ErrCapacityFull
}
