package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"pgregory.net/rapid"

	"github.com/iliyamo/club-event-registration/internal/model"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCatalog() *MemoryCatalog {
	c := NewMemoryCatalog()
	c.SetClock(func() time.Time { return fixedNow })
	return c
}

func fakeClub(f *gofakeit.Faker, capacity *int) model.Club {
	deadline := fixedNow.Add(7 * 24 * time.Hour)
	return model.Club{Listing: model.Listing{
		Name:                 f.Company() + " Club",
		Description:          "Weekly meetups for " + f.Company(),
		Category:             "Academic",
		IsActive:             true,
		Capacity:             capacity,
		RegistrationDeadline: &deadline,
		Requirements:         "None",
		ContactEmail:         f.Email(),
	}}
}

func intPtr(n int) *int { return &n }

func entry(studentID uint64) model.RosterEntry {
	return model.RosterEntry{StudentID: studentID, RegistrationDate: fixedNow, Status: model.RosterPending}
}

func TestMemoryCatalog_ClubRoundTrip(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog()
	f := gofakeit.New(1)

	in := fakeClub(f, intPtr(20))
	created := in
	require.NoError(t, cat.CreateClub(ctx, &created))

	assert.False(t, created.ID.IsZero())
	assert.NotEmpty(t, created.RegistrationLink)
	assert.Equal(t, fixedNow, created.CreatedAt)
	assert.Equal(t, fixedNow, created.UpdatedAt)

	got, err := cat.GetClub(ctx, created.ID.Hex())
	require.NoError(t, err)

	want := in
	want.ID = created.ID
	want.RegistrationLink = created.RegistrationLink
	want.Roster = []model.RosterEntry{}
	want.CreatedAt = fixedNow
	want.UpdatedAt = fixedNow
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("club mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryCatalog_DualLookup(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog()
	club := fakeClub(gofakeit.New(2), nil)
	require.NoError(t, cat.CreateClub(ctx, &club))

	byLink, err := cat.GetClub(ctx, club.RegistrationLink)
	require.NoError(t, err)
	assert.Equal(t, club.ID, byLink.ID)

	_, err = cat.GetClub(ctx, primitive.NewObjectID().Hex())
	require.ErrorIs(t, err, ErrListingNotFound)

	_, err = cat.GetEvent(ctx, club.ID.Hex())
	require.ErrorIs(t, err, ErrListingNotFound, "ids are scoped to their kind")

	_, err = cat.GetListing(ctx, model.KindClub, "")
	require.ErrorIs(t, err, ErrListingNotFound)
}

func TestMemoryCatalog_RotateLink(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog()
	club := fakeClub(gofakeit.New(3), nil)
	require.NoError(t, cat.CreateClub(ctx, &club))
	old := club.RegistrationLink

	require.NoError(t, cat.RotateLink(ctx, model.KindClub, club.ID, "fresh-link"))

	_, err := cat.GetClub(ctx, old)
	require.ErrorIs(t, err, ErrListingNotFound)

	got, err := cat.GetClub(ctx, "fresh-link")
	require.NoError(t, err)
	assert.Equal(t, club.ID, got.ID)

	err = cat.RotateLink(ctx, model.KindClub, primitive.NewObjectID(), NewLink())
	require.ErrorIs(t, err, ErrListingNotFound)
}

func TestMemoryCatalog_UpdateCapacityBelowRoster(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog()
	club := fakeClub(gofakeit.New(4), intPtr(5))
	require.NoError(t, cat.CreateClub(ctx, &club))
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, cat.AppendRoster(ctx, model.KindClub, club.ID, entry(id)))
	}

	edit := club
	edit.Capacity = intPtr(2)
	require.ErrorIs(t, cat.UpdateClub(ctx, &edit), ErrCapacityBelowRoster)

	edit.Capacity = intPtr(3)
	edit.Name = "Renamed"
	require.NoError(t, cat.UpdateClub(ctx, &edit))
	assert.Equal(t, "Renamed", edit.Name)
	assert.Len(t, edit.Roster, 3, "update must not drop the roster")
	assert.Equal(t, club.RegistrationLink, edit.RegistrationLink)

	edit.Capacity = nil
	require.NoError(t, cat.UpdateClub(ctx, &edit))
	assert.Nil(t, edit.Capacity)
}

func TestMemoryCatalog_DeleteClubDetachesEvents(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog()
	club := fakeClub(gofakeit.New(5), nil)
	require.NoError(t, cat.CreateClub(ctx, &club))

	ev := model.Event{Listing: fakeClub(gofakeit.New(6), nil).Listing, ClubID: &club.ID, Location: "Hall B"}
	ev.Category = "Workshop"
	require.NoError(t, cat.CreateEvent(ctx, &ev))

	require.NoError(t, cat.Delete(ctx, model.KindClub, club.ID))

	_, err := cat.GetClub(ctx, club.RegistrationLink)
	require.ErrorIs(t, err, ErrListingNotFound)

	got, err := cat.GetEvent(ctx, ev.ID.Hex())
	require.NoError(t, err)
	assert.Nil(t, got.ClubID)

	require.ErrorIs(t, cat.Delete(ctx, model.KindClub, club.ID), ErrListingNotFound)
}

func TestMemoryCatalog_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog()
	club := fakeClub(gofakeit.New(7), intPtr(2))
	require.NoError(t, cat.CreateClub(ctx, &club))
	require.NoError(t, cat.AppendRoster(ctx, model.KindClub, club.ID, entry(1)))

	got, err := cat.GetClub(ctx, club.ID.Hex())
	require.NoError(t, err)
	got.Roster[0].Status = model.RosterApproved
	*got.Capacity = 99

	again, err := cat.GetClub(ctx, club.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.RosterPending, again.Roster[0].Status)
	assert.Equal(t, 2, *again.Capacity)
}

func TestMemoryCatalog_StudentListings(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog()
	f := gofakeit.New(8)
	a, b := fakeClub(f, nil), fakeClub(f, nil)
	require.NoError(t, cat.CreateClub(ctx, &a))
	require.NoError(t, cat.CreateClub(ctx, &b))
	require.NoError(t, cat.AppendRoster(ctx, model.KindClub, b.ID, entry(9)))

	clubs, err := cat.ClubsWithStudent(ctx, 9)
	require.NoError(t, err)
	require.Len(t, clubs, 1)
	assert.Equal(t, b.ID, clubs[0].ID)

	events, err := cat.EventsWithStudent(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryCatalog_AppendRefusals(t *testing.T) {
	ctx := context.Background()
	f := gofakeit.New(9)

	tests := []struct {
		name   string
		mutate func(*model.Club)
		want   error
	}{
		{"inactive", func(c *model.Club) { c.IsActive = false }, ErrNotActive},
		{"deadline passed", func(c *model.Club) {
			past := fixedNow.Add(-time.Hour)
			c.RegistrationDeadline = &past
		}, ErrDeadlinePassed},
		{"inactive wins over deadline", func(c *model.Club) {
			past := fixedNow.Add(-time.Hour)
			c.IsActive = false
			c.RegistrationDeadline = &past
		}, ErrNotActive},
		{"zero capacity", func(c *model.Club) { c.Capacity = intPtr(0) }, ErrCapacityFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := newTestCatalog()
			club := fakeClub(f, nil)
			tt.mutate(&club)
			require.NoError(t, cat.CreateClub(ctx, &club))

			err := cat.AppendRoster(ctx, model.KindClub, club.ID, entry(1))
			require.ErrorIs(t, err, tt.want)

			got, err := cat.GetClub(ctx, club.ID.Hex())
			require.NoError(t, err)
			assert.Empty(t, got.Roster)
		})
	}
}

// TestMemoryCatalog_CapacityProperty races random students against random
// capacities and checks the roster never overflows or repeats a student.
func TestMemoryCatalog_CapacityProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		cat := newTestCatalog()

		var capacity *int
		if rapid.Bool().Draw(rt, "limited") {
			capacity = intPtr(rapid.IntRange(0, 6).Draw(rt, "capacity"))
		}
		club := fakeClub(gofakeit.New(10), capacity)
		require.NoError(rt, cat.CreateClub(ctx, &club))

		students := rapid.SliceOfN(rapid.Uint64Range(1, 8), 0, 20).Draw(rt, "students")

		var wg sync.WaitGroup
		for _, sid := range students {
			wg.Add(1)
			go func(sid uint64) {
				defer wg.Done()
				_ = cat.AppendRoster(ctx, model.KindClub, club.ID, entry(sid))
			}(sid)
		}
		wg.Wait()

		got, err := cat.GetClub(ctx, club.ID.Hex())
		require.NoError(rt, err)

		distinct := map[uint64]bool{}
		for _, sid := range students {
			distinct[sid] = true
		}
		want := len(distinct)
		if capacity != nil && *capacity < want {
			want = *capacity
		}
		if len(got.Roster) != want {
			rt.Fatalf("roster length %d, want %d", len(got.Roster), want)
		}

		seen := map[uint64]bool{}
		for _, e := range got.Roster {
			if seen[e.StudentID] {
				rt.Fatalf("student %d registered twice", e.StudentID)
			}
			seen[e.StudentID] = true
		}
	})
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog()
	require.NoError(t, SeedDemo(ctx, cat, fixedNow))

	clubs, err := cat.ListClubs(ctx)
	require.NoError(t, err)
	events, err := cat.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, clubs, 3)
	require.Len(t, events, 3)

	names := []string{}
	for _, c := range clubs {
		names = append(names, c.Name)
		assert.True(t, model.ValidCategory(model.KindClub, c.Category))
		assert.False(t, c.DeadlinePassed(fixedNow))
	}
	assert.ElementsMatch(t, []string{"Computer Science Club", "Drama Society", "Basketball Team"}, names)

	for _, e := range events {
		assert.True(t, model.ValidCategory(model.KindEvent, e.Category), e.Category)
		assert.NotNil(t, e.RegistrationDeadline)
	}

	got, err := cat.GetClub(ctx, "demo-link-1")
	require.NoError(t, err)
	assert.Equal(t, "cs.club@university.edu", got.ContactEmail)
}

func TestCheckEligible_Order(t *testing.T) {
	past := fixedNow.Add(-time.Minute)
	l := model.Listing{
		IsActive:             true,
		Capacity:             intPtr(1),
		RegistrationDeadline: nil,
		Roster:               []model.RosterEntry{entry(1)},
	}
	assert.ErrorIs(t, CheckEligible(&l, 1, fixedNow), ErrAlreadyRegistered)
	assert.ErrorIs(t, CheckEligible(&l, 2, fixedNow), ErrCapacityFull)

	l.RegistrationDeadline = &past
	assert.ErrorIs(t, CheckEligible(&l, 2, fixedNow), ErrDeadlinePassed)

	l.RegistrationDeadline = nil
	l.Capacity = nil
	assert.NoError(t, CheckEligible(&l, 2, fixedNow))
}
