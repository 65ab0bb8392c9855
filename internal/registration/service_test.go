package registration

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/iliyamo/club-event-registration/internal/apperr"
	"github.com/iliyamo/club-event-registration/internal/auth"
	"github.com/iliyamo/club-event-registration/internal/model"
	"github.com/iliyamo/club-event-registration/internal/queue"
	"github.com/iliyamo/club-event-registration/internal/repository"
	"github.com/iliyamo/club-event-registration/internal/repository/repotest"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// FakePublisher records published events.
type FakePublisher struct {
	PublishFunc func(ctx context.Context, ev queue.RegistrationCreatedEvent) error
}

func (f *FakePublisher) PublishRegistrationCreated(ctx context.Context, ev queue.RegistrationCreatedEvent) error {
	if f.PublishFunc != nil {
		return f.PublishFunc(ctx, ev)
	}
	return nil
}

type fixture struct {
	svc      *Service
	catalog  *repository.MemoryCatalog
	identity *repotest.Identity
	faker    *gofakeit.Faker
	seq      int
}

func newFixture(t *testing.T, pub Publisher) *fixture {
	t.Helper()
	cat := repository.NewMemoryCatalog()
	cat.SetClock(func() time.Time { return fixedNow })
	ids := repotest.NewIdentity()
	svc := NewService(cat, ids, pub, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, noop.NewTracerProvider().Tracer("test"))
	svc.SetClock(func() time.Time { return fixedNow })
	return &fixture{svc: svc, catalog: cat, identity: ids, faker: gofakeit.New(7)}
}

func (f *fixture) student(t *testing.T) auth.StudentPrincipal {
	t.Helper()
	f.seq++
	st := model.NewLocalStudent(f.faker.Name(), fmt.Sprintf("student%d@university.edu", f.seq), fmt.Sprintf("student%d", f.seq), "hash")
	num := fmt.Sprintf("S-%06d", f.seq)
	st.StudentNumber = &num
	st.Year = model.YearSecond
	st.Major = "Computer Science"
	require.NoError(t, f.identity.CreateStudent(context.Background(), &st))
	return auth.StudentPrincipal{Student: st}
}

func (f *fixture) club(t *testing.T, mutate func(*model.Club)) model.Club {
	t.Helper()
	deadline := fixedNow.Add(48 * time.Hour)
	c := model.Club{Listing: model.Listing{
		Name:                 f.faker.Company() + " Club",
		Category:             "Technical",
		IsActive:             true,
		RegistrationDeadline: &deadline,
		ContactEmail:         f.faker.Email(),
	}}
	if mutate != nil {
		mutate(&c)
	}
	require.NoError(t, f.catalog.CreateClub(context.Background(), &c))
	return c
}

func capacity(n int) func(*model.Club) {
	return func(c *model.Club) { c.Capacity = &n }
}

func TestRegister_CapacityOneScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	club := f.club(t, capacity(1))
	a, b := f.student(t), f.student(t)

	got, err := f.svc.Register(ctx, a, model.KindClub, club.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.RosterEntry{StudentID: a.Student.ID, RegistrationDate: fixedNow, Status: model.RosterPending}, got)

	stored, err := f.catalog.GetClub(ctx, club.ID.Hex())
	require.NoError(t, err)
	assert.Len(t, stored.Roster, 1)

	_, err = f.svc.Register(ctx, b, model.KindClub, club.ID.Hex())
	require.ErrorIs(t, err, ErrCapacityFull)

	_, err = f.svc.Register(ctx, a, model.KindClub, club.ID.Hex())
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, 409, apperr.KindOf(err).Status())
}

func TestRegister_Refusals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	past := fixedNow.Add(-time.Minute)

	tests := []struct {
		name   string
		mutate func(*model.Club)
		want   error
	}{
		{"inactive", func(c *model.Club) { c.IsActive = false }, ErrNotActive},
		{"deadline passed with spots left", func(c *model.Club) { c.RegistrationDeadline = &past; n := 10; c.Capacity = &n }, ErrDeadlinePassed},
		{"inactive wins over deadline", func(c *model.Club) { c.IsActive = false; c.RegistrationDeadline = &past }, ErrNotActive},
		{"zero capacity", capacity(0), ErrCapacityFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			club := f.club(t, tt.mutate)
			_, err := f.svc.Register(ctx, f.student(t), model.KindClub, club.ID.Hex())
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("unknown listing", func(t *testing.T) {
		_, err := f.svc.Register(ctx, f.student(t), model.KindClub, "no-such-link")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("club id is not an event", func(t *testing.T) {
		club := f.club(t, nil)
		_, err := f.svc.Register(ctx, f.student(t), model.KindEvent, club.ID.Hex())
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegister_ByLinkAndNoDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	club := f.club(t, func(c *model.Club) { c.RegistrationDeadline = nil })

	_, err := f.svc.Register(ctx, f.student(t), model.KindClub, club.RegistrationLink)
	require.NoError(t, err)

	stored, err := f.catalog.GetClub(ctx, club.ID.Hex())
	require.NoError(t, err)
	assert.Len(t, stored.Roster, 1)
}

func TestRegister_ConcurrentLastSpots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	const spots, racers = 3, 40
	club := f.club(t, capacity(spots))

	students := make([]auth.StudentPrincipal, racers)
	for i := range students {
		students[i] = f.student(t)
	}

	var ok, full atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, st := range students {
		wg.Add(1)
		go func(st auth.StudentPrincipal) {
			defer wg.Done()
			<-start
			_, err := f.svc.Register(ctx, st, model.KindClub, club.ID.Hex())
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrCapacityFull):
				full.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(st)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, spots, ok.Load())
	assert.EqualValues(t, racers-spots, full.Load())

	stored, err := f.catalog.GetClub(ctx, club.ID.Hex())
	require.NoError(t, err)
	seen := map[uint64]bool{}
	for _, e := range stored.Roster {
		assert.False(t, seen[e.StudentID], "student %d registered twice", e.StudentID)
		seen[e.StudentID] = true
	}
	assert.Len(t, stored.Roster, spots)
}

func TestRegister_SameStudentRacingItself(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	club := f.club(t, nil)
	st := f.student(t)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Register(ctx, st, model.KindClub, club.ID.Hex()); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok.Load())
}

func TestRegister_PublishesEvent(t *testing.T) {
	published := make(chan queue.RegistrationCreatedEvent, 1)
	pub := &FakePublisher{PublishFunc: func(_ context.Context, ev queue.RegistrationCreatedEvent) error {
		published <- ev
		return nil
	}}
	f := newFixture(t, pub)
	club := f.club(t, nil)
	st := f.student(t)

	_, err := f.svc.Register(context.Background(), st, model.KindClub, club.ID.Hex())
	require.NoError(t, err)

	select {
	case ev := <-published:
		want := queue.RegistrationCreatedEvent{
			Kind:          "club",
			ListingID:     club.ID.Hex(),
			ListingName:   club.Name,
			StudentID:     st.Student.ID,
			StudentEmail:  st.Student.Email,
			StudentNumber: *st.Student.StudentNumber,
			Status:        "pending",
			RegisteredAt:  "2026-03-01T12:00:00Z",
		}
		if diff := cmp.Diff(want, ev); diff != "" {
			t.Fatalf("event mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("registration.created was not published")
	}
}

func TestRegister_PublishFailureDoesNotFail(t *testing.T) {
	done := make(chan struct{})
	pub := &FakePublisher{PublishFunc: func(context.Context, queue.RegistrationCreatedEvent) error {
		defer close(done)
		return errors.New("broker down")
	}}
	f := newFixture(t, pub)
	club := f.club(t, nil)

	_, err := f.svc.Register(context.Background(), f.student(t), model.KindClub, club.ID.Hex())
	require.NoError(t, err)
	<-done
}

func TestMyRegistrations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	host := f.club(t, nil)
	other := f.club(t, nil)
	st := f.student(t)

	deadline := fixedNow.Add(time.Hour)
	ev := model.Event{
		Listing:  model.Listing{Name: "Hack Night", Category: "Workshop", IsActive: true, RegistrationDeadline: &deadline},
		Date:     fixedNow.Add(72 * time.Hour),
		Time:     "18:00",
		Location: "Lab 3",
		ClubID:   &host.ID,
	}
	require.NoError(t, f.catalog.CreateEvent(ctx, &ev))

	_, err := f.svc.Register(ctx, st, model.KindClub, host.ID.Hex())
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, st, model.KindEvent, ev.RegistrationLink)
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, f.student(t), model.KindClub, other.ID.Hex())
	require.NoError(t, err)

	got, err := f.svc.MyRegistrations(ctx, st)
	require.NoError(t, err)
	require.Len(t, got.Clubs, 1)
	require.Len(t, got.Events, 1)
	assert.Equal(t, host.ID, got.Clubs[0].ID)
	assert.Equal(t, model.RosterPending, got.Clubs[0].Status)
	assert.Equal(t, fixedNow, got.Clubs[0].RegistrationDate)
	assert.Equal(t, "Lab 3", got.Events[0].Location)
	assert.Equal(t, &host.ID, got.Events[0].ClubID)

	empty, err := f.svc.MyRegistrations(ctx, f.student(t))
	require.NoError(t, err)
	assert.NotNil(t, empty.Clubs)
	assert.Empty(t, empty.Events)
}

func TestRoster_MissingStudentKeepsRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	club := f.club(t, nil)
	st := f.student(t)
	_, err := f.svc.Register(ctx, st, model.KindClub, club.ID.Hex())
	require.NoError(t, err)

	ghost := model.RosterEntry{StudentID: 9999, RegistrationDate: fixedNow, Status: model.RosterPending}
	require.NoError(t, f.catalog.AppendRoster(ctx, model.KindClub, club.ID, ghost))

	r, err := f.svc.Roster(ctx, model.KindClub, club.ID.Hex())
	require.NoError(t, err)
	require.Len(t, r.Entries, 2)
	assert.Equal(t, st.Student.Email, r.Entries[0].Email)
	assert.Equal(t, model.YearSecond, r.Entries[0].Year)
	assert.Equal(t, RosterRow{StudentID: 9999, RegistrationDate: fixedNow, Status: model.RosterPending}, r.Entries[1])
}

func TestRoster_StoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	club := f.club(t, nil)
	_, err := f.svc.Register(ctx, f.student(t), model.KindClub, club.ID.Hex())
	require.NoError(t, err)

	f.identity.StudentsByIDsFunc = func(context.Context, []uint64) (map[uint64]model.Student, error) {
		return nil, apperr.Unavailable("storage unavailable", errors.New("connection refused"))
	}
	_, err = f.svc.Roster(ctx, model.KindClub, club.ID.Hex())
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func registeredClub(t *testing.T, f *fixture, n int) (model.Club, []auth.StudentPrincipal) {
	t.Helper()
	club := f.club(t, nil)
	students := make([]auth.StudentPrincipal, n)
	for i := range students {
		students[i] = f.student(t)
		_, err := f.svc.Register(context.Background(), students[i], model.KindClub, club.ID.Hex())
		require.NoError(t, err)
	}
	return club, students
}

func TestExportRoster_CSV(t *testing.T) {
	f := newFixture(t, nil)
	club, students := registeredClub(t, f, 2)

	out, err := f.svc.ExportRoster(context.Background(), model.KindClub, club.ID.Hex(), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", out.ContentType)
	assert.Equal(t, "club-"+club.ID.Hex()+"-registrations.csv", out.Filename)

	rows, err := csv.NewReader(bytes.NewReader(out.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ExportHeader, rows[0])
	s := students[0].Student
	assert.Equal(t, []string{s.Name, s.Email, *s.StudentNumber, "2nd Year", "Computer Science", "", "2026-03-01T12:00:00Z", "pending"}, rows[1])
	assert.Equal(t, students[1].Student.Email, rows[2][1])
}

func TestExportRoster_XLSX(t *testing.T) {
	f := newFixture(t, nil)
	club, students := registeredClub(t, f, 3)

	out, err := f.svc.ExportRoster(context.Background(), model.KindClub, club.RegistrationLink, FormatXLSX)
	require.NoError(t, err)

	x, err := excelize.OpenReader(bytes.NewReader(out.Body))
	require.NoError(t, err)
	defer x.Close()
	require.Equal(t, []string{"Registrations"}, x.GetSheetList())
	rows, err := x.GetRows("Registrations")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, ExportHeader, rows[0])
	for i, st := range students {
		assert.Equal(t, st.Student.Email, rows[i+1][1])
	}
}

func TestExportRoster_NeutralisesFormulas(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	club := f.club(t, nil)

	st := model.NewLocalStudent(`=HYPERLINK("http://evil.example","x")`, "mallory@university.edu", "mallory", "hash")
	num := "@SUM(A1)"
	st.StudentNumber = &num
	st.Year = model.YearFirst
	st.Major = "+1+1"
	st.Phone = "-2"
	require.NoError(t, f.identity.CreateStudent(ctx, &st))
	_, err := f.svc.Register(ctx, auth.StudentPrincipal{Student: st}, model.KindClub, club.ID.Hex())
	require.NoError(t, err)

	want := []string{`'=HYPERLINK("http://evil.example","x")`, "mallory@university.edu", "'@SUM(A1)", "1st Year", "'+1+1", "'-2"}

	out, err := f.svc.ExportRoster(ctx, model.KindClub, club.ID.Hex(), FormatCSV)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(out.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, want, rows[1][:6])

	out, err = f.svc.ExportRoster(ctx, model.KindClub, club.ID.Hex(), FormatXLSX)
	require.NoError(t, err)
	x, err := excelize.OpenReader(bytes.NewReader(out.Body))
	require.NoError(t, err)
	defer x.Close()
	xrows, err := x.GetRows("Registrations")
	require.NoError(t, err)
	require.Len(t, xrows, 2)
	assert.Equal(t, want, xrows[1][:6])
}

func TestSafeCell(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"Ada Lovelace": "Ada Lovelace",
		"=1+1":         "'=1+1",
		"+44 20 7946":  "'+44 20 7946",
		"-5":           "'-5",
		"@cmd":         "'@cmd",
		"\tx":          "'\tx",
		"a=b":          "a=b",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeCell(in), in)
	}
}

func TestExportRoster_EmptyRosterHasHeader(t *testing.T) {
	f := newFixture(t, nil)
	club := f.club(t, nil)

	out, err := f.svc.ExportRoster(context.Background(), model.KindClub, club.ID.Hex(), FormatCSV)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(out.Body)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{ExportHeader}, rows)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": FormatCSV, "CSV": FormatCSV, "xlsx": FormatXLSX, "excel": FormatXLSX} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
