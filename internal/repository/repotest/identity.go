// Package repotest provides an in-memory identity store for tests of the
// packages built on top of the repository layer.
package repotest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/club-event-registration/internal/model"
	"github.com/iliyamo/club-event-registration/internal/repository"
)

// Identity mimics repository.IdentityRepo, including its unique keys and
// sentinel errors. The optional Func fields override individual methods.
type Identity struct {
	mu       sync.Mutex
	admins   map[uint64]model.Admin
	students map[uint64]model.Student
	nextID   uint64

	StudentByGoogleSubFunc func(ctx context.Context, sub string) (model.Student, error)
	CreateStudentFunc      func(ctx context.Context, s *model.Student) error
	StudentsByIDsFunc      func(ctx context.Context, ids []uint64) (map[uint64]model.Student, error)
}

func NewIdentity() *Identity {
	return &Identity{admins: map[uint64]model.Admin{}, students: map[uint64]model.Student{}}
}

func (f *Identity) id() uint64 {
	f.nextID++
	return f.nextID
}

func (f *Identity) CreateAdmin(_ context.Context, a *model.Admin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.Email = model.NormalizeEmail(a.Email)
	for _, x := range f.admins {
		switch {
		case x.Username == a.Username:
			return repository.ErrUsernameTaken
		case x.Email == a.Email:
			return repository.ErrEmailTaken
		}
	}
	a.ID = f.id()
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	f.admins[a.ID] = *a
	return nil
}

func (f *Identity) AdminByID(_ context.Context, id uint64) (model.Admin, error) {
	return f.findAdmin(func(a model.Admin) bool { return a.ID == id })
}

func (f *Identity) AdminByUsername(_ context.Context, username string) (model.Admin, error) {
	return f.findAdmin(func(a model.Admin) bool { return a.Username == strings.TrimSpace(username) })
}

func (f *Identity) AdminByEmail(_ context.Context, email string) (model.Admin, error) {
	return f.findAdmin(func(a model.Admin) bool { return a.Email == model.NormalizeEmail(email) })
}

func (f *Identity) findAdmin(match func(model.Admin) bool) (model.Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.admins {
		if match(a) {
			return a, nil
		}
	}
	return model.Admin{}, repository.ErrAdminNotFound
}

func (f *Identity) CreateStudent(ctx context.Context, s *model.Student) error {
	if f.CreateStudentFunc != nil {
		return f.CreateStudentFunc(ctx, s)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s.Email = model.NormalizeEmail(s.Email)
	for _, x := range f.students {
		switch {
		case x.Email == s.Email:
			return repository.ErrEmailTaken
		case eq(x.Username, s.Username):
			return repository.ErrUsernameTaken
		case eq(x.GoogleSub, s.GoogleSub):
			return repository.ErrGoogleSubTaken
		case eq(x.StudentNumber, s.StudentNumber):
			return repository.ErrStudentNumberTaken
		}
	}
	s.ID = f.id()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	f.students[s.ID] = *s
	return nil
}

// eq compares two nullable unique keys; NULLs never collide.
func eq(a, b *string) bool {
	return a != nil && b != nil && *a != "" && *a == *b
}

func (f *Identity) StudentByID(_ context.Context, id uint64) (model.Student, error) {
	return f.findStudent(func(s model.Student) bool { return s.ID == id })
}

func (f *Identity) StudentByGoogleSub(ctx context.Context, sub string) (model.Student, error) {
	if f.StudentByGoogleSubFunc != nil {
		return f.StudentByGoogleSubFunc(ctx, sub)
	}
	return f.findStudent(func(s model.Student) bool { return s.GoogleSub != nil && *s.GoogleSub == sub })
}

func (f *Identity) StudentByLogin(_ context.Context, identifier string) (model.Student, error) {
	identifier = strings.TrimSpace(identifier)
	return f.findStudent(func(s model.Student) bool {
		return (s.Username != nil && *s.Username == identifier) || s.Email == model.NormalizeEmail(identifier)
	})
}

func (f *Identity) findStudent(match func(model.Student) bool) (model.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if match(s) {
			return s, nil
		}
	}
	return model.Student{}, repository.ErrStudentNotFound
}

func (f *Identity) StudentsByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Student, error) {
	if f.StudentsByIDsFunc != nil {
		return f.StudentsByIDsFunc(ctx, ids)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[uint64]model.Student{}
	for _, id := range ids {
		if s, ok := f.students[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *Identity) UpdateProfile(_ context.Context, id uint64, p repository.ProfileUpdate) (model.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.students[id]
	if !ok {
		return model.Student{}, repository.ErrStudentNotFound
	}
	for _, x := range f.students {
		if x.ID != id && eq(x.StudentNumber, &p.StudentNumber) {
			return model.Student{}, repository.ErrStudentNumberTaken
		}
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	num := p.StudentNumber
	s.StudentNumber = &num
	s.Phone = p.Phone
	s.Year = p.Year
	s.Major = p.Major
	s.UpdatedAt = time.Now().UTC()
	f.students[id] = s
	return s, nil
}

// Ping always succeeds.
func (f *Identity) Ping(context.Context) error { return nil }
