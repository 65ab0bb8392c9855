package auth

import "github.com/iliyamo/club-event-registration/internal/model"

// Principal kinds as carried in the kind claim of a session token.
const (
	KindAdmin   = "admin"
	KindStudent = "student"
)

// Principal is an authenticated actor. It is a closed sum: the only
// implementations are AdminPrincipal and StudentPrincipal, and every
// authorization decision switches over both.
type Principal interface {
	principal()
	ID() uint64
	Kind() string
}

// AdminPrincipal is an authenticated administrator.
type AdminPrincipal struct{ Admin model.Admin }

// StudentPrincipal is an authenticated student.
type StudentPrincipal struct{ Student model.Student }

func (AdminPrincipal) principal()     {}
func (p AdminPrincipal) ID() uint64   { return p.Admin.ID }
func (AdminPrincipal) Kind() string   { return KindAdmin }
func (StudentPrincipal) principal()   {}
func (p StudentPrincipal) ID() uint64 { return p.Student.ID }
func (StudentPrincipal) Kind() string { return KindStudent }

// RequireAdmin returns p as an AdminPrincipal or ErrForbidden.
func RequireAdmin(p Principal) (AdminPrincipal, error) {
	switch v := p.(type) {
	case AdminPrincipal:
		return v, nil
	case StudentPrincipal:
		return AdminPrincipal{}, ErrForbidden
	default:
		return AdminPrincipal{}, ErrForbidden
	}
}

// RequireStudent returns p as a StudentPrincipal or ErrForbidden.
func RequireStudent(p Principal) (StudentPrincipal, error) {
	switch v := p.(type) {
	case StudentPrincipal:
		return v, nil
	case AdminPrincipal:
		return StudentPrincipal{}, ErrForbidden
	default:
		return StudentPrincipal{}, ErrForbidden
	}
}

// View is the JSON shape of a principal returned by the API.
type View struct {
	Kind            string         `json:"kind"`
	Admin           *model.Admin   `json:"admin,omitempty"`
	Student         *model.Student `json:"student,omitempty"`
	ProfileComplete *bool          `json:"profile_complete,omitempty"`
}

// Describe renders p for API responses.
func Describe(p Principal) View {
	switch v := p.(type) {
	case AdminPrincipal:
		a := v.Admin
		return View{Kind: KindAdmin, Admin: &a}
	case StudentPrincipal:
		s := v.Student
		complete := s.ProfileComplete()
		return View{Kind: KindStudent, Student: &s, ProfileComplete: &complete}
	default:
		return View{}
	}
}
