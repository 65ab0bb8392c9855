package model

import (
	"strings"
	"time"
)

// Year is the academic year a student reports on their profile.
type Year string

const (
	YearFirst    Year = "1st Year"
	YearSecond   Year = "2nd Year"
	YearThird    Year = "3rd Year"
	YearFourth   Year = "4th Year"
	YearGraduate Year = "Graduate"
)

// Years lists the accepted Year values in display order.
var Years = []Year{YearFirst, YearSecond, YearThird, YearFourth, YearGraduate}

// Valid reports whether y is one of the known years.
func (y Year) Valid() bool {
	for _, v := range Years {
		if v == y {
			return true
		}
	}
	return false
}

// AuthMode identifies how a student proves their identity.
type AuthMode string

const (
	AuthModeLocal  AuthMode = "local"
	AuthModeGoogle AuthMode = "google"
)

// Student represents a student record as stored in the `students`
// table. A student authenticates in exactly one way: either with a
// local username and password hash, or with a Google subject id. The
// constructors below are the only way the service builds new records,
// and the table carries a CHECK constraint enforcing the same rule.
//
// Fields:
//
//	ID            – primary key identifier.
//	Email         – unique email address.
//	Name          – display name.
//	Username      – unique login name (local mode only).
//	PasswordHash  – bcrypt hash (local mode only).
//	GoogleSub     – Google subject id (google mode only).
//	Picture       – avatar URL supplied by Google.
//	StudentNumber – institution issued student id, unique when set.
//	Phone, Year, Major – profile attributes filled in after signup.
type Student struct {
	ID            uint64    `json:"id"`                        // students.id
	Email         string    `json:"email"`                     // students.email
	Name          string    `json:"name"`                      // students.name
	Username      *string   `json:"username,omitempty"`        // students.username (nullable)
	PasswordHash  *string   `json:"-"`                         // students.password_hash (nullable)
	GoogleSub     *string   `json:"-"`                         // students.google_sub (nullable)
	Picture       string    `json:"picture,omitempty"`         // students.picture
	StudentNumber *string   `json:"student_number,omitempty"`  // students.student_number (nullable)
	Phone         string    `json:"phone"`                     // students.phone
	Year          Year      `json:"year"`                      // students.year
	Major         string    `json:"major"`                     // students.major
	CreatedAt     time.Time `json:"created_at"`                // students.created_at
	UpdatedAt     time.Time `json:"updated_at"`                // students.updated_at
}

// NewLocalStudent builds a student that signs in with a username and
// password.
func NewLocalStudent(name, email, username, passwordHash string) Student {
	return Student{
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		Username:     &username,
		PasswordHash: &passwordHash,
	}
}

// NewGoogleStudent builds a student identified by a Google subject id.
// Profile fields stay empty until CompleteProfile.
func NewGoogleStudent(sub, email, name, picture string) Student {
	return Student{
		Name:      strings.TrimSpace(name),
		Email:     NormalizeEmail(email),
		GoogleSub: &sub,
		Picture:   picture,
	}
}

// AuthMode reports which credential the record carries.
func (s Student) AuthMode() AuthMode {
	if s.GoogleSub != nil {
		return AuthModeGoogle
	}
	return AuthModeLocal
}

// ProfileComplete is true once a student number has been recorded.
func (s Student) ProfileComplete() bool {
	return s.StudentNumber != nil && *s.StudentNumber != ""
}

// StudentNumberOrEmpty dereferences StudentNumber for export and display.
func (s Student) StudentNumberOrEmpty() string {
	if s.StudentNumber == nil {
		return ""
	}
	return *s.StudentNumber
}

// NormalizeEmail lower-cases and trims an address so that uniqueness
// checks do not depend on how the user typed it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
