package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/club-event-registration/internal/model"
)

// IdentityRepo is the MySQL identity store holding the `admins` and
// `students` tables. Uniqueness of usernames, emails, Google subjects
// and student numbers is enforced by unique keys; violations surface as
// the Err*Taken sentinels.
type IdentityRepo struct {
	db *sql.DB
}

// NewIdentityRepo constructs an IdentityRepo with the provided DB handle.
func NewIdentityRepo(db *sql.DB) *IdentityRepo { return &IdentityRepo{db: db} }

// Ping verifies the identity store is reachable.
func (r *IdentityRepo) Ping(ctx context.Context) error {
	return storeErr("ping identity store", r.db.PingContext(ctx))
}

const adminColumns = "id, username, email, password_hash, name, created_at, updated_at"

func scanAdmin(row interface{ Scan(...any) error }) (model.Admin, error) {
	var a model.Admin
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// CreateAdmin inserts a and populates its ID and timestamps.
func (r *IdentityRepo) CreateAdmin(ctx context.Context, a *model.Admin) error {
	a.Email = model.NormalizeEmail(a.Email)
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO admins (username, email, password_hash, name) VALUES (?, ?, ?, ?)",
		a.Username, a.Email, a.PasswordHash, a.Name)
	if err != nil {
		return duplicateErr(err, "create admin")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("create admin", err)
	}
	created, err := r.AdminByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*a = created
	return nil
}

func (r *IdentityRepo) AdminByID(ctx context.Context, id uint64) (model.Admin, error) {
	return r.admin(ctx, "id = ?", id)
}

func (r *IdentityRepo) AdminByUsername(ctx context.Context, username string) (model.Admin, error) {
	return r.admin(ctx, "username = ?", strings.TrimSpace(username))
}

func (r *IdentityRepo) AdminByEmail(ctx context.Context, email string) (model.Admin, error) {
	return r.admin(ctx, "email = ?", model.NormalizeEmail(email))
}

func (r *IdentityRepo) admin(ctx context.Context, where string, arg any) (model.Admin, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+adminColumns+" FROM admins WHERE "+where+" LIMIT 1", arg)
	a, err := scanAdmin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Admin{}, ErrAdminNotFound
	}
	if err != nil {
		return model.Admin{}, storeErr("get admin", err)
	}
	return a, nil
}

const studentColumns = "id, email, name, username, password_hash, google_sub, picture, student_number, phone, year, major, created_at, updated_at"

func scanStudent(row interface{ Scan(...any) error }) (model.Student, error) {
	var (
		s                                     model.Student
		username, hash, googleSub, studentNum sql.NullString
		year                                  string
	)
	err := row.Scan(&s.ID, &s.Email, &s.Name, &username, &hash, &googleSub, &s.Picture,
		&studentNum, &s.Phone, &year, &s.Major, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Student{}, err
	}
	s.Username = nullable(username)
	s.PasswordHash = nullable(hash)
	s.GoogleSub = nullable(googleSub)
	s.StudentNumber = nullable(studentNum)
	s.Year = model.Year(year)
	return s, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// CreateStudent inserts s and populates its ID and timestamps.
func (r *IdentityRepo) CreateStudent(ctx context.Context, s *model.Student) error {
	s.Email = model.NormalizeEmail(s.Email)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO students (email, name, username, password_hash, google_sub, picture, student_number, phone, year, major)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Email, s.Name, nullString(s.Username), nullString(s.PasswordHash), nullString(s.GoogleSub),
		s.Picture, nullString(s.StudentNumber), s.Phone, string(s.Year), s.Major)
	if err != nil {
		return duplicateErr(err, "create student")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("create student", err)
	}
	created, err := r.StudentByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*s = created
	return nil
}

func (r *IdentityRepo) StudentByID(ctx context.Context, id uint64) (model.Student, error) {
	return r.student(ctx, "id = ?", id)
}

func (r *IdentityRepo) StudentByGoogleSub(ctx context.Context, sub string) (model.Student, error) {
	return r.student(ctx, "google_sub = ?", sub)
}

// StudentByLogin finds a local student by username or email.
func (r *IdentityRepo) StudentByLogin(ctx context.Context, identifier string) (model.Student, error) {
	identifier = strings.TrimSpace(identifier)
	row := r.db.QueryRowContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE username = ? OR email = ? LIMIT 1",
		identifier, model.NormalizeEmail(identifier))
	s, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Student{}, ErrStudentNotFound
	}
	if err != nil {
		return model.Student{}, storeErr("get student", err)
	}
	return s, nil
}

func (r *IdentityRepo) student(ctx context.Context, where string, arg any) (model.Student, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+studentColumns+" FROM students WHERE "+where+" LIMIT 1", arg)
	s, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Student{}, ErrStudentNotFound
	}
	if err != nil {
		return model.Student{}, storeErr("get student", err)
	}
	return s, nil
}

// StudentsByIDs loads the students with the given ids. Unknown ids are
// simply absent from the result.
func (r *IdentityRepo) StudentsByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Student, error) {
	out := make(map[uint64]model.Student, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, storeErr("list students", err)
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, storeErr("scan student", err)
		}
		out[s.ID] = s
	}
	return out, storeErr("list students", rows.Err())
}

// ProfileUpdate carries the fields a student sets when completing their
// profile. A nil Name keeps the current one.
type ProfileUpdate struct {
	Name          *string
	StudentNumber string
	Phone         string
	Year          model.Year
	Major         string
}

// UpdateProfile writes p to the student with id and returns the stored
// row. The update and the read back share one transaction.
func (r *IdentityRepo) UpdateProfile(ctx context.Context, id uint64, p ProfileUpdate) (model.Student, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Student{}, storeErr("begin profile update", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`UPDATE students
		    SET name = COALESCE(?, name), student_number = ?, phone = ?, year = ?, major = ?
		  WHERE id = ?`,
		nullString(p.Name), nullString(&p.StudentNumber), p.Phone, string(p.Year), p.Major, id)
	if err != nil {
		return model.Student{}, duplicateErr(err, "update profile")
	}
	// RowsAffected is 0 for an unchanged row too; the read back decides
	// existence.
	row := tx.QueryRowContext(ctx, "SELECT "+studentColumns+" FROM students WHERE id = ?", id)
	s, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Student{}, ErrStudentNotFound
	}
	if err != nil {
		return model.Student{}, storeErr("reload student", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Student{}, storeErr("commit profile update", err)
	}
	committed = true
	return s, nil
}

// duplicateErr maps a MySQL duplicate-key error to the sentinel of the
// violated unique key.
func duplicateErr(err error, op string) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != 1062 {
		return storeErr(op, err)
	}
	msg := me.Message
	switch {
	case strings.Contains(msg, "username"):
		return ErrUsernameTaken
	case strings.Contains(msg, "email"):
		return ErrEmailTaken
	case strings.Contains(msg, "google_sub"):
		return ErrGoogleSubTaken
	case strings.Contains(msg, "student_number"):
		return ErrStudentNumberTaken
	}
	return storeErr(op, err)
}
