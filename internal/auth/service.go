// Package auth authenticates administrators and students, issues session
// tokens and resolves them back to a Principal on every request.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/club-event-registration/internal/apperr"
	"github.com/iliyamo/club-event-registration/internal/metrics"
	"github.com/iliyamo/club-event-registration/internal/model"
	"github.com/iliyamo/club-event-registration/internal/repository"
	"github.com/iliyamo/club-event-registration/internal/utils"
)

// IdentityStore is the subset of the identity repository the service uses.
type IdentityStore interface {
	AdminByID(ctx context.Context, id uint64) (model.Admin, error)
	AdminByUsername(ctx context.Context, username string) (model.Admin, error)
	AdminByEmail(ctx context.Context, email string) (model.Admin, error)
	CreateAdmin(ctx context.Context, a *model.Admin) error

	StudentByID(ctx context.Context, id uint64) (model.Student, error)
	StudentByLogin(ctx context.Context, identifier string) (model.Student, error)
	StudentByGoogleSub(ctx context.Context, sub string) (model.Student, error)
	CreateStudent(ctx context.Context, s *model.Student) error
	UpdateProfile(ctx context.Context, id uint64, p repository.ProfileUpdate) (model.Student, error)
}

// Options are the service settings taken from configuration.
type Options struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
	// AdminEmail routes a Google login with this address to the
	// administrator that owns it.
	AdminEmail string
}

// Session is an issued token together with the principal it names.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Principal Principal
}

// Service implements the authentication flows.
type Service struct {
	store    IdentityStore
	verifier IDTokenVerifier
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewService creates a Service. verifier may be nil when Google sign-in
// is not configured; logger, m and tracer may be nil.
func NewService(store IdentityStore, verifier IDTokenVerifier, opts Options, logger *slog.Logger, m *metrics.Metrics, tracer trace.Tracer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/iliyamo/club-event-registration/internal/auth")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	opts.AdminEmail = model.NormalizeEmail(opts.AdminEmail)
	return &Service{store: store, verifier: verifier, opts: opts, logger: logger, metrics: m, tracer: tracer}
}

// span starts a span for op; the returned func ends it, recording err.
func (s *Service) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, sp := s.tracer.Start(ctx, "auth."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			sp.RecordError(*errp)
			sp.SetStatus(codes.Error, apperr.KindOf(*errp).String())
		}
		sp.End()
	}
}

func (s *Service) issue(p Principal) (Session, error) {
	tok, err := utils.IssueToken(s.opts.Secret, p.ID(), p.Kind(), s.opts.TokenTTL)
	if err != nil {
		return Session{}, apperr.Internal("issue token", err)
	}
	return Session{Token: tok.Token, ExpiresAt: tok.Exp, Principal: p}, nil
}

func (s *Service) countLogin(kind, method string, err error) {
	switch {
	case err == nil:
		s.metrics.Login(kind, method, metrics.OutcomeSuccess)
	case apperr.KindOf(err) == apperr.KindAuthentication || apperr.KindOf(err) == apperr.KindAuthorization:
		s.metrics.Login(kind, method, metrics.OutcomeRefused)
	default:
		s.metrics.Login(kind, method, metrics.OutcomeError)
	}
}

// AuthenticateAdmin checks an administrator's username and password.
func (s *Service) AuthenticateAdmin(ctx context.Context, username, password string) (sess Session, err error) {
	ctx, end := s.span(ctx, "AuthenticateAdmin")
	defer end(&err)
	defer func() { s.countLogin(KindAdmin, "password", err) }()

	a, err := s.store.AdminByUsername(ctx, username)
	if errors.Is(err, repository.ErrAdminNotFound) {
		utils.BurnPasswordCheck(password)
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if !utils.VerifyPassword(a.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(AdminPrincipal{Admin: a})
}

// AuthenticateStudent checks a local student's username or email and
// password. Google accounts have no password and always fail here.
func (s *Service) AuthenticateStudent(ctx context.Context, identifier, password string) (sess Session, err error) {
	ctx, end := s.span(ctx, "AuthenticateStudent")
	defer end(&err)
	defer func() { s.countLogin(KindStudent, "password", err) }()

	st, err := s.store.StudentByLogin(ctx, identifier)
	if errors.Is(err, repository.ErrStudentNotFound) {
		utils.BurnPasswordCheck(password)
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if st.PasswordHash == nil || !utils.VerifyPassword(*st.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(StudentPrincipal{Student: st})
}

// RegisterInput is a local student signup.
type RegisterInput struct {
	Name     string
	Email    string
	Username string
	Password string
}

func (in RegisterInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return apperr.Validation("name is required")
	case strings.TrimSpace(in.Username) == "":
		return apperr.Validation("username is required")
	case !validEmail(in.Email):
		return apperr.Validation("a valid email is required")
	case len(in.Password) < utils.MinPasswordLength:
		return apperr.Validation("password must be at least 6 characters")
	}
	return nil
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	return err == nil && addr.Address == strings.TrimSpace(s)
}

// RegisterStudent creates a local student account and signs it in.
func (s *Service) RegisterStudent(ctx context.Context, in RegisterInput) (sess Session, err error) {
	ctx, end := s.span(ctx, "RegisterStudent")
	defer end(&err)

	if err := in.validate(); err != nil {
		return Session{}, err
	}
	hash, err := utils.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return Session{}, apperr.Internal("hash password", err)
	}
	st := model.NewLocalStudent(in.Name, in.Email, strings.TrimSpace(in.Username), hash)
	if err := s.store.CreateStudent(ctx, &st); err != nil {
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "student registered", slog.Uint64("student_id", st.ID), slog.String("mode", string(model.AuthModeLocal)))
	return s.issue(StudentPrincipal{Student: st})
}

// AuthenticateThirdParty signs in with a Google ID token whose email is
// verified. The configured admin address signs in as the existing
// administrator with that email; anyone else signs in as the student
// owning the Google subject, which is created on first use. isNew
// reports an incomplete profile.
func (s *Service) AuthenticateThirdParty(ctx context.Context, assertion string) (sess Session, isNew bool, err error) {
	ctx, end := s.span(ctx, "AuthenticateThirdParty")
	defer end(&err)
	kind := KindStudent
	defer func() { s.countLogin(kind, "google", err) }()

	if s.verifier == nil {
		return Session{}, false, ErrIdentityProviderUnavailable
	}
	id, err := s.verifier.Verify(ctx, assertion)
	if err != nil {
		return Session{}, false, err
	}
	// The address selects the admin account and is stored on new students.
	if !id.EmailVerified {
		s.logger.WarnContext(ctx, "google login with unverified email refused")
		return Session{}, false, ErrInvalidAssertion
	}

	email := model.NormalizeEmail(id.Email)
	if s.opts.AdminEmail != "" && email == s.opts.AdminEmail {
		kind = KindAdmin
		a, err := s.store.AdminByEmail(ctx, email)
		if errors.Is(err, repository.ErrAdminNotFound) {
			s.logger.WarnContext(ctx, "google login for admin address without an admin account")
			return Session{}, false, ErrAdminNotProvisioned
		}
		if err != nil {
			return Session{}, false, err
		}
		sess, err := s.issue(AdminPrincipal{Admin: a})
		return sess, false, err
	}

	st, err := s.store.StudentByGoogleSub(ctx, id.Subject)
	if errors.Is(err, repository.ErrStudentNotFound) {
		st = model.NewGoogleStudent(id.Subject, email, id.Name, "")
		err = s.store.CreateStudent(ctx, &st)
		if errors.Is(err, repository.ErrGoogleSubTaken) {
			st, err = s.store.StudentByGoogleSub(ctx, id.Subject)
		} else if err == nil {
			s.logger.InfoContext(ctx, "student registered", slog.Uint64("student_id", st.ID), slog.String("mode", string(model.AuthModeGoogle)))
		}
	}
	if err != nil {
		return Session{}, false, err
	}
	sess, err = s.issue(StudentPrincipal{Student: st})
	return sess, !st.ProfileComplete(), err
}

// ProfileInput completes a student profile.
type ProfileInput struct {
	Name          string
	StudentNumber string
	Phone         string
	Year          string
	Major         string
}

func (in ProfileInput) validate() error {
	switch {
	case strings.TrimSpace(in.StudentNumber) == "":
		return apperr.Validation("student_id is required")
	case !model.Year(in.Year).Valid():
		return apperr.Validation("year must be one of 1st Year, 2nd Year, 3rd Year, 4th Year, Graduate")
	}
	return nil
}

// CompleteProfile stores the profile of the student named by token.
func (s *Service) CompleteProfile(ctx context.Context, token string, in ProfileInput) (st model.Student, err error) {
	ctx, end := s.span(ctx, "CompleteProfile")
	defer end(&err)

	p, err := s.ResolveToken(ctx, token)
	if err != nil {
		return model.Student{}, err
	}
	sp, err := RequireStudent(p)
	if err != nil {
		return model.Student{}, err
	}
	if err := in.validate(); err != nil {
		return model.Student{}, err
	}

	upd := repository.ProfileUpdate{
		StudentNumber: strings.TrimSpace(in.StudentNumber),
		Phone:         strings.TrimSpace(in.Phone),
		Year:          model.Year(in.Year),
		Major:         strings.TrimSpace(in.Major),
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		upd.Name = &name
	}
	return s.store.UpdateProfile(ctx, sp.Student.ID, upd)
}

// TokenSubject verifies raw and returns "<kind>-<id>" without touching
// the identity store. It serves rate limiting ahead of authentication.
func (s *Service) TokenSubject(raw string) (string, bool) {
	claims, err := utils.ParseToken(s.opts.Secret, strings.TrimSpace(raw))
	if err != nil || (claims.Kind != KindAdmin && claims.Kind != KindStudent) {
		return "", false
	}
	return claims.Kind + "-" + strconv.FormatUint(claims.Subject, 10), true
}

// ResolveToken verifies raw and loads the principal it names.
func (s *Service) ResolveToken(ctx context.Context, raw string) (p Principal, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenMissing
	}
	claims, err := utils.ParseToken(s.opts.Secret, raw)
	if errors.Is(err, utils.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, ErrTokenInvalid
	}

	switch claims.Kind {
	case KindAdmin:
		a, err := s.store.AdminByID(ctx, claims.Subject)
		if errors.Is(err, repository.ErrAdminNotFound) {
			return nil, ErrPrincipalNotFound
		}
		if err != nil {
			return nil, err
		}
		return AdminPrincipal{Admin: a}, nil
	case KindStudent:
		st, err := s.store.StudentByID(ctx, claims.Subject)
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, ErrPrincipalNotFound
		}
		if err != nil {
			return nil, err
		}
		return StudentPrincipal{Student: st}, nil
	default:
		return nil, ErrTokenInvalid
	}
}

// BootstrapInput describes the administrator created out of band.
type BootstrapInput struct {
	Username string
	Email    string
	Name     string
	Password string
}

// BootstrapAdmin creates an administrator unless one already holds the
// username or email, in which case that one is returned with
// created=false.
func (s *Service) BootstrapAdmin(ctx context.Context, in BootstrapInput) (a model.Admin, created bool, err error) {
	ctx, end := s.span(ctx, "BootstrapAdmin")
	defer end(&err)

	in.Username = strings.TrimSpace(in.Username)
	switch {
	case in.Username == "":
		return model.Admin{}, false, apperr.Validation("username is required")
	case !validEmail(in.Email):
		return model.Admin{}, false, apperr.Validation("a valid email is required")
	case len(in.Password) < utils.MinPasswordLength:
		return model.Admin{}, false, apperr.Validation("password must be at least 6 characters")
	}

	existing, err := s.existingAdmin(ctx, in.Username, in.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrAdminNotFound) {
		return model.Admin{}, false, err
	}

	hash, err := utils.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return model.Admin{}, false, apperr.Internal("hash password", err)
	}
	a = model.Admin{Username: in.Username, Email: in.Email, Name: strings.TrimSpace(in.Name), PasswordHash: hash}
	err = s.store.CreateAdmin(ctx, &a)
	if errors.Is(err, repository.ErrUsernameTaken) || errors.Is(err, repository.ErrEmailTaken) {
		existing, err := s.existingAdmin(ctx, in.Username, in.Email)
		return existing, false, err
	}
	if err != nil {
		return model.Admin{}, false, err
	}
	s.logger.InfoContext(ctx, "admin bootstrapped", slog.Uint64("admin_id", a.ID), slog.String("username", a.Username))
	return a, true, nil
}

func (s *Service) existingAdmin(ctx context.Context, username, email string) (model.Admin, error) {
	a, err := s.store.AdminByUsername(ctx, username)
	if !errors.Is(err, repository.ErrAdminNotFound) {
		return a, err
	}
	return s.store.AdminByEmail(ctx, email)
}
