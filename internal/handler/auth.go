package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-event-registration/internal/auth"
	"github.com/iliyamo/club-event-registration/internal/middleware"
	"github.com/iliyamo/club-event-registration/internal/model"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	if svc == nil {
		panic("nil auth service passed to NewAuthHandler")
	}
	return &AuthHandler{Auth: svc}
}

// ----- DTOs -----

type adminLoginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type studentRegisterReq struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,min=6"`
}

type studentLoginReq struct {
	// Identifier is a username or an email address.
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type googleLoginReq struct {
	Token string `json:"token" validate:"required"`
}

type profileReq struct {
	// Token may carry the session token when the client has not stored
	// it yet; the Authorization header is used otherwise.
	Token         string `json:"token"`
	Name          string `json:"name" validate:"max=100"`
	StudentNumber string `json:"student_id" validate:"required,max=50"`
	Phone         string `json:"phone" validate:"max=30"`
	Year          string `json:"year" validate:"required"`
	Major         string `json:"major" validate:"max=100"`
}

type sessionResp struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      auth.View `json:"user"`
	IsNewUser *bool     `json:"is_new_user,omitempty"`
}

func sessionOf(s auth.Session) sessionResp {
	return sessionResp{Token: s.Token, ExpiresAt: s.ExpiresAt, User: auth.Describe(s.Principal)}
}

// AdminLogin handles POST /api/auth/admin/login.
func (h *AuthHandler) AdminLogin(c echo.Context) error {
	var req adminLoginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	sess, err := h.Auth.AuthenticateAdmin(ctx, req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionOf(sess))
}

// StudentRegister handles POST /api/auth/student/register (local mode).
func (h *AuthHandler) StudentRegister(c echo.Context) error {
	var req studentRegisterReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	sess, err := h.Auth.RegisterStudent(ctx, auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sessionOf(sess))
}

// StudentLogin handles POST /api/auth/student/login (local mode).
func (h *AuthHandler) StudentLogin(c echo.Context) error {
	var req studentLoginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	sess, err := h.Auth.AuthenticateStudent(ctx, req.Identifier, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionOf(sess))
}

// StudentGoogle handles POST /api/auth/student/google. The configured
// admin address signs in as that administrator instead.
func (h *AuthHandler) StudentGoogle(c echo.Context) error {
	var req googleLoginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	sess, isNew, err := h.Auth.AuthenticateThirdParty(ctx, req.Token)
	if err != nil {
		return err
	}
	resp := sessionOf(sess)
	resp.IsNewUser = &isNew
	return c.JSON(http.StatusOK, resp)
}

// CompleteProfile handles POST /api/auth/student/profile.
func (h *AuthHandler) CompleteProfile(c echo.Context) error {
	var req profileReq
	if err := bind(c, &req); err != nil {
		return err
	}
	token := req.Token
	if token == "" {
		token = middleware.BearerToken(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	st, err := h.Auth.CompleteProfile(ctx, token, auth.ProfileInput{
		Name:          req.Name,
		StudentNumber: req.StudentNumber,
		Phone:         req.Phone,
		Year:          req.Year,
		Major:         req.Major,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "profile completed",
		"user":    auth.Describe(auth.StudentPrincipal{Student: st}),
	})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return auth.ErrTokenMissing
	}
	return c.JSON(http.StatusOK, auth.Describe(p))
}

// Years handles GET /api/auth/student/years, the profile year choices.
func (h *AuthHandler) Years(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"years": model.Years})
}
