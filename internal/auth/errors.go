package auth

import "github.com/iliyamo/club-event-registration/internal/apperr"

var (
	ErrInvalidCredentials          = apperr.New(apperr.KindAuthentication, "invalid credentials")
	ErrInvalidAssertion            = apperr.New(apperr.KindAuthentication, "invalid identity token")
	ErrIdentityProviderUnavailable = apperr.New(apperr.KindUnavailable, "identity provider unavailable")
	ErrAdminNotProvisioned         = apperr.New(apperr.KindAuthorization, "administrator account has not been provisioned")

	ErrTokenMissing      = apperr.New(apperr.KindAuthentication, "missing bearer token")
	ErrTokenInvalid      = apperr.New(apperr.KindAuthentication, "invalid token")
	ErrTokenExpired      = apperr.New(apperr.KindAuthentication, "token expired")
	ErrPrincipalNotFound = apperr.New(apperr.KindAuthentication, "account no longer exists")

	ErrForbidden = apperr.New(apperr.KindAuthorization, "forbidden")
)
