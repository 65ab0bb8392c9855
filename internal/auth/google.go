package auth

import (
	"context"
	"errors"
	"net"

	googleAuthIDTokenVerifier "github.com/futurenda/google-auth-id-token-verifier"
)

// GoogleIdentity is what the service needs from a verified ID token.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// IDTokenVerifier checks a third-party identity assertion. Failures must
// be ErrInvalidAssertion or ErrIdentityProviderUnavailable (possibly
// wrapped).
type IDTokenVerifier interface {
	Verify(ctx context.Context, idToken string) (GoogleIdentity, error)
}

// GoogleVerifier verifies Google ID tokens against Google's published
// signing keys and the configured client id.
type GoogleVerifier struct {
	clientID string
	v        googleAuthIDTokenVerifier.Verifier
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID}
}

func (g *GoogleVerifier) Verify(ctx context.Context, idToken string) (GoogleIdentity, error) {
	if idToken == "" {
		return GoogleIdentity{}, ErrInvalidAssertion
	}
	if err := ctx.Err(); err != nil {
		return GoogleIdentity{}, ErrIdentityProviderUnavailable.Wrap(err)
	}
	if err := g.v.VerifyIDToken(idToken, []string{g.clientID}); err != nil {
		var ne net.Error
		if errors.As(err, &ne) {
			return GoogleIdentity{}, ErrIdentityProviderUnavailable.Wrap(err)
		}
		return GoogleIdentity{}, ErrInvalidAssertion.Wrap(err)
	}
	cs, err := googleAuthIDTokenVerifier.Decode(idToken)
	if err != nil {
		return GoogleIdentity{}, ErrInvalidAssertion.Wrap(err)
	}
	if cs.Sub == "" || cs.Email == "" {
		return GoogleIdentity{}, ErrInvalidAssertion
	}
	return GoogleIdentity{Subject: cs.Sub, Email: cs.Email, EmailVerified: cs.EmailVerified, Name: cs.Name}, nil
}
