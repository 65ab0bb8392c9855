package utils // package utils provides helper functions for session tokens and hashing

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and verifying signed tokens
)

// ErrTokenExpired is returned by ParseToken when the signature is valid
// but the exp claim is in the past. Every other failure is reported as
// ErrTokenMalformed so that callers only need two branches.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
)

// AccessToken represents a signed session token along with its expiry.
// The Token field contains the JWT string that clients send in the
// Authorization header; Exp is the UTC expiration instant.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// TokenClaims are the claims the service puts in every session token.
type TokenClaims struct {
	Subject   uint64    // principal id (sub)
	Kind      string    // principal kind: "admin" or "student"
	IssuedAt  time.Time // iat
	ExpiresAt time.Time // exp
}

// IssueToken builds and signs an HS256 JWT for a principal. The token
// carries the principal id as sub, the principal kind, iat and exp.
func IssueToken(secret string, subject uint64, kind string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  strconv.FormatUint(subject, 10),
		"kind": kind,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseToken verifies the signature and expiry of raw and returns its
// claims. Only HS256 is accepted.
func ParseToken(secret, raw string) (TokenClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, ErrTokenExpired
		}
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return TokenClaims{}, ErrTokenMalformed
	}

	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return TokenClaims{}, ErrTokenMalformed
	}
	id, err := strconv.ParseUint(sub, 10, 64)
	if err != nil {
		return TokenClaims{}, ErrTokenMalformed
	}
	kind, _ := mc["kind"].(string)
	if kind == "" {
		return TokenClaims{}, ErrTokenMalformed
	}

	out := TokenClaims{Subject: id, Kind: kind}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
