package auth

import (
	"errors"
	"strings"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// BearerToken extracts the JWT from an Authorization header value.
func BearerToken(header string) (string, error) {
	h := strings.TrimSpace(header)
	if h == "" {
		return "", errMissingAuthorization
	}
	if len(h) <= len(bearerPrefix) || !strings.HasPrefix(h, bearerPrefix) {
		return "", errBadAuthorization
	}
	tok := h[len(bearerPrefix):]
	if strings.Count(tok, ".") != 2 {
		return "", errBadAuthorization
	}
	return tok, nil
}

// UserIDFromAuthHeader verifies the bearer token carried by header.
func (v *Verifier) UserIDFromAuthHeader(header string) (string, error) {
	tok, err := BearerToken(header)
	if err != nil {
		return "", err
	}
	return v.UserID(tok)
}
