package server

import (
	"errors"
	"fmt"
)

// ErrInvalidToken is returned when a presented auth token is rejected.
var ErrInvalidToken = errors.New("invalid auth token")

// Authenticator decides whether a presented token may open a session. The
// shipped implementation is a length check; deployments that need real
// credentials swap in their own validation without touching the handlers.
type Authenticator interface {
	Authenticate(token string) error
}

// MinLengthAuthenticator accepts any token of at least MinLength characters.
// This is a placeholder policy, not a security boundary.
type MinLengthAuthenticator struct {
	MinLength int
}

// Authenticate implements Authenticator.
func (a MinLengthAuthenticator) Authenticate(token string) error {
	if len(token) < a.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidToken, a.MinLength)
	}
	return nil
}

// AdminAuthorizer reports whether a presented bearer credential is authorized
// for admin operations.
type AdminAuthorizer interface {
	Authorize(token string) bool
}

// StaticTokenSet authorizes against a fixed set of bearer tokens configured
// at process start.
type StaticTokenSet map[string]struct{}

// NewStaticTokenSet builds a token set from a list of tokens.
func NewStaticTokenSet(tokens []string) StaticTokenSet {
	set := make(StaticTokenSet, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		set[token] = struct{}{}
	}
	return set
}

// Authorize implements AdminAuthorizer.
func (s StaticTokenSet) Authorize(token string) bool {
	_, ok := s[token]
	return ok
}
