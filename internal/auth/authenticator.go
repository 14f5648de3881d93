// Package auth verifies bearer tokens and tracks the sessions created from them.
package auth

import (
	"context"
	"strings"

	"github.com/recordbase/recordbase-server/internal/errors"
)

// Authenticator verifies bearer tokens and consults the revocation store
type Authenticator struct {
	tokens      *TokenManager
	revocations RevocationStore
}

// NewAuthenticator creates an authenticator. revocations may be nil.
func NewAuthenticator(tokens *TokenManager, revocations RevocationStore) *Authenticator {
	return &Authenticator{tokens: tokens, revocations: revocations}
}

// Authenticate validates a raw token
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if err := a.CheckRevoked(ctx, claims.TokenID); err != nil {
		return nil, err
	}
	return claims, nil
}

// AuthenticateBearer validates an "authorization" header value
func (a *Authenticator) AuthenticateBearer(ctx context.Context, header string) (*Claims, error) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, errors.AuthenticationFailed("missing bearer token", nil)
	}
	return a.Authenticate(ctx, token)
}

// CheckRevoked fails with AuthenticationFailed when the token ID is revoked.
// A revocation store that cannot be reached fails closed.
func (a *Authenticator) CheckRevoked(ctx context.Context, tokenID string) error {
	if a.revocations == nil || tokenID == "" {
		return nil
	}
	revoked, err := a.revocations.IsRevoked(ctx, tokenID)
	if err != nil {
		return errors.AuthenticationFailed("could not check token revocation", err)
	}
	if revoked {
		return errors.AuthenticationFailed("token has been revoked", nil)
	}
	return nil
}

// Revocations returns the configured revocation store, possibly nil
func (a *Authenticator) Revocations() RevocationStore {
	return a.revocations
}

// BearerToken extracts the token from "Bearer <token>"
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
