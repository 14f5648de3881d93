package auth

import (
	"os"
	"strings"

	"github.com/recordbase/recordbase-server/internal/errors"
)

// ResolveTokenRef turns a secret reference into the secret itself.
//
//	$NAME       environment variable NAME
//	env:NAME    environment variable NAME
//	file:/path  file contents, surrounding whitespace trimmed
//
// Anything else is taken as the literal secret. A reference that resolves
// to nothing fails with AuthenticationFailed.
func ResolveTokenRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.AuthenticationFailed("empty token reference", nil)
	}

	var secret string
	switch {
	case strings.HasPrefix(ref, "$"):
		secret = os.Getenv(ref[1:])
	case strings.HasPrefix(ref, "env:"):
		secret = os.Getenv(strings.TrimPrefix(ref, "env:"))
	case strings.HasPrefix(ref, "file:"):
		data, err := os.ReadFile(strings.TrimPrefix(ref, "file:"))
		if err != nil {
			return "", errors.AuthenticationFailed("token file unreadable", err)
		}
		secret = string(data)
	default:
		secret = ref
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.AuthenticationFailed("token reference resolved to an empty secret", nil).
			WithDetail("reference", describeRef(ref))
	}
	return secret, nil
}

// describeRef returns a loggable form of the reference that never contains
// a literal secret
func describeRef(ref string) string {
	if strings.HasPrefix(ref, "$") || strings.HasPrefix(ref, "env:") || strings.HasPrefix(ref, "file:") {
		return ref
	}
	return "<literal>"
}
