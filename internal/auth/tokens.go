package auth

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/recordbase/recordbase-server/internal/errors"
)

// TokenConfig configures token signing and verification
type TokenConfig struct {
	SigningKey []byte
	// Issuer and Audience are checked only when set
	Issuer   string
	Audience string
	// TTL is the lifetime of tokens minted by Issue
	TTL time.Duration
	// Leeway tolerates clock skew on exp/nbf
	Leeway time.Duration
}

// Claims is the verified content of a bearer token
type Claims struct {
	Subject   string
	TokenID   string
	ExpiresAt time.Time
}

// TokenManager signs and verifies HS256 bearer tokens
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenManager creates a token manager. The signing key must be set.
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("token signing key is empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &TokenManager{config: cfg, now: time.Now}, nil
}

// Issue mints a token for subject. ttl <= 0 uses the configured TTL.
func (m *TokenManager) Issue(subject string, ttl time.Duration) (string, *Claims, error) {
	if subject == "" {
		return "", nil, fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		ttl = m.config.TTL
	}

	now := m.now()
	claims := jwtlib.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		Issuer:    m.config.Issuer,
	}
	if m.config.Audience != "" {
		claims.Audience = jwtlib.ClaimStrings{m.config.Audience}
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(m.config.SigningKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, &Claims{
		Subject:   subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks the signature and registered claims of a token
func (m *TokenManager) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.AuthenticationFailed("empty bearer token", nil)
	}

	var claims jwtlib.RegisteredClaims
	parsed, err := jwtlib.ParseWithClaims(token, &claims, func(t *jwtlib.Token) (interface{}, error) {
		return m.config.SigningKey, nil
	}, m.parserOptions()...)
	if err != nil {
		return nil, errors.AuthenticationFailed("invalid bearer token", err)
	}
	if !parsed.Valid {
		return nil, errors.AuthenticationFailed("invalid bearer token", nil)
	}
	if claims.Subject == "" {
		return nil, errors.AuthenticationFailed("token has no subject", nil)
	}

	return &Claims{
		Subject:   claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (m *TokenManager) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		opts = append(opts, jwtlib.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(m.config.Audience))
	}
	return opts
}
