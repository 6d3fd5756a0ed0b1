// Package session verifies session tokens issued by the external identity
// provider. A token is a JWT signed either with a shared HMAC secret (HS256)
// or with the provider's RSA key (RS256); the subject claim is the caller's
// identity.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/golang-jwt/jwt/v5"
)

// leeway absorbs clock skew between us and the provider.
const leeway = 5 * time.Second

// Claims is the verified content of a session token.
type Claims struct {
	Identity  string
	SessionID string
	ExpiresAt time.Time
}

type tokenClaims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks session tokens.
type Verifier struct {
	key    any
	method jwt.SigningMethod
	opts   []jwt.ParserOption
	logger *slog.Logger
}

// NewVerifier builds a Verifier from cfg. PublicKeyPEM takes precedence over
// HMACSecret when both are set.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{
		logger: slog.Default().With("component", "session-verifier"),
	}
	switch {
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing session public key: %w", err)
		}
		v.key = key
		v.method = jwt.SigningMethodRS256
	case cfg.HMACSecret != "":
		v.key = []byte(cfg.HMACSecret)
		v.method = jwt.SigningMethodHS256
	default:
		return nil, errors.New("auth config needs hmacSecret or publicKeyPem")
	}

	v.opts = []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	return v, nil
}

// Verify parses raw and returns its claims. Every failure is reported as
// apperrors.ErrUnauthorized.
func (v *Verifier) Verify(raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, apperrors.New(apperrors.ErrUnauthorized, 0, "missing session token")
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(raw, &tc, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, v.opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, apperrors.Wrap(apperrors.ErrUnauthorized, err, "session expired")
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return Claims{}, apperrors.Wrap(apperrors.ErrUnauthorized, err, "session from unknown issuer")
		default:
			v.logger.Debug("rejected session token", "error", err)
			return Claims{}, apperrors.Wrap(apperrors.ErrUnauthorized, err, "invalid session token")
		}
	}
	if tc.Subject == "" {
		return Claims{}, apperrors.New(apperrors.ErrUnauthorized, 0, "session token has no subject")
	}

	c := Claims{Identity: tc.Subject, SessionID: tc.SessionID}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}
