package session

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return raw
}

func registered(sub, iss string, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    iss,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
}

func TestVerifyHMAC(t *testing.T) {
	v, err := NewVerifier(config.AuthConfig{HMACSecret: secret, Issuer: "https://clerk.test"})
	if err != nil {
		t.Fatal(err)
	}

	raw := sign(t, jwt.SigningMethodHS256, []byte(secret), tokenClaims{
		SessionID:        "sess_1",
		RegisteredClaims: registered("user_1", "https://clerk.test", time.Hour),
	})
	c, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Identity != "user_1" || c.SessionID != "sess_1" || c.ExpiresAt.IsZero() {
		t.Errorf("claims = %+v", c)
	}
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier(config.AuthConfig{HMACSecret: secret, Issuer: "https://clerk.test"})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), registered("u", "https://clerk.test", time.Hour))},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(secret), registered("u", "https://clerk.test", -time.Hour))},
		{"wrong issuer", sign(t, jwt.SigningMethodHS256, []byte(secret), registered("u", "https://evil.test", time.Hour))},
		{"no subject", sign(t, jwt.SigningMethodHS256, []byte(secret), registered("", "https://clerk.test", time.Hour))},
		{"no expiry", sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.RegisteredClaims{Subject: "u", Issuer: "https://clerk.test"})},
		{"alg none", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, registered("u", "https://clerk.test", time.Hour))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.raw)
			if !errors.Is(err, apperrors.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
			if apperrors.HTTPStatusCode(err) != 401 {
				t.Errorf("status = %d", apperrors.HTTPStatusCode(err))
			}
		})
	}
}

func TestVerifyRSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	v, err := NewVerifier(config.AuthConfig{PublicKeyPEM: string(pemKey), HMACSecret: secret})
	if err != nil {
		t.Fatal(err)
	}

	raw := sign(t, jwt.SigningMethodRS256, priv, registered("user_rsa", "", time.Hour))
	c, err := v.Verify(raw)
	if err != nil || c.Identity != "user_rsa" {
		t.Fatalf("got %+v, %v", c, err)
	}

	// An HMAC token must not pass once the verifier is pinned to RS256.
	hmacRaw := sign(t, jwt.SigningMethodHS256, []byte(secret), registered("u", "", time.Hour))
	if _, err := v.Verify(hmacRaw); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("expected HS256 token to be rejected, got %v", err)
	}
}

func TestNewVerifierNeedsKey(t *testing.T) {
	if _, err := NewVerifier(config.AuthConfig{}); err == nil {
		t.Fatal("expected error without key material")
	}
	if _, err := NewVerifier(config.AuthConfig{PublicKeyPEM: "nope"}); err == nil {
		t.Fatal("expected error for bad PEM")
	}
}
