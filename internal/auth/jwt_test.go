package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	sid, uid := uuid.New(), uuid.New()

	tok, err := GenerateToken(sid, uid, "demo", "jane@example.com", "s3cret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(tok, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, sid, claims.SessionID)
	assert.Equal(t, uid, claims.UserID)
	assert.Equal(t, "demo", claims.TenantID)
	assert.Equal(t, "jane@example.com", claims.Email)
}

func TestParseTokenRejects(t *testing.T) {
	sid, uid := uuid.New(), uuid.New()

	good, err := GenerateToken(sid, uid, "demo", "a@b.c", "s3cret", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(sid, uid, "demo", "a@b.c", "s3cret", -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sid": sid.String(), "iss": issuer}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]struct{ token, secret string }{
		"wrong secret": {good, "other"},
		"expired":      {expired, "s3cret"},
		"alg none":     {none, "s3cret"},
		"garbage":      {"not.a.token", "s3cret"},
		"tampered":     {good[:len(good)-2] + strings.Repeat("x", 2), "s3cret"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(tc.token, tc.secret)
			assert.Error(t, err)
		})
	}
}
