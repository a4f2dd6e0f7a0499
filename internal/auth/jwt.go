package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "agenda"

// Claims is the payload of a session token.
//
// The token names a session, not a grant: SessionID is the key of the
// live identity session and of the cached user. Role is absent; it is
// resolved per tenant on each request.
//
// Why leave the role out of the token?
//   - A user holds one role per tenant, and the tenant comes from the
//     request host, not from the token.
//   - A token lives for TokenTTL. A role baked into it would outlive a
//     demotion by that long, and a signed token can't be recalled.
//
// Why embed jwt.RegisteredClaims?
//   - ExpiresAt, IssuedAt and Issuer are checked by the library itself.
//   - ID carries the session id, so standard tooling shows it.
type Claims struct {
	SessionID uuid.UUID `json:"sid"`
	UserID    uuid.UUID `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	jwt.RegisteredClaims
}

// GenerateToken signs a session token with HS256.
//
// Why HS256?
//   - One service both issues and verifies the token, so a shared secret
//     is enough; there is no third party that needs a public key.
//   - HMAC is cheap, and every authenticated request verifies one.
func GenerateToken(sessionID, userID uuid.UUID, tenantID, email, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		SessionID: sessionID,
		UserID:    userID,
		TenantID:  tenantID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID.String(),
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken verifies signature, expiry, issuer and signing method, and
// returns the claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			// Reject "none" and asymmetric algorithms before verifying.
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.SessionID == uuid.Nil {
		return nil, fmt.Errorf("token has no session id")
	}

	return claims, nil
}
