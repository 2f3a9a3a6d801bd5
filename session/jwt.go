package session

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTValidator adapts HMAC-signed JWTs to the Validator contract. The token
// subject becomes the user id; a "roles" claim carries the roles. Expired or
// otherwise invalid tokens are rejected, not errored: the caller cannot tell
// a forged token from a stale one.
func JWTValidator(secret []byte, issuer string) Validator {
	return func(_ context.Context, token string) (*Identity, error) {
		parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
		if err != nil || !parsed.Valid {
			return nil, nil
		}
		claims, ok := parsed.Claims.(*jwtClaims)
		if !ok || claims.Subject == "" {
			return nil, nil
		}
		id := &Identity{
			UserID: claims.Subject,
			Roles:  append([]string(nil), claims.Roles...),
		}
		if claims.ExpiresAt != nil {
			id.ExpiresAt = claims.ExpiresAt.Time
		}
		return id, nil
	}
}
