package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/openclave/warden/internal/models"
)

// TokenVerifier validates access tokens minted by the platform's auth
// service. This service never signs tokens itself; after a login
// challenge reaches used, the caller takes the returned user id back to
// the external issuer.
type TokenVerifier struct {
	secret string
}

// NewTokenVerifier creates a verifier sharing the issuer's HMAC secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

// VerifyAccessToken parses and validates an access token and returns its
// claims. Refresh tokens and challenge-scoped tokens are rejected.
func (tv *TokenVerifier) VerifyAccessToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tv.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != "access" {
		return nil, models.ErrUnauthorized
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("invalid token: missing user id")
	}

	return claims, nil
}
