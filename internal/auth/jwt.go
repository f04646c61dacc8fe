package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
)

// AppClaims is the token shape issued by the auth service: the user ID in
// "sub" plus email and role.
type AppClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator verifies HMAC-signed tokens locally, for running without the
// auth service.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("jwt validator requires a secret")
	}
	return &JWTValidator{secret: []byte(secret)}, nil
}

func (v *JWTValidator) Validate(_ context.Context, tokenString string) (state.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return state.Identity{}, invalidToken(err)
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok || !token.Valid {
		return state.Identity{}, invalidToken(errors.New("unparseable claims"))
	}
	if claims.Subject == "" {
		return state.Identity{}, invalidToken(errors.New("token missing 'sub' claim"))
	}
	return state.Identity{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// Sign issues a token for the identity. Used by tests and local tooling.
func (v *JWTValidator) Sign(id state.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AppClaims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
