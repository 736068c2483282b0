// Package auth is the seam to the external identity system. The engine only
// depends on Verifier; the JWT implementation here is the default adapter for
// deployments without a separate identity service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller as the engine sees it.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Verifier checks a bearer credential and returns the identity behind it.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// ErrInvalidToken marks any credential that does not verify.
var ErrInvalidToken = errors.New("invalid token")

// JWT verifies and issues HS256 tokens.
type JWT struct {
	secret []byte
}

// NewJWT creates a JWT verifier/issuer with the given signing secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Verify parses and validates an HS256 token, extracting the identity claims.
func (j *JWT) Verify(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{UserID: sub}
	if name, ok := claims["name"].(string); ok {
		id.DisplayName = name
	}
	if avatar, ok := claims["avatar"].(string); ok {
		id.AvatarURL = avatar
	}
	return id, nil
}

// Issue signs a token for the identity, valid for ttl.
func (j *JWT) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": id.UserID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if id.DisplayName != "" {
		claims["name"] = id.DisplayName
	}
	if id.AvatarURL != "" {
		claims["avatar"] = id.AvatarURL
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
