package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// OpsClaim identifies the caller of the ops API.
type OpsClaim struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// CanOperate reports whether the claim may trigger cycles and cleanup sweeps.
func (c *OpsClaim) CanOperate() bool {
	return c != nil && c.Role == RoleOperator
}

// AnonymousOperator is the claim used when the ops API runs without a secret.
func AnonymousOperator() *OpsClaim {
	return &OpsClaim{Role: RoleOperator, StandardClaims: jwt.StandardClaims{Subject: "anonymous"}}
}

func JwtGenerate(secret []byte, subject, role string, lifespan time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &OpsClaim{
		Role: role,
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			ExpiresAt: now.Add(lifespan).Unix(),
			IssuedAt:  now.Unix(),
		},
	})
	return t.SignedString(secret)
}

func JwtValidate(secret []byte, token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &OpsClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
}
