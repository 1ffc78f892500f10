// Package session resolves the id of the user operating the device. The
// reconciliation engine compares it with a zone's author to pick the
// download policy.
package session

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/zonemedia/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

type Provider interface {
	// CurrentUserID returns "" when nobody is signed in.
	CurrentUserID(ctx context.Context) (string, error)
}

// Static always reports the same user.
type Static string

func (s Static) CurrentUserID(context.Context) (string, error) { return string(s), nil }

// Claims are the access token claims issued by the zones backend.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// JWT reads the user id from an access token. With a secret the signature
// and expiry are verified; without one the token is only decoded, which is
// enough to pick a download policy on a device that cannot hold the key.
type JWT struct {
	token  string
	secret []byte
}

func NewJWT(token string, secret []byte) *JWT {
	return &JWT{token: strings.TrimSpace(token), secret: secret}
}

func (j *JWT) CurrentUserID(ctx context.Context) (string, error) {
	if j.token == "" {
		return "", nil
	}

	claims := &Claims{}
	if len(j.secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(j.token, claims); err != nil {
			return "", common.ErrInvalidToken
		}
		return userID(claims)
	}

	token, err := jwt.ParseWithClaims(j.token, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}
	if !token.Valid {
		return "", common.ErrInvalidToken
	}
	return userID(claims)
}

func userID(c *Claims) (string, error) {
	if c.UserID != "" {
		return c.UserID, nil
	}
	if c.Subject != "" {
		return c.Subject, nil
	}
	return "", common.ErrInvalidToken
}
