package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emilythestrangee/campusnet/backend/internal/session"
)

var ErrInvalidToken = errors.New("invalid token")

// Tokens issues and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *Tokens) Issue(u session.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  u.ID,
		"username": u.Username,
		"email":    u.Email,
		"exp":      t.now().Add(t.ttl).Unix(),
	})
	s, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (t *Tokens) Parse(raw string) (*session.User, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	id, _ := claims["user_id"].(string)
	if id == "" {
		return nil, ErrInvalidToken
	}
	username, _ := claims["username"].(string)
	email, _ := claims["email"].(string)
	return &session.User{ID: id, Username: username, Email: email}, nil
}

// TokenProvider resolves a session from a bearer token. Signing out forgets
// the token; JWTs are not revoked server-side.
type TokenProvider struct {
	tokens *Tokens
	raw    string
}

func NewTokenProvider(tokens *Tokens, raw string) *TokenProvider {
	return &TokenProvider{tokens: tokens, raw: raw}
}

func (p *TokenProvider) Current(context.Context) (*session.User, error) {
	if p.raw == "" {
		return nil, nil
	}
	return p.tokens.Parse(p.raw)
}

func (p *TokenProvider) SignOut(context.Context) error {
	p.raw = ""
	return nil
}
