// Package auth registers accounts and signs users in with email and password.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/session"
)

const (
	defaultUniversity = "Unknown University"
	defaultDepartment = "Unknown Department"
)

type Service struct {
	client backend.Client
	cache  *cache.Cache
	tokens *Tokens
}

func NewService(client backend.Client, c *cache.Cache, tokens *Tokens) *Service {
	return &Service{client: client, cache: c, tokens: tokens}
}

func (s *Service) Tokens() *Tokens { return s.tokens }

// Register creates the account and its profile and returns a signed-in
// response.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}

	existing, err := s.client.Select(ctx, backend.Query{Kind: backend.Accounts, Where: backend.Eq("email", req.Email), Limit: 1})
	if err != nil {
		return nil, apperr.Backend("Failed to create user", err)
	}
	if len(existing) > 0 {
		return nil, apperr.Validation("email", "is already registered")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Backend("Failed to hash password", err)
	}

	rows, err := s.client.Write(ctx, backend.Mutation{Kind: backend.Accounts, Op: backend.Insert, Values: backend.Row{
		"email":         req.Email,
		"password_hash": string(hashed),
		"auth_provider": "email",
	}})
	if err != nil {
		if errors.Is(err, backend.ErrConflict) {
			return nil, apperr.Validation("email", "is already registered")
		}
		return nil, apperr.Backend("Failed to create user", err)
	}
	accountID := rows[0].ID()

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = generateUsernameFromEmail(req.Email)
	}
	username, err = s.ensureUniqueUsername(ctx, username)
	if err != nil {
		return nil, apperr.Backend("Failed to create user", err)
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}

	profileRow := backend.Row{
		"id":           accountID,
		"username":     username,
		"display_name": displayName,
		"university":   orDefault(req.University, defaultUniversity),
		"department":   orDefault(req.Department, defaultDepartment),
	}
	rows, err = s.client.Write(ctx, backend.Mutation{Kind: backend.Profiles, Op: backend.Insert, Values: profileRow})
	if err != nil {
		return nil, apperr.Backend("Failed to create profile", err)
	}
	s.cache.Invalidate(backend.Profiles)

	var profile models.Profile
	if err := rows[0].Decode(&profile); err != nil {
		return nil, apperr.Backend("Failed to create profile", err)
	}
	token, err := s.tokens.Issue(session.User{ID: accountID, Email: req.Email, Username: profile.Username})
	if err != nil {
		return nil, apperr.Backend("Failed to generate token", err)
	}
	return &models.AuthResponse{Token: token, User: &profile, Message: "User registered successfully"}, nil
}

func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}
	invalid := &apperr.Error{Kind: apperr.KindUnauthenticated, Message: "Invalid credentials"}

	rows, err := s.client.Select(ctx, backend.Query{Kind: backend.Accounts, Where: backend.And(
		backend.Eq("email", req.Email),
		backend.Eq("auth_provider", "email"),
	), Limit: 1})
	if err != nil {
		return nil, apperr.Backend("Failed to sign in", err)
	}
	if len(rows) == 0 {
		return nil, invalid
	}
	var account models.Account
	if err := rows[0].Decode(&account); err != nil {
		return nil, apperr.Backend("Failed to sign in", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return nil, invalid
	}

	profile, err := s.profile(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(session.User{ID: account.ID, Email: account.Email, Username: profile.Username})
	if err != nil {
		return nil, apperr.Backend("Failed to generate token", err)
	}
	return &models.AuthResponse{Token: token, User: profile, Message: "Login successful"}, nil
}

// Me returns the profile of the signed-in user.
func (s *Service) Me(ctx context.Context, viewer string) (*models.Profile, error) {
	if viewer == "" {
		return nil, apperr.Unauthenticated()
	}
	return s.profile(ctx, viewer)
}

func (s *Service) profile(ctx context.Context, id string) (*models.Profile, error) {
	rows, err := s.client.Select(ctx, backend.Query{Kind: backend.Profiles, Where: backend.Eq("id", id), Limit: 1})
	if err != nil {
		return nil, apperr.Backend("Failed to load profile", err)
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("User")
	}
	var p models.Profile
	if err := rows[0].Decode(&p); err != nil {
		return nil, apperr.Backend("Failed to load profile", err)
	}
	return &p, nil
}

func generateUsernameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

func (s *Service) ensureUniqueUsername(ctx context.Context, base string) (string, error) {
	username := base
	for counter := 1; ; counter++ {
		rows, err := s.client.Select(ctx, backend.Query{Kind: backend.Profiles, Where: backend.Eq("username", username), Limit: 1})
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			return username, nil
		}
		username = fmt.Sprintf("%s%d", base, counter)
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
