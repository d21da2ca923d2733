package service

import (
	"context"
	"errors"
	"strings"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
)

type Profiles struct{ base }

func (s *Profiles) Get(ctx context.Context, id string) (*models.Profile, error) {
	if id == "" {
		return nil, apperr.NotFound("Profile")
	}
	return cache.Fetch(ctx, s.cache, backend.Profiles, []any{id}, func(ctx context.Context) (*models.Profile, error) {
		row, err := s.one(ctx, backend.Profiles, backend.Eq("id", id), "Profile")
		if err != nil {
			return nil, err
		}
		return decodeOne[models.Profile](row, "Failed to load profile")
	})
}

// Upsert updates the viewer's profile, creating it with defaults when it does
// not exist yet.
func (s *Profiles) Upsert(ctx context.Context, viewer string, req models.UpdateProfileRequest) (*models.Profile, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}

	values := backend.Row{}
	set := func(col string, v *string) {
		if v != nil {
			values[col] = strings.TrimSpace(*v)
		}
	}
	set("username", req.Username)
	set("display_name", req.DisplayName)
	set("university", req.University)
	set("department", req.Department)
	set("bio", req.Bio)
	set("profile_image_url", req.ProfileImageURL)
	set("student_id", req.StudentID)
	set("phone", req.Phone)

	existing, err := s.selectRows(ctx, backend.Query{Kind: backend.Profiles, Where: backend.Eq("id", viewer), Limit: 1}, "Failed to update profile")
	if err != nil {
		return nil, err
	}

	// Denormalized author blocks on posts, comments and messages go stale.
	also := []backend.Kind{backend.Posts, backend.Comments, backend.Messages}
	var rows []backend.Row
	if len(existing) == 0 {
		username := "user_" + strings.ReplaceAll(viewer, "-", "")
		if len(username) > 13 {
			username = username[:13]
		}
		defaults := backend.Row{
			"id":           viewer,
			"username":     username,
			"display_name": username,
			"university":   "Unknown University",
			"department":   "Unknown Department",
		}
		for k, v := range values {
			defaults[k] = v
		}
		rows, err = s.write(ctx, backend.Mutation{Kind: backend.Profiles, Op: backend.Insert, Values: defaults}, "Failed to update profile", also...)
	} else {
		if len(values) == 0 {
			return decodeOne[models.Profile](existing[0], "Failed to update profile")
		}
		rows, err = s.write(ctx, backend.Mutation{
			Kind:   backend.Profiles,
			Op:     backend.Update,
			Values: values,
			Where:  backend.Eq("id", viewer),
		}, "Failed to update profile", also...)
	}
	if err != nil {
		if errors.Is(err, backend.ErrConflict) {
			return nil, apperr.Validation("username", "is already taken")
		}
		return nil, err
	}
	if len(rows) == 0 {
		// Deleted between the read and the update.
		return nil, apperr.NotFound("Profile")
	}
	return decodeOne[models.Profile](rows[0], "Failed to update profile")
}
