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

type Groups struct{ base }

type GroupFilter struct {
	Type       models.GroupType
	University string
	Department string
}

func (s *Groups) List(ctx context.Context, f GroupFilter) ([]models.Group, error) {
	var parts []backend.Predicate
	if f.Type.Valid() {
		parts = append(parts, backend.Eq("group_type", string(f.Type)))
	}
	if f.University != "" {
		parts = append(parts, backend.Eq("university", f.University))
	}
	if f.Department != "" {
		parts = append(parts, backend.Eq("department", f.Department))
	}
	var where backend.Predicate
	if len(parts) > 0 {
		where = backend.And(parts...)
	}
	return cache.Fetch(ctx, s.cache, backend.Groups, []any{"list", f.Type, f.University, f.Department}, func(ctx context.Context) ([]models.Group, error) {
		rows, err := s.selectRows(ctx, backend.Query{
			Kind:  backend.Groups,
			Where: where,
			Order: []backend.Order{backend.Desc("created_at")},
		}, "Failed to fetch groups")
		if err != nil {
			return nil, err
		}
		return decodeAll[models.Group](rows, "Failed to fetch groups")
	})
}

func (s *Groups) Get(ctx context.Context, id string) (*models.Group, error) {
	row, err := s.one(ctx, backend.Groups, backend.Eq("id", id), "Group")
	if err != nil {
		return nil, err
	}
	return decodeOne[models.Group](row, "Failed to load group")
}

func (s *Groups) Members(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	return cache.Fetch(ctx, s.cache, backend.GroupMembers, []any{groupID}, func(ctx context.Context) ([]models.GroupMember, error) {
		rows, err := s.selectRows(ctx, backend.Query{
			Kind:  backend.GroupMembers,
			Where: backend.Eq("group_id", groupID),
			Order: []backend.Order{backend.Asc("joined_at")},
		}, "Failed to fetch members")
		if err != nil {
			return nil, err
		}
		return decodeAll[models.GroupMember](rows, "Failed to fetch members")
	})
}

// Create makes a group with the viewer as its admin member.
func (s *Groups) Create(ctx context.Context, viewer string, req models.CreateGroupRequest) (*models.Group, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}
	values := backend.Row{
		"name":        strings.TrimSpace(req.Name),
		"description": optionalPtr(req.Description),
		"group_type":  string(req.GroupType),
		"conditions":  optionalPtr(req.Conditions),
		"university":  optionalPtr(req.University),
		"department":  optionalPtr(req.Department),
		"creator_id":  viewer,
	}
	if req.MaxMembers != nil {
		values["max_members"] = *req.MaxMembers
	}
	rows, err := s.write(ctx, backend.Mutation{Kind: backend.Groups, Op: backend.Insert, Values: values}, "Failed to create group")
	if err != nil {
		return nil, err
	}
	group, err := decodeOne[models.Group](rows[0], "Failed to create group")
	if err != nil {
		return nil, err
	}
	if _, err := s.write(ctx, backend.Mutation{Kind: backend.GroupMembers, Op: backend.Insert, Values: backend.Row{
		"group_id": group.ID,
		"user_id":  viewer,
		"role":     string(models.RoleAdmin),
	}}, "Failed to create group", backend.Groups); err != nil {
		// A group without its admin is unreachable; drop it.
		if _, derr := s.write(ctx, backend.Mutation{
			Kind:  backend.Groups,
			Op:    backend.Delete,
			Where: backend.Eq("id", group.ID),
		}, "Failed to create group"); derr != nil {
			s.log.Error("failed to remove group without admin", "group_id", group.ID, "error", derr)
		}
		return nil, err
	}
	group.CurrentMembers++
	return group, nil
}

// Join adds the viewer to a group. Conditional groups take an application
// note and only admit members of the university and department they name.
func (s *Groups) Join(ctx context.Context, viewer, groupID, note string) (*models.GroupMember, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	group, err := s.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Full() {
		return nil, apperr.Validation("group", "is full")
	}
	note = strings.TrimSpace(note)
	if group.GroupType == models.GroupConditional {
		if note == "" {
			return nil, apperr.Validation("note", "is required to join this group")
		}
		row, err := s.one(ctx, backend.Profiles, backend.Eq("id", viewer), "Profile")
		if err != nil {
			return nil, err
		}
		if group.University != nil && *group.University != row.String("university") {
			return nil, apperr.Validation("university", "does not meet the group's conditions")
		}
		if group.Department != nil && *group.Department != row.String("department") {
			return nil, apperr.Validation("department", "does not meet the group's conditions")
		}
	}

	rows, err := s.write(ctx, backend.Mutation{Kind: backend.GroupMembers, Op: backend.Insert, Values: backend.Row{
		"group_id": groupID,
		"user_id":  viewer,
		"role":     string(models.RoleMember),
	}}, "Failed to join group", backend.Groups)
	if err != nil {
		switch {
		case errors.Is(err, backend.ErrConflict):
			return nil, apperr.Validation("group", "you are already a member")
		case errors.Is(err, backend.ErrCapacity):
			// Filled up after the cached check above.
			return nil, apperr.Validation("group", "is full")
		}
		return nil, err
	}
	member, err := decodeOne[models.GroupMember](rows[0], "Failed to join group")
	if err != nil {
		return nil, err
	}
	if group.CreatorID != viewer {
		data := map[string]any{"group_id": groupID, "user_id": viewer}
		if note != "" {
			data["note"] = note
		}
		s.notify(ctx, models.Notification{
			UserID: group.CreatorID,
			Type:   models.NotificationGroupJoin,
			Title:  "New member in " + group.Name,
			Data:   jsonData(data),
		})
	}
	return member, nil
}

// Leave removes the viewer from a group.
func (s *Groups) Leave(ctx context.Context, viewer, groupID string) error {
	if err := requireViewer(viewer); err != nil {
		return err
	}
	rows, err := s.write(ctx, backend.Mutation{
		Kind:  backend.GroupMembers,
		Op:    backend.Delete,
		Where: backend.And(backend.Eq("group_id", groupID), backend.Eq("user_id", viewer)),
	}, "Failed to leave group", backend.Groups)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return apperr.NotFound("Membership")
	}
	return nil
}
