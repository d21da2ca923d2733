package service

import (
	"context"
	"strings"
	"time"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
)

type Schedules struct{ base }

// parseClock accepts "15:04" and "15:04:05" and returns the canonical
// "15:04:05" form.
func parseClock(field, v string) (string, time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("15:04:05"), t, nil
		}
	}
	return "", time.Time{}, apperr.Validation(field, "must be a time of day (HH:MM)")
}

func clockRange(start, end string) (string, string, error) {
	s, st, err := parseClock("start_time", start)
	if err != nil {
		return "", "", err
	}
	e, et, err := parseClock("end_time", end)
	if err != nil {
		return "", "", err
	}
	if !st.Before(et) {
		return "", "", apperr.Validation("end_time", "must be after start_time")
	}
	return s, e, nil
}

// List returns the viewer's week ordered by day, then start time.
func (s *Schedules) List(ctx context.Context, viewer string) ([]models.Schedule, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, backend.Schedules, []any{viewer}, func(ctx context.Context) ([]models.Schedule, error) {
		rows, err := s.selectRows(ctx, backend.Query{
			Kind:  backend.Schedules,
			Where: backend.Eq("user_id", viewer),
			Order: []backend.Order{backend.Asc("day_of_week"), backend.Asc("start_time")},
		}, "Failed to fetch schedule")
		if err != nil {
			return nil, err
		}
		return decodeAll[models.Schedule](rows, "Failed to fetch schedule")
	})
}

func (s *Schedules) Create(ctx context.Context, viewer string, req models.ScheduleRequest) (*models.Schedule, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}
	start, end, err := clockRange(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	values := backend.Row{
		"user_id":     viewer,
		"course_name": strings.TrimSpace(req.CourseName),
		"professor":   optionalPtr(req.Professor),
		"classroom":   optionalPtr(req.Classroom),
		"day_of_week": req.DayOfWeek,
		"start_time":  start,
		"end_time":    end,
		"semester":    optionalPtr(req.Semester),
	}
	if req.Year != nil {
		values["year"] = *req.Year
	}
	rows, err := s.write(ctx, backend.Mutation{Kind: backend.Schedules, Op: backend.Insert, Values: values}, "Failed to add class")
	if err != nil {
		return nil, err
	}
	return decodeOne[models.Schedule](rows[0], "Failed to add class")
}

// Update applies a partial change to one of the viewer's entries.
func (s *Schedules) Update(ctx context.Context, viewer, id string, patch models.SchedulePatch) (*models.Schedule, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if err := apperr.Validate(patch); err != nil {
		return nil, err
	}
	owned := backend.And(backend.Eq("id", id), backend.Eq("user_id", viewer))
	row, err := s.one(ctx, backend.Schedules, owned, "Schedule entry")
	if err != nil {
		return nil, err
	}
	current, err := decodeOne[models.Schedule](row, "Failed to update class")
	if err != nil {
		return nil, err
	}

	values := backend.Row{}
	if patch.CourseName != nil {
		values["course_name"] = strings.TrimSpace(*patch.CourseName)
	}
	if patch.Professor != nil {
		values["professor"] = optionalPtr(patch.Professor)
	}
	if patch.Classroom != nil {
		values["classroom"] = optionalPtr(patch.Classroom)
	}
	if patch.DayOfWeek != nil {
		values["day_of_week"] = *patch.DayOfWeek
	}
	if patch.Semester != nil {
		values["semester"] = optionalPtr(patch.Semester)
	}
	if patch.Year != nil {
		values["year"] = *patch.Year
	}
	if patch.StartTime != nil || patch.EndTime != nil {
		start, end := current.StartTime, current.EndTime
		if patch.StartTime != nil {
			start = *patch.StartTime
		}
		if patch.EndTime != nil {
			end = *patch.EndTime
		}
		start, end, err = clockRange(start, end)
		if err != nil {
			return nil, err
		}
		values["start_time"], values["end_time"] = start, end
	}
	if len(values) == 0 {
		return current, nil
	}

	rows, err := s.write(ctx, backend.Mutation{Kind: backend.Schedules, Op: backend.Update, Values: values, Where: owned}, "Failed to update class")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("Schedule entry")
	}
	return decodeOne[models.Schedule](rows[0], "Failed to update class")
}

func (s *Schedules) Delete(ctx context.Context, viewer, id string) error {
	if err := requireViewer(viewer); err != nil {
		return err
	}
	rows, err := s.write(ctx, backend.Mutation{
		Kind:  backend.Schedules,
		Op:    backend.Delete,
		Where: backend.And(backend.Eq("id", id), backend.Eq("user_id", viewer)),
	}, "Failed to delete class")
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return apperr.NotFound("Schedule entry")
	}
	return nil
}
