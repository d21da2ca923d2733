package models

import "time"

// Schedule is one weekly class slot. DayOfWeek runs 1 (Monday) to 5 (Friday);
// StartTime and EndTime are "HH:MM" or "HH:MM:SS".
type Schedule struct {
	ID         string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID     string    `gorm:"type:uuid;index" json:"user_id"`
	CourseName string    `gorm:"not null" json:"course_name"`
	Professor  *string   `json:"professor,omitempty"`
	Classroom  *string   `json:"classroom,omitempty"`
	DayOfWeek  int       `json:"day_of_week"`
	StartTime  string    `gorm:"type:time;not null" json:"start_time"`
	EndTime    string    `gorm:"type:time;not null" json:"end_time"`
	Semester   *string   `json:"semester,omitempty"`
	Year       *int      `json:"year,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Schedule) TableName() string { return "schedules" }

func (s Schedule) EntityID() string { return s.ID }

type ScheduleRequest struct {
	CourseName string  `json:"course_name" validate:"notblank,max=200"`
	Professor  *string `json:"professor"`
	Classroom  *string `json:"classroom"`
	DayOfWeek  int     `json:"day_of_week" validate:"min=1,max=5"`
	StartTime  string  `json:"start_time" validate:"required"`
	EndTime    string  `json:"end_time" validate:"required"`
	Semester   *string `json:"semester"`
	Year       *int    `json:"year" validate:"omitempty,min=1900,max=3000"`
}

// SchedulePatch is a partial update of a schedule entry.
type SchedulePatch struct {
	CourseName *string `json:"course_name" validate:"omitempty,notblank,max=200"`
	Professor  *string `json:"professor"`
	Classroom  *string `json:"classroom"`
	DayOfWeek  *int    `json:"day_of_week" validate:"omitempty,min=1,max=5"`
	StartTime  *string `json:"start_time"`
	EndTime    *string `json:"end_time"`
	Semester   *string `json:"semester"`
	Year       *int    `json:"year" validate:"omitempty,min=1900,max=3000"`
}
