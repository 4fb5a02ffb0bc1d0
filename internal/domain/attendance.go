package domain

import "time"

const (
	AttendanceSourceCredential = "CREDENTIAL"
	AttendanceDateLayout       = "2006-01-02"
)

// AttendanceFact is unique per (tenant, context, subject, attendance date).
type AttendanceFact struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TenantID       string    `gorm:"size:64;not null;uniqueIndex:idx_attendance_facts_natural_key,priority:1" json:"tenant_id"`
	ContextID      string    `gorm:"size:128;not null;uniqueIndex:idx_attendance_facts_natural_key,priority:2" json:"context_id"`
	SubjectID      string    `gorm:"size:128;not null;uniqueIndex:idx_attendance_facts_natural_key,priority:3" json:"subject_id"`
	AttendanceDate string    `gorm:"size:10;not null;uniqueIndex:idx_attendance_facts_natural_key,priority:4" json:"attendance_date"`
	MarkedAt       time.Time `gorm:"not null" json:"marked_at"`
	Source         string    `gorm:"size:32;not null" json:"source"`
	SessionCode    string    `gorm:"size:64;index" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func AttendanceDate(when time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return when.In(loc).Format(AttendanceDateLayout)
}
