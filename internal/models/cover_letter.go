package models

import (
	"time"

	"github.com/noah-isme/coverletter-api/internal/workflow"
)

// CoverLetter is a graduation application cover letter moving through the approval pipeline.
type CoverLetter struct {
	ID                      uint           `gorm:"primaryKey" json:"-"`
	EntryID                 string         `gorm:"size:64;uniqueIndex;not null" json:"entry_id"`
	StudentID               string         `gorm:"size:64;not null;index" json:"student_id"`
	StudentName             string         `gorm:"size:128;not null" json:"student_name"`
	StudentLastName         string         `gorm:"size:128;not null" json:"student_last_name"`
	Department              string         `gorm:"size:128;not null;index:idx_cover_letter_queue,priority:2" json:"department"`
	GPA                     float64        `gorm:"not null" json:"gpa"`
	CreditsEarned           int            `gorm:"not null" json:"credits_earned"`
	GraduationDate          time.Time      `json:"graduation_date"`
	Notes                   string         `gorm:"type:text" json:"notes"`
	Stage                   workflow.Stage `gorm:"size:32;not null;index:idx_cover_letter_queue,priority:1" json:"stage"`
	DepartmentChairSigned   bool           `gorm:"not null;default:false" json:"department_chair_signed"`
	DepartmentChairSignedBy *string        `gorm:"size:64" json:"department_chair_signed_by,omitempty"`
	DepartmentChairSignedAt *time.Time     `json:"department_chair_signed_at,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// AwaitingChairSignature reports whether the department chair may still sign the letter.
func (c CoverLetter) AwaitingChairSignature() bool {
	return c.Stage == workflow.StagePendingDepartmentChair && !c.DepartmentChairSigned
}

// Consistent reports whether the signature flag agrees with the stage.
func (c CoverLetter) Consistent() bool {
	return c.DepartmentChairSigned == c.Stage.AtOrPast(workflow.StagePendingFacultySecretary)
}
