package dto

import (
	"time"

	"github.com/noah-isme/coverletter-api/internal/models"
	"github.com/noah-isme/coverletter-api/internal/workflow"
)

// CoverLetterCreateRequest captures a cover letter prepared by the department secretary.
type CoverLetterCreateRequest struct {
	EntryID         string  `json:"entry_id" validate:"omitempty,max=64"`
	StudentID       string  `json:"student_id" validate:"required,max=64"`
	StudentName     string  `json:"student_name" validate:"required,max=128"`
	StudentLastName string  `json:"student_last_name" validate:"required,max=128"`
	Department      string  `json:"department" validate:"required,max=128"`
	GPA             float64 `json:"gpa" validate:"gte=0,lte=4"`
	CreditsEarned   int     `json:"credits_earned" validate:"gte=0"`
	GraduationDate  string  `json:"graduation_date" validate:"required,datetime=2006-01-02"`
	Notes           string  `json:"notes" validate:"omitempty,max=5000"`
}

// CoverLetterResponse serializes a cover letter for API clients.
type CoverLetterResponse struct {
	EntryID                 string         `json:"entry_id"`
	StudentID               string         `json:"student_id"`
	StudentName             string         `json:"student_name"`
	StudentLastName         string         `json:"student_last_name"`
	Department              string         `json:"department"`
	GPA                     float64        `json:"gpa"`
	CreditsEarned           int            `json:"credits_earned"`
	GraduationDate          time.Time      `json:"graduation_date"`
	Notes                   string         `json:"notes"`
	Stage                   workflow.Stage `json:"stage"`
	StageLabel              string         `json:"stage_label"`
	DepartmentChairSigned   bool           `json:"department_chair_signed"`
	DepartmentChairSignedBy *string        `json:"department_chair_signed_by,omitempty"`
	DepartmentChairSignedAt *time.Time     `json:"department_chair_signed_at,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// NewCoverLetterResponse converts a model into a DTO.
func NewCoverLetterResponse(letter models.CoverLetter) CoverLetterResponse {
	return CoverLetterResponse{
		EntryID:                 letter.EntryID,
		StudentID:               letter.StudentID,
		StudentName:             letter.StudentName,
		StudentLastName:         letter.StudentLastName,
		Department:              letter.Department,
		GPA:                     letter.GPA,
		CreditsEarned:           letter.CreditsEarned,
		GraduationDate:          letter.GraduationDate,
		Notes:                   letter.Notes,
		Stage:                   letter.Stage,
		StageLabel:              workflow.Label(letter.Stage),
		DepartmentChairSigned:   letter.DepartmentChairSigned,
		DepartmentChairSignedBy: letter.DepartmentChairSignedBy,
		DepartmentChairSignedAt: letter.DepartmentChairSignedAt,
		CreatedAt:               letter.CreatedAt,
		UpdatedAt:               letter.UpdatedAt,
	}
}

// NewCoverLetterResponseSlice converts a list of models.
func NewCoverLetterResponseSlice(letters []models.CoverLetter) []CoverLetterResponse {
	responses := make([]CoverLetterResponse, 0, len(letters))
	for _, letter := range letters {
		responses = append(responses, NewCoverLetterResponse(letter))
	}
	return responses
}

// CoverLetterQueueResponse is an actor's queue of cover letters awaiting action.
type CoverLetterQueueResponse struct {
	Stage      workflow.Stage        `json:"stage"`
	Department string                `json:"department,omitempty"`
	Count      int                   `json:"count"`
	Items      []CoverLetterResponse `json:"items"`
	CacheHit   bool                  `json:"cache_hit"`
}

// TransitionResponse is returned after a successful sign or advance.
type TransitionResponse struct {
	Message     string              `json:"message"`
	CoverLetter CoverLetterResponse `json:"cover_letter"`
}
