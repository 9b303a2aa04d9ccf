// Package workflow defines the staged approval pipeline a cover letter moves through
// and which actor role owns each forward edge.
package workflow

import (
	"errors"
	"strings"
)

// Stage is a position in the cover letter approval pipeline.
type Stage string

const (
	StagePendingDepartmentChair  Stage = "PENDING_DEPARTMENT_CHAIR"
	StagePendingFacultySecretary Stage = "PENDING_FACULTY_SECRETARY"
	StagePendingStudentAffairs   Stage = "PENDING_STUDENT_AFFAIRS"
	StageCompleted               Stage = "COMPLETED"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StagePendingDepartmentChair,
	StagePendingFacultySecretary,
	StagePendingStudentAffairs,
	StageCompleted,
}

// Index returns the position of the stage in the pipeline, or -1 for unknown values.
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether the stage is part of the pipeline.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Terminal reports whether no further transition can leave the stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted
}

// Next returns the stage that follows s. ok is false for terminal or unknown stages.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(Stages) {
		return "", false
	}
	return Stages[idx+1], true
}

// AtOrPast reports whether s has reached other in the pipeline.
func (s Stage) AtOrPast(other Stage) bool {
	return s.Valid() && s.Index() >= other.Index()
}

func (s Stage) String() string {
	return string(s)
}

// Role identifies the class of actor allowed to perform a transition.
type Role string

const (
	RoleDepartmentSecretary Role = "DEPARTMENT_SECRETARY"
	RoleDepartmentChair     Role = "DEPARTMENT_CHAIR"
	RoleFacultySecretary    Role = "FACULTY_SECRETARY"
	RoleStudentAffairs      Role = "STUDENT_AFFAIRS"
	RoleAdmin               Role = "ADMIN"
)

var knownRoles = []Role{
	RoleDepartmentSecretary,
	RoleDepartmentChair,
	RoleFacultySecretary,
	RoleStudentAffairs,
	RoleAdmin,
}

// ParseRole normalises role claims such as "department_chair", "Department Chair"
// or "department-chair". Unknown values yield an empty role.
func ParseRole(value string) Role {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	for _, role := range knownRoles {
		if string(role) == normalized {
			return role
		}
	}
	return ""
}

func (r Role) String() string {
	return string(r)
}

// Transition is a single forward edge of the pipeline.
type Transition struct {
	From   Stage
	To     Stage
	Role   Role
	Action string
}

// Transitions is the full lifecycle. Each role owns at most one edge.
var Transitions = []Transition{
	{From: StagePendingDepartmentChair, To: StagePendingFacultySecretary, Role: RoleDepartmentChair, Action: "sign"},
	{From: StagePendingFacultySecretary, To: StagePendingStudentAffairs, Role: RoleFacultySecretary, Action: "forward"},
	{From: StagePendingStudentAffairs, To: StageCompleted, Role: RoleStudentAffairs, Action: "complete"},
}

var (
	// ErrRoleHasNoTransition indicates the role owns no edge of the pipeline.
	ErrRoleHasNoTransition = errors.New("role owns no transition")
	// ErrStageMismatch indicates the document is not at the stage the role acts on.
	ErrStageMismatch = errors.New("document is not at the expected stage")
)

// TransitionFor returns the edge owned by role.
func TransitionFor(role Role) (Transition, bool) {
	for _, t := range Transitions {
		if t.Role == role {
			return t, true
		}
	}
	return Transition{}, false
}

// QueueStage returns the stage whose documents make up the role's work queue.
func QueueStage(role Role) (Stage, bool) {
	if role == RoleDepartmentSecretary {
		return StagePendingDepartmentChair, true
	}
	t, ok := TransitionFor(role)
	if !ok {
		return "", false
	}
	return t.From, true
}

// Validate checks that role may move a document out of from and returns the edge.
func Validate(from Stage, role Role) (Transition, error) {
	t, ok := TransitionFor(role)
	if !ok {
		return Transition{}, ErrRoleHasNoTransition
	}
	if from != t.From {
		return Transition{}, ErrStageMismatch
	}
	return t, nil
}

// Label returns the badge text shown for a stage on the department chair dashboard.
func Label(stage Stage) string {
	switch stage {
	case StagePendingDepartmentChair:
		return "Pending Your Signature"
	case StagePendingFacultySecretary:
		return "Sent to Faculty Secretary"
	case StagePendingStudentAffairs:
		return "At Student Affairs"
	case StageCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// OwnerOf returns the role that acts on documents sitting at stage.
func OwnerOf(stage Stage) (Role, bool) {
	for _, t := range Transitions {
		if t.From == stage {
			return t.Role, true
		}
	}
	return "", false
}
