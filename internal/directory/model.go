package directory

import (
	"errors"
	"time"
)

// Role is the account type of a portal user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleFaculty Role = "faculty"
	RoleStudent Role = "student"
)

// Valid returns true when the role is a supported value.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFaculty, RoleStudent:
		return true
	default:
		return false
	}
}

// AllBatches is the batch id used by assignments that cover every batch of a branch.
const AllBatches = "ALL"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid input")
	ErrDuplicate  = errors.New("already exists")
)

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Batch struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branch_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Subject struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branch_id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// User is any portal account. BranchID/BatchID are only set for students.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	BranchID  string    `json:"branch_id,omitempty"`
	BatchID   string    `json:"batch_id,omitempty"`
	RollNo    string    `json:"roll_no,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FacultyAssignment grants a faculty member write authority over a subject
// for one batch of a branch, or every batch when BatchID is AllBatches.
type FacultyAssignment struct {
	ID        string    `json:"id"`
	FacultyID string    `json:"faculty_id"`
	BranchID  string    `json:"branch_id"`
	BatchID   string    `json:"batch_id"`
	SubjectID string    `json:"subject_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CoordinatorAssignment makes a faculty member coordinator of a branch.
type CoordinatorAssignment struct {
	FacultyID string    `json:"faculty_id"`
	BranchID  string    `json:"branch_id"`
	CreatedAt time.Time `json:"created_at"`
}
