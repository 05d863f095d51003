// Package marks records mid-semester exam results.
package marks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance-portal/internal/directory"
)

// MidSem identifies one of the three mid-semester tests.
type MidSem string

const (
	MST1 MidSem = "MST1"
	MST2 MidSem = "MST2"
	MST3 MidSem = "MST3"
)

// Valid returns true for the three known exam instances.
func (m MidSem) Valid() bool {
	return m == MST1 || m == MST2 || m == MST3
}

var (
	ErrValidation = errors.New("invalid marks")
	ErrForbidden  = errors.New("not allowed to enter marks for this subject")
)

// Mark is one student's score in one mid-semester test.
type Mark struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	SubjectID     string    `json:"subject_id"`
	FacultyID     string    `json:"faculty_id"`
	MidSemType    MidSem    `json:"mid_sem_type"`
	MarksObtained float64   `json:"marks_obtained"`
	MaxMarks      float64   `json:"max_marks"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists marks. Save upserts on (student, subject, mid-sem type).
type Store interface {
	Save(ctx context.Context, marks []Mark) error
	ListBySubject(ctx context.Context, subjectID string, midSem MidSem) ([]Mark, error)
	ListByStudent(ctx context.Context, studentID string) ([]Mark, error)
}

// Assignments lists the classes a faculty member teaches.
type Assignments interface {
	AssignmentsByFaculty(ctx context.Context, facultyID string) ([]directory.FacultyAssignment, error)
}

// Service validates and stores marks.
type Service struct {
	store Store
	authz Assignments
	log   *zap.Logger
}

func NewService(st Store, authz Assignments, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, authz: authz, log: log}
}

// Save records marks for one subject of a branch. Faculty need an assignment
// for the subject; admins may enter marks for anything.
func (s *Service) Save(ctx context.Context, actor directory.User, branchID string, marks []Mark) (int, error) {
	if branchID == "" || len(marks) == 0 {
		return 0, fmt.Errorf("%w: branch and at least one mark required", ErrValidation)
	}
	subjectID := marks[0].SubjectID
	seen := make(map[string]bool, len(marks))
	out := make([]Mark, 0, len(marks))
	for _, m := range marks {
		m.StudentID = strings.TrimSpace(m.StudentID)
		if err := validate(m); err != nil {
			return 0, err
		}
		if m.SubjectID != subjectID {
			return 0, fmt.Errorf("%w: marks span more than one subject", ErrValidation)
		}
		key := m.StudentID + "|" + string(m.MidSemType)
		if seen[key] {
			return 0, fmt.Errorf("%w: %s has two %s entries", ErrValidation, m.StudentID, m.MidSemType)
		}
		seen[key] = true
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.FacultyID = actor.ID
		out = append(out, m)
	}

	switch actor.Role {
	case directory.RoleAdmin:
	case directory.RoleFaculty:
		assignments, err := s.authz.AssignmentsByFaculty(ctx, actor.ID)
		if err != nil {
			return 0, fmt.Errorf("load assignments: %w", err)
		}
		if !directory.TeachesSubject(assignments, branchID, subjectID) {
			return 0, ErrForbidden
		}
	default:
		return 0, ErrForbidden
	}

	if err := s.store.Save(ctx, out); err != nil {
		return 0, fmt.Errorf("save marks: %w", err)
	}
	s.log.Info("marks saved",
		zap.String("actor", actor.ID),
		zap.String("subject", subjectID),
		zap.Int("count", len(out)),
	)
	return len(out), nil
}

func (s *Service) ListBySubject(ctx context.Context, subjectID string, midSem MidSem) ([]Mark, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject required", ErrValidation)
	}
	if midSem != "" && !midSem.Valid() {
		return nil, fmt.Errorf("%w: unknown mid-sem type %q", ErrValidation, midSem)
	}
	return s.store.ListBySubject(ctx, subjectID, midSem)
}

func (s *Service) ListByStudent(ctx context.Context, studentID string) ([]Mark, error) {
	if studentID == "" {
		return nil, fmt.Errorf("%w: student required", ErrValidation)
	}
	return s.store.ListByStudent(ctx, studentID)
}

func validate(m Mark) error {
	switch {
	case m.StudentID == "" || m.SubjectID == "":
		return fmt.Errorf("%w: student and subject required", ErrValidation)
	case !m.MidSemType.Valid():
		return fmt.Errorf("%w: unknown mid-sem type %q", ErrValidation, m.MidSemType)
	case m.MaxMarks <= 0:
		return fmt.Errorf("%w: max marks must be positive", ErrValidation)
	case m.MarksObtained < 0 || m.MarksObtained > m.MaxMarks:
		return fmt.Errorf("%w: %s scored %.2f of %.2f", ErrValidation, m.StudentID, m.MarksObtained, m.MaxMarks)
	}
	return nil
}
