package attendance

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Lecture slots run from first to seventh period.
const (
	MinSlot = 1
	MaxSlot = 7
)

// ExtraSubject is the pseudo subject id of coordinator-marked extra lectures.
const ExtraSubject = "extra"

// DateLayout is the calendar-day format used for every record date.
const DateLayout = "2006-01-02"

var (
	ErrValidation      = errors.New("invalid marking")
	ErrForbidden       = errors.New("not allowed")
	ErrNotFound        = errors.New("attendance not found")
	ErrSaveInFlight    = errors.New("a save for this class is already in progress")
	ErrNoRequester     = errors.New("overwrite requests are not configured")
	ErrForeignConflict = errors.New("slot is owned by another faculty member")
)

// Record is one mark for one student, subject, date and lecture slot.
type Record struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	StudentID   string `json:"student_id"`
	SubjectID   string `json:"subject_id"`
	BranchID    string `json:"branch_id"`
	BatchID     string `json:"batch_id"`
	IsPresent   bool   `json:"is_present"`
	MarkedBy    string `json:"marked_by"`
	Timestamp   int64  `json:"timestamp"`
	LectureSlot int    `json:"lecture_slot"`
	Reason      string `json:"reason,omitempty"`
}

// RecordID is the canonical id for a subject lecture mark. Re-marking the same
// coordinate yields the same id.
func RecordID(date, studentID, subjectID string, slot int) string {
	return date + "_" + studentID + "_" + subjectID + "_" + strconv.Itoa(slot)
}

// ExtraRecordID is the id for extra lectures, which hang off the branch
// rather than a subject assignment.
func ExtraRecordID(branchID, date string, slot int, studentID string) string {
	return "extra_" + branchID + "_" + date + "_" + strconv.Itoa(slot) + "_" + studentID
}

// Coordinate identifies the single record slot a mark may occupy.
type Coordinate struct {
	Date      string
	StudentID string
	SubjectID string
	Slot      int
}

func (r Record) Coordinate() Coordinate {
	return Coordinate{Date: r.Date, StudentID: r.StudentID, SubjectID: r.SubjectID, Slot: r.LectureSlot}
}

// OverwriteKey is the (date, branch, slot) tuple cleared before an approved
// batch is committed.
type OverwriteKey struct {
	Date     string `json:"date"`
	BranchID string `json:"branch_id"`
	Slot     int    `json:"slot"`
}

// Matches reports whether the record sits under the key.
func (k OverwriteKey) Matches(r Record) bool {
	return r.Date == k.Date && r.BranchID == k.BranchID && r.LectureSlot == k.Slot
}

// ValidSlot reports whether slot is a lecture period.
func ValidSlot(slot int) bool {
	return slot >= MinSlot && slot <= MaxSlot
}

// NormalizeDate parses a calendar day and returns it in DateLayout.
func NormalizeDate(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: date required", ErrValidation)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrValidation, s)
	}
	return t.Format(DateLayout), nil
}

// NormalizeOptionalDate is NormalizeDate for filters and range bounds, where
// an empty value means unset.
func NormalizeOptionalDate(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return NormalizeDate(s)
}

// Filter narrows attendance reads. Empty fields do not filter; a BatchID of
// "ALL" behaves like an empty one.
type Filter struct {
	BranchID  string
	BatchID   string
	SubjectID string
	StudentID string
	Date      string
	From      string
	To        string
}

// SortRecords orders records by date, slot, student then id so reads are stable.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.LectureSlot != b.LectureSlot {
			return a.LectureSlot < b.LectureSlot
		}
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		return a.ID < b.ID
	})
}
