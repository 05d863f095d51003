// Package report derives attendance figures from stored records. Everything
// here is pure: no I/O, and missing reference data never fails a computation.
package report

import (
	"sort"

	"attendance-portal/internal/attendance"
	"attendance-portal/internal/directory"
)

// Unknown labels students and subjects that are not in the reference lists.
const Unknown = "Unknown"

// ExtraLecture labels the pseudo subject coordinators mark extra lectures under.
const ExtraLecture = "Extra lecture"

// Percentage rounds present/total*100 half up. A total of zero yields 0.
func Percentage(present, total int) int {
	if total <= 0 {
		return 0
	}
	return (present*200 + total) / (2 * total)
}

// SubjectStat is a student's attendance in one subject.
type SubjectStat struct {
	SubjectID   string `json:"subject_id"`
	SubjectName string `json:"subject_name"`
	Present     int    `json:"present"`
	Total       int    `json:"total"`
	Percentage  int    `json:"percentage"`
}

// SubjectPercentage counts one student's records for one subject.
func SubjectPercentage(records []attendance.Record, studentID, subjectID string) SubjectStat {
	st := SubjectStat{SubjectID: subjectID}
	for _, r := range Dedup(records) {
		if r.StudentID != studentID || r.SubjectID != subjectID {
			continue
		}
		st.Total++
		if r.IsPresent {
			st.Present++
		}
	}
	st.Percentage = Percentage(st.Present, st.Total)
	return st
}

// Summary is a student's attendance across subjects.
type Summary struct {
	StudentID  string        `json:"student_id"`
	Subjects   []SubjectStat `json:"subjects"`
	Present    int           `json:"present"`
	Total      int           `json:"total"`
	Percentage int           `json:"percentage"`
}

// StudentSummary reports every subject in the reference list, including
// ones with no sessions yet, plus any subject that only appears in the
// records. Extra lectures are labelled ExtraLecture and other unlisted
// subjects Unknown.
func StudentSummary(records []attendance.Record, studentID string, subjects []directory.Subject) Summary {
	names := make(map[string]string, len(subjects))
	order := make([]string, 0, len(subjects))
	for _, s := range subjects {
		if _, dup := names[s.ID]; !dup {
			order = append(order, s.ID)
		}
		names[s.ID] = s.Name
	}

	stats := make(map[string]*SubjectStat)
	var extra []string
	for _, r := range Dedup(records) {
		if r.StudentID != studentID {
			continue
		}
		st, ok := stats[r.SubjectID]
		if !ok {
			st = &SubjectStat{SubjectID: r.SubjectID}
			stats[r.SubjectID] = st
			if _, known := names[r.SubjectID]; !known {
				extra = append(extra, r.SubjectID)
			}
		}
		st.Total++
		if r.IsPresent {
			st.Present++
		}
	}
	sort.Strings(extra)

	sum := Summary{StudentID: studentID}
	for _, id := range append(order, extra...) {
		st := SubjectStat{SubjectID: id}
		if s, ok := stats[id]; ok {
			st = *s
		}
		st.SubjectName = Unknown
		if id == attendance.ExtraSubject {
			st.SubjectName = ExtraLecture
		}
		if name, ok := names[id]; ok && name != "" {
			st.SubjectName = name
		}
		st.Percentage = Percentage(st.Present, st.Total)
		sum.Present += st.Present
		sum.Total += st.Total
		sum.Subjects = append(sum.Subjects, st)
	}
	sum.Percentage = Percentage(sum.Present, sum.Total)
	return sum
}

// Dedup merges record sets, keeping the first record seen for each id.
func Dedup(sets ...[]attendance.Record) []attendance.Record {
	seen := make(map[string]bool)
	var out []attendance.Record
	for _, set := range sets {
		for _, r := range set {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

// Session is one lecture held on a day: a subject in a slot.
type Session struct {
	SubjectID string `json:"subject_id"`
	Slot      int    `json:"slot"`
}

// StudentCompleteness tells whether a student was marked in every session.
type StudentCompleteness struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Attended  int    `json:"attended"`
	Total     int    `json:"total"`
	Complete  bool   `json:"complete"`
}

// Completeness is the admin monitor view for one branch, batch and date.
type Completeness struct {
	Sessions []Session             `json:"sessions"`
	Students []StudentCompleteness `json:"students"`
}

// SessionCompleteness collects the sessions observed in the batch records
// and the branch-wide records of one day, and counts for each student how
// many of them carry a mark for that student. Records seen in both sets are
// counted once.
func SessionCompleteness(batchRecords, branchRecords []attendance.Record, students []directory.User) Completeness {
	merged := Dedup(batchRecords, branchRecords)

	sessions := make(map[Session]bool)
	marked := make(map[string]map[Session]bool)
	for _, r := range merged {
		s := Session{SubjectID: r.SubjectID, Slot: r.LectureSlot}
		sessions[s] = true
		if marked[r.StudentID] == nil {
			marked[r.StudentID] = make(map[Session]bool)
		}
		marked[r.StudentID][s] = true
	}

	out := Completeness{Sessions: make([]Session, 0, len(sessions))}
	for s := range sessions {
		out.Sessions = append(out.Sessions, s)
	}
	sort.Slice(out.Sessions, func(i, j int) bool {
		if out.Sessions[i].Slot != out.Sessions[j].Slot {
			return out.Sessions[i].Slot < out.Sessions[j].Slot
		}
		return out.Sessions[i].SubjectID < out.Sessions[j].SubjectID
	})

	total := len(out.Sessions)
	for _, st := range students {
		attended := len(marked[st.ID])
		out.Students = append(out.Students, StudentCompleteness{
			StudentID: st.ID,
			Name:      displayName(st),
			Attended:  attended,
			Total:     total,
			Complete:  attended == total,
		})
	}
	return out
}

// Comparator picks which side of a threshold FilterByThreshold keeps.
type Comparator string

const (
	AtMost  Comparator = "le"
	AtLeast Comparator = "ge"
)

// Range bounds a date window, inclusive at both ends. Empty bounds are open.
type Range struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Contains reports whether date falls inside the range.
func (r Range) Contains(date string) bool {
	return (r.From == "" || date >= r.From) && (r.To == "" || date <= r.To)
}

// StudentStat is a student's attendance inside a date range.
type StudentStat struct {
	StudentID  string `json:"student_id"`
	Name       string `json:"name"`
	RollNo     string `json:"roll_no,omitempty"`
	Present    int    `json:"present"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
}

// Tally computes every student's attendance over the records inside rng.
func Tally(records []attendance.Record, students []directory.User, rng Range) []StudentStat {
	present := make(map[string]int)
	total := make(map[string]int)
	for _, r := range Dedup(records) {
		if !rng.Contains(r.Date) {
			continue
		}
		total[r.StudentID]++
		if r.IsPresent {
			present[r.StudentID]++
		}
	}
	out := make([]StudentStat, 0, len(students))
	for _, st := range students {
		out = append(out, StudentStat{
			StudentID:  st.ID,
			Name:       displayName(st),
			RollNo:     st.RollNo,
			Present:    present[st.ID],
			Total:      total[st.ID],
			Percentage: Percentage(present[st.ID], total[st.ID]),
		})
	}
	return out
}

// FilterByThreshold keeps the students whose in-range percentage is at most
// (AtMost) or at least (AtLeast) threshold.
func FilterByThreshold(records []attendance.Record, students []directory.User, rng Range, cmp Comparator, threshold int) []StudentStat {
	var out []StudentStat
	for _, st := range Tally(records, students, rng) {
		switch cmp {
		case AtMost:
			if st.Percentage <= threshold {
				out = append(out, st)
			}
		case AtLeast:
			if st.Percentage >= threshold {
				out = append(out, st)
			}
		}
	}
	return out
}

func displayName(u directory.User) string {
	if u.Name == "" {
		return Unknown
	}
	return u.Name
}
