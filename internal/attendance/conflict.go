package attendance

import (
	"context"
	"fmt"
	"sort"
)

// Kind classifies a candidate marking against what is already stored.
type Kind string

const (
	KindClear   Kind = "clear"
	KindSelf    Kind = "self"
	KindForeign Kind = "foreign"
)

// Candidate is the marking batch a faculty member is about to save.
type Candidate struct {
	BranchID   string
	SubjectID  string
	Date       string
	Slots      []int
	StudentIDs []string
	ActorID    string
}

// SlotConflict describes the stored records colliding with a candidate in
// one lecture slot. OwnerID and SubjectID come from the first record that
// is not the actor's own mark for the same subject.
type SlotConflict struct {
	Slot       int      `json:"slot"`
	Kind       Kind     `json:"kind"`
	OwnerID    string   `json:"owner_id"`
	OwnerName  string   `json:"owner_name,omitempty"`
	SubjectID  string   `json:"subject_id"`
	SameOwner  bool     `json:"same_owner"`
	Present    int      `json:"present"`
	Absent     int      `json:"absent"`
	RecordIDs  []string `json:"record_ids"`
	StudentIDs []string `json:"student_ids"`
}

// Report is the detector outcome. Kind and Primary describe the first
// foreign slot, or the first self slot when no slot is foreign; Slots lists
// every conflicting slot in ascending order and CollidingIDs every colliding
// record across them.
type Report struct {
	Kind         Kind           `json:"kind"`
	Primary      *SlotConflict  `json:"primary,omitempty"`
	Slots        []SlotConflict `json:"slots,omitempty"`
	CollidingIDs []string       `json:"colliding_ids,omitempty"`
}

// HasForeign reports whether any slot holds someone else's data or another subject.
func (r Report) HasForeign() bool {
	for _, s := range r.Slots {
		if s.Kind == KindForeign {
			return true
		}
	}
	return false
}

// Slot returns the conflict for one slot, if any.
func (r Report) Slot(slot int) (SlotConflict, bool) {
	for _, s := range r.Slots {
		if s.Slot == slot {
			return s, true
		}
	}
	return SlotConflict{}, false
}

// Detect reads every record of the branch on the candidate date, whatever
// the subject, and classifies the candidate against them. A store failure
// is returned as is; it never degrades to KindClear.
func Detect(ctx context.Context, st Store, c Candidate) (Report, error) {
	existing, err := st.List(ctx, Filter{BranchID: c.BranchID, Date: c.Date})
	if err != nil {
		return Report{}, fmt.Errorf("detect conflicts: %w", err)
	}
	return Classify(existing, c), nil
}

// Classify is the pure part of Detect.
func Classify(existing []Record, c Candidate) Report {
	wanted := make(map[string]bool, len(c.StudentIDs))
	for _, id := range c.StudentIDs {
		wanted[id] = true
	}
	slots := uniqueSlots(c.Slots)

	bySlot := make(map[int][]Record)
	for _, rec := range existing {
		if rec.BranchID != c.BranchID || rec.Date != c.Date || !wanted[rec.StudentID] {
			continue
		}
		bySlot[rec.LectureSlot] = append(bySlot[rec.LectureSlot], rec)
	}

	report := Report{Kind: KindClear}
	for _, slot := range slots {
		colliding := bySlot[slot]
		if len(colliding) == 0 {
			continue
		}
		sc := classifySlot(slot, colliding, c)
		report.Slots = append(report.Slots, sc)
		report.CollidingIDs = append(report.CollidingIDs, sc.RecordIDs...)
	}
	if len(report.Slots) > 0 {
		primary := report.Slots[0]
		for _, sc := range report.Slots {
			if sc.Kind == KindForeign {
				primary = sc
				break
			}
		}
		report.Kind = primary.Kind
		report.Primary = &primary
	}
	return report
}

func classifySlot(slot int, colliding []Record, c Candidate) SlotConflict {
	sort.Slice(colliding, func(i, j int) bool {
		if colliding[i].StudentID != colliding[j].StudentID {
			return colliding[i].StudentID < colliding[j].StudentID
		}
		return colliding[i].ID < colliding[j].ID
	})

	sc := SlotConflict{Slot: slot, Kind: KindSelf, OwnerID: c.ActorID, SubjectID: c.SubjectID, SameOwner: true}
	seenStudent := make(map[string]bool)
	var foreign *Record
	for i := range colliding {
		rec := colliding[i]
		if rec.IsPresent {
			sc.Present++
		} else {
			sc.Absent++
		}
		sc.RecordIDs = append(sc.RecordIDs, rec.ID)
		if !seenStudent[rec.StudentID] {
			seenStudent[rec.StudentID] = true
			sc.StudentIDs = append(sc.StudentIDs, rec.StudentID)
		}
		if rec.MarkedBy != c.ActorID {
			sc.SameOwner = false
		}
		if foreign == nil && (rec.MarkedBy != c.ActorID || rec.SubjectID != c.SubjectID) {
			foreign = &colliding[i]
		}
	}
	if foreign != nil {
		sc.Kind = KindForeign
		sc.OwnerID = foreign.MarkedBy
		sc.SubjectID = foreign.SubjectID
	}
	return sc
}

func uniqueSlots(slots []int) []int {
	seen := make(map[int]bool, len(slots))
	out := make([]int, 0, len(slots))
	for _, s := range slots {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Ints(out)
	return out
}
