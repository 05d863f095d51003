package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"attendance-portal/internal/directory"
	"attendance-portal/internal/lock"
	"attendance-portal/internal/metrics"
)

// Authorizer answers the scoping questions the marking flow asks of the hierarchy.
type Authorizer interface {
	AssignmentsByFaculty(ctx context.Context, facultyID string) ([]directory.FacultyAssignment, error)
	IsCoordinator(ctx context.Context, facultyID, branchID string) (bool, error)
}

// OverwriteRequest asks the owner of a conflicting slot for permission to
// replace it with Records.
type OverwriteRequest struct {
	Conflict  SlotConflict
	Date      string
	BranchID  string
	SubjectID string
	Records   []Record
	Requester directory.User
	Reason    string
}

// OverwriteRequester hands a foreign conflict over to the approval workflow
// and returns the id of the request it created. WithdrawOverwrite removes a
// request that has not been acted on yet.
type OverwriteRequester interface {
	RequestOverwrite(ctx context.Context, req OverwriteRequest) (string, error)
	WithdrawOverwrite(ctx context.Context, id string) error
}

// Resolution is how the caller wants detected conflicts handled.
type Resolution string

const (
	// ResolveNone saves only when there is nothing to collide with.
	ResolveNone Resolution = ""
	// ResolveOverwrite replaces the caller's own earlier marks.
	ResolveOverwrite Resolution = "overwrite"
	// ResolveRequest asks the owners of foreign slots for permission and
	// saves the remaining slots directly.
	ResolveRequest Resolution = "request"
)

// StudentMark is one student's presence in a marking batch.
type StudentMark struct {
	StudentID string `json:"student_id"`
	BatchID   string `json:"batch_id"`
	Present   bool   `json:"present"`
}

// Marking is a faculty member's attendance submission for one class.
type Marking struct {
	BranchID   string        `json:"branch_id"`
	SubjectID  string        `json:"subject_id"`
	Date       string        `json:"date"`
	Slots      []int         `json:"slots"`
	Students   []StudentMark `json:"students"`
	Resolution Resolution    `json:"resolution"`
	Reason     string        `json:"reason,omitempty"`
}

// Status summarises what Mark did.
type Status string

const (
	StatusSaved               Status = "saved"
	StatusNeedsConfirmation   Status = "needs_confirmation"
	StatusForeignConflict     Status = "foreign_conflict"
	StatusPermissionRequested Status = "permission_requested"
)

// Outcome is the result of a marking attempt.
type Outcome struct {
	Status          Status   `json:"status"`
	Saved           int      `json:"saved"`
	Conflict        *Report  `json:"conflict,omitempty"`
	NotificationIDs []string `json:"notification_ids,omitempty"`
	PendingSlots    []int    `json:"pending_slots,omitempty"`
}

// Service coordinates attendance marking, conflict handling and the
// coordinator tools.
type Service struct {
	store     Store
	authz     Authorizer
	requester OverwriteRequester
	guard     lock.Guard
	log       *zap.Logger
	now       func() time.Time
}

// NewService creates a service backed by a store. requester may be nil, in
// which case ResolveRequest fails with ErrNoRequester.
func NewService(st Store, authz Authorizer, requester OverwriteRequester, guard lock.Guard, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if guard == nil {
		guard = lock.NewLocal(30 * time.Second)
	}
	return &Service{store: st, authz: authz, requester: requester, guard: guard, log: log, now: time.Now}
}

// Mark validates and saves a marking batch, running it through the
// conflict detector first.
func (s *Service) Mark(ctx context.Context, actor directory.User, m Marking) (Outcome, error) {
	m, err := normalizeMarking(m)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.authorizeMarking(ctx, actor, m); err != nil {
		return Outcome{}, err
	}

	release, err := s.guard.Acquire(ctx, "attendance:"+actor.ID+":"+m.BranchID+":"+m.SubjectID+":"+m.Date)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return Outcome{}, ErrSaveInFlight
		}
		return Outcome{}, fmt.Errorf("acquire save guard: %w", err)
	}
	defer release()

	report, err := Detect(ctx, s.store, Candidate{
		BranchID:   m.BranchID,
		SubjectID:  m.SubjectID,
		Date:       m.Date,
		Slots:      m.Slots,
		StudentIDs: studentIDs(m.Students),
		ActorID:    actor.ID,
	})
	if err != nil {
		return Outcome{}, err
	}
	metrics.Conflicts.WithLabelValues(string(report.Kind)).Inc()

	stamp := s.now().UnixMilli()
	if report.Kind == KindClear {
		records := buildRecords(m, actor.ID, m.Slots, stamp)
		if err := s.store.Upsert(ctx, records); err != nil {
			return Outcome{}, fmt.Errorf("save attendance: %w", err)
		}
		s.saved("direct", m, len(records))
		return Outcome{Status: StatusSaved, Saved: len(records)}, nil
	}

	switch m.Resolution {
	case ResolveOverwrite:
		if report.HasForeign() {
			return Outcome{Status: StatusForeignConflict, Conflict: &report}, nil
		}
		records := buildRecords(m, actor.ID, m.Slots, stamp)
		if err := s.store.Replace(ctx, report.CollidingIDs, records); err != nil {
			return Outcome{}, fmt.Errorf("overwrite attendance: %w", err)
		}
		s.saved("overwrite", m, len(records))
		return Outcome{Status: StatusSaved, Saved: len(records)}, nil

	case ResolveRequest:
		return s.requestForeign(ctx, actor, m, report, stamp)

	default:
		if report.HasForeign() {
			return Outcome{Status: StatusForeignConflict, Conflict: &report}, nil
		}
		return Outcome{Status: StatusNeedsConfirmation, Conflict: &report}, nil
	}
}

// requestForeign raises one overwrite request per foreign slot and writes
// the other slots straight away.
func (s *Service) requestForeign(ctx context.Context, actor directory.User, m Marking, report Report, stamp int64) (Outcome, error) {
	if !report.HasForeign() {
		records := buildRecords(m, actor.ID, m.Slots, stamp)
		if err := s.store.Replace(ctx, report.CollidingIDs, records); err != nil {
			return Outcome{}, fmt.Errorf("overwrite attendance: %w", err)
		}
		s.saved("overwrite", m, len(records))
		return Outcome{Status: StatusSaved, Saved: len(records)}, nil
	}
	if s.requester == nil {
		return Outcome{}, ErrNoRequester
	}

	out := Outcome{Status: StatusPermissionRequested, Conflict: &report}
	var directSlots []int
	var ownIDs []string
	for _, slot := range m.Slots {
		sc, conflicted := report.Slot(slot)
		if !conflicted || sc.Kind == KindSelf {
			directSlots = append(directSlots, slot)
			if conflicted {
				ownIDs = append(ownIDs, sc.RecordIDs...)
			}
			continue
		}
		// timestamps are stamped when the owner approves
		pending := buildRecords(m, actor.ID, []int{slot}, 0)
		id, err := s.requester.RequestOverwrite(ctx, OverwriteRequest{
			Conflict:  sc,
			Date:      m.Date,
			BranchID:  m.BranchID,
			SubjectID: m.SubjectID,
			Records:   pending,
			Requester: actor,
			Reason:    m.Reason,
		})
		if err != nil {
			err = fmt.Errorf("request overwrite of slot %d: %w", slot, err)
			return Outcome{}, s.withdraw(ctx, out.NotificationIDs, err)
		}
		out.NotificationIDs = append(out.NotificationIDs, id)
		out.PendingSlots = append(out.PendingSlots, slot)
	}

	if len(directSlots) > 0 {
		records := buildRecords(m, actor.ID, directSlots, stamp)
		if err := s.store.Replace(ctx, ownIDs, records); err != nil {
			return Outcome{}, s.withdraw(ctx, out.NotificationIDs, fmt.Errorf("save unconflicted slots: %w", err))
		}
		out.Saved = len(records)
		s.saved("direct", m, len(records))
	}
	s.log.Info("overwrite requested",
		zap.String("actor", actor.ID),
		zap.String("branch", m.BranchID),
		zap.String("date", m.Date),
		zap.Ints("slots", out.PendingSlots),
	)
	return out, nil
}

// withdraw takes back the requests raised by a marking that failed part
// way, so a retry does not leave the owner with duplicates. It returns cause
// joined with any withdrawal failure.
func (s *Service) withdraw(ctx context.Context, ids []string, cause error) error {
	errs := []error{cause}
	for _, id := range ids {
		if err := s.requester.WithdrawOverwrite(ctx, id); err != nil {
			s.log.Error("withdraw overwrite request", zap.String("id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("withdraw request %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) saved(path string, m Marking, n int) {
	metrics.RecordsSaved.WithLabelValues(path).Add(float64(n))
	s.log.Info("attendance saved",
		zap.String("path", path),
		zap.String("branch", m.BranchID),
		zap.String("subject", m.SubjectID),
		zap.String("date", m.Date),
		zap.Int("records", n),
	)
}

func (s *Service) authorizeMarking(ctx context.Context, actor directory.User, m Marking) error {
	if actor.Role != directory.RoleFaculty {
		return fmt.Errorf("%w: only faculty mark attendance", ErrForbidden)
	}
	assignments, err := s.authz.AssignmentsByFaculty(ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	if !directory.CanMark(assignments, m.BranchID, m.SubjectID, batchIDs(m.Students)...) {
		return fmt.Errorf("%w: no assignment covers this class", ErrForbidden)
	}
	return nil
}

// ExtraLecture is a coordinator-marked supplementary session.
type ExtraLecture struct {
	BranchID string        `json:"branch_id"`
	Date     string        `json:"date"`
	Slot     int           `json:"slot"`
	Reason   string        `json:"reason"`
	Students []StudentMark `json:"students"`
}

// MarkExtraLecture records an extra lecture for a branch the actor coordinates.
func (s *Service) MarkExtraLecture(ctx context.Context, actor directory.User, x ExtraLecture) (int, error) {
	date, err := NormalizeDate(x.Date)
	if err != nil {
		return 0, err
	}
	if x.BranchID == "" {
		return 0, fmt.Errorf("%w: branch required", ErrValidation)
	}
	if !ValidSlot(x.Slot) {
		return 0, fmt.Errorf("%w: slot %d outside %d-%d", ErrValidation, x.Slot, MinSlot, MaxSlot)
	}
	students, err := uniqueStudents(x.Students)
	if err != nil {
		return 0, err
	}
	if err := s.requireCoordinator(ctx, actor, x.BranchID); err != nil {
		return 0, err
	}

	release, err := s.guard.Acquire(ctx, "extra:"+x.BranchID+":"+date+":"+fmt.Sprint(x.Slot))
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return 0, ErrSaveInFlight
		}
		return 0, fmt.Errorf("acquire save guard: %w", err)
	}
	defer release()

	stamp := s.now().UnixMilli()
	records := make([]Record, 0, len(students))
	for _, st := range students {
		records = append(records, Record{
			ID:          ExtraRecordID(x.BranchID, date, x.Slot, st.StudentID),
			Date:        date,
			StudentID:   st.StudentID,
			SubjectID:   ExtraSubject,
			BranchID:    x.BranchID,
			BatchID:     st.BatchID,
			IsPresent:   st.Present,
			MarkedBy:    actor.ID,
			Timestamp:   stamp,
			LectureSlot: x.Slot,
			Reason:      strings.TrimSpace(x.Reason),
		})
	}
	if err := s.store.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("save extra lecture: %w", err)
	}
	metrics.RecordsSaved.WithLabelValues("extra").Add(float64(len(records)))
	return len(records), nil
}

// SlotEntry groups the records one faculty member left in a slot for one subject.
type SlotEntry struct {
	SubjectID string   `json:"subject_id"`
	MarkedBy  string   `json:"marked_by"`
	Present   int      `json:"present"`
	Absent    int      `json:"absent"`
	RecordIDs []string `json:"record_ids"`
}

// SlotSummary is the coordinator's view of one lecture slot. Conflicted is
// set when more than one subject or owner wrote into the slot.
type SlotSummary struct {
	Slot       int         `json:"slot"`
	Entries    []SlotEntry `json:"entries"`
	Conflicted bool        `json:"conflicted"`
}

// BranchDay summarises every slot of a branch on a date for its coordinator.
func (s *Service) BranchDay(ctx context.Context, actor directory.User, branchID, date string) ([]SlotSummary, error) {
	date, err := NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	if err := s.requireCoordinator(ctx, actor, branchID); err != nil {
		return nil, err
	}
	records, err := s.store.List(ctx, Filter{BranchID: branchID, Date: date})
	if err != nil {
		return nil, err
	}
	return SummarizeSlots(records), nil
}

// SummarizeSlots groups records by slot, then by (subject, owner).
func SummarizeSlots(records []Record) []SlotSummary {
	type key struct{ subject, owner string }
	bySlot := make(map[int]map[key]*SlotEntry)
	order := make(map[int][]key)
	for _, rec := range records {
		entries, ok := bySlot[rec.LectureSlot]
		if !ok {
			entries = make(map[key]*SlotEntry)
			bySlot[rec.LectureSlot] = entries
		}
		k := key{rec.SubjectID, rec.MarkedBy}
		e, ok := entries[k]
		if !ok {
			e = &SlotEntry{SubjectID: rec.SubjectID, MarkedBy: rec.MarkedBy}
			entries[k] = e
			order[rec.LectureSlot] = append(order[rec.LectureSlot], k)
		}
		if rec.IsPresent {
			e.Present++
		} else {
			e.Absent++
		}
		e.RecordIDs = append(e.RecordIDs, rec.ID)
	}

	slots := make([]int, 0, len(bySlot))
	for slot := range bySlot {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	out := make([]SlotSummary, 0, len(slots))
	for _, slot := range slots {
		sum := SlotSummary{Slot: slot}
		for _, k := range order[slot] {
			sum.Entries = append(sum.Entries, *bySlot[slot][k])
		}
		sum.Conflicted = len(sum.Entries) > 1
		out = append(out, sum)
	}
	return out
}

// DeleteRecords hard deletes records. Admins may delete anything, faculty
// their own marks, coordinators anything inside their branch.
func (s *Service) DeleteRecords(ctx context.Context, actor directory.User, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no record ids", ErrValidation)
	}
	records, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, ErrNotFound
	}

	coordinates := make(map[string]bool)
	found := make([]string, 0, len(records))
	for _, rec := range records {
		if actor.Role != directory.RoleAdmin && rec.MarkedBy != actor.ID {
			ok, seen := coordinates[rec.BranchID]
			if !seen {
				if ok, err = s.isCoordinator(ctx, actor, rec.BranchID); err != nil {
					return 0, err
				}
				coordinates[rec.BranchID] = ok
			}
			if !ok {
				return 0, fmt.Errorf("%w: record %s belongs to someone else", ErrForbidden, rec.ID)
			}
		}
		found = append(found, rec.ID)
	}
	if err := s.store.DeleteByIDs(ctx, found); err != nil {
		return 0, fmt.Errorf("delete attendance: %w", err)
	}
	s.log.Info("attendance deleted", zap.String("actor", actor.ID), zap.Int("records", len(found)))
	return len(found), nil
}

// List returns records for a class: branch, batch (or ALL), subject and an optional date.
func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.BranchID == "" {
		return nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	var err error
	for _, d := range []*string{&f.Date, &f.From, &f.To} {
		if *d, err = NormalizeOptionalDate(*d); err != nil {
			return nil, err
		}
	}
	return s.store.List(ctx, f)
}

// BranchAttendance returns every record of a branch, optionally for one date.
func (s *Service) BranchAttendance(ctx context.Context, branchID, date string) ([]Record, error) {
	if branchID == "" {
		return nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	date, err := NormalizeOptionalDate(date)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, Filter{BranchID: branchID, Date: date})
}

// StudentRecords returns a student's records inside an optional inclusive range.
func (s *Service) StudentRecords(ctx context.Context, studentID, from, to string) ([]Record, error) {
	if studentID == "" {
		return nil, fmt.Errorf("%w: student required", ErrValidation)
	}
	from, err := NormalizeOptionalDate(from)
	if err != nil {
		return nil, err
	}
	if to, err = NormalizeOptionalDate(to); err != nil {
		return nil, err
	}
	return s.store.List(ctx, Filter{StudentID: studentID, From: from, To: to})
}

// RequireCoordinator fails with ErrForbidden unless actor coordinates the
// branch. Admins pass for every branch.
func (s *Service) RequireCoordinator(ctx context.Context, actor directory.User, branchID string) error {
	return s.requireCoordinator(ctx, actor, branchID)
}

func (s *Service) requireCoordinator(ctx context.Context, actor directory.User, branchID string) error {
	ok, err := s.isCoordinator(ctx, actor, branchID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not coordinator of branch %s", ErrForbidden, branchID)
	}
	return nil
}

func (s *Service) isCoordinator(ctx context.Context, actor directory.User, branchID string) (bool, error) {
	if actor.Role == directory.RoleAdmin {
		return true, nil
	}
	if actor.Role != directory.RoleFaculty {
		return false, nil
	}
	ok, err := s.authz.IsCoordinator(ctx, actor.ID, branchID)
	if err != nil {
		return false, fmt.Errorf("check coordinator: %w", err)
	}
	return ok, nil
}

func normalizeMarking(m Marking) (Marking, error) {
	if m.BranchID == "" || m.SubjectID == "" {
		return m, fmt.Errorf("%w: branch and subject required", ErrValidation)
	}
	if m.SubjectID == ExtraSubject {
		return m, fmt.Errorf("%w: extra lectures are marked by coordinators", ErrValidation)
	}
	date, err := NormalizeDate(m.Date)
	if err != nil {
		return m, err
	}
	m.Date = date
	if len(m.Slots) == 0 {
		return m, fmt.Errorf("%w: select at least one lecture slot", ErrValidation)
	}
	for _, slot := range m.Slots {
		if !ValidSlot(slot) {
			return m, fmt.Errorf("%w: slot %d outside %d-%d", ErrValidation, slot, MinSlot, MaxSlot)
		}
	}
	m.Slots = uniqueSlots(m.Slots)
	students, err := uniqueStudents(m.Students)
	if err != nil {
		return m, err
	}
	m.Students = students
	switch m.Resolution {
	case ResolveNone, ResolveOverwrite, ResolveRequest:
	default:
		return m, fmt.Errorf("%w: unknown resolution %q", ErrValidation, m.Resolution)
	}
	return m, nil
}

func uniqueStudents(students []StudentMark) ([]StudentMark, error) {
	if len(students) == 0 {
		return nil, fmt.Errorf("%w: no students selected", ErrValidation)
	}
	seen := make(map[string]bool, len(students))
	for _, st := range students {
		if st.StudentID == "" {
			return nil, fmt.Errorf("%w: student id required", ErrValidation)
		}
		if seen[st.StudentID] {
			return nil, fmt.Errorf("%w: student %s listed twice", ErrValidation, st.StudentID)
		}
		seen[st.StudentID] = true
	}
	return students, nil
}

func buildRecords(m Marking, markedBy string, slots []int, stamp int64) []Record {
	records := make([]Record, 0, len(slots)*len(m.Students))
	for _, slot := range slots {
		for _, st := range m.Students {
			records = append(records, Record{
				ID:          RecordID(m.Date, st.StudentID, m.SubjectID, slot),
				Date:        m.Date,
				StudentID:   st.StudentID,
				SubjectID:   m.SubjectID,
				BranchID:    m.BranchID,
				BatchID:     st.BatchID,
				IsPresent:   st.Present,
				MarkedBy:    markedBy,
				Timestamp:   stamp,
				LectureSlot: slot,
				Reason:      m.Reason,
			})
		}
	}
	return records
}

func studentIDs(students []StudentMark) []string {
	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.StudentID)
	}
	return ids
}

func batchIDs(students []StudentMark) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, st := range students {
		if !seen[st.BatchID] {
			seen[st.BatchID] = true
			ids = append(ids, st.BatchID)
		}
	}
	return ids
}
