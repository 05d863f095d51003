package attendance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-portal/internal/attendance"
	"attendance-portal/internal/attendance/attendancetest"
	"attendance-portal/internal/directory"
	"attendance-portal/internal/lock"
)

type fakeAuthz struct {
	assignments  map[string][]directory.FacultyAssignment
	coordinators map[string]string // branch -> faculty
	err          error
}

func (f *fakeAuthz) AssignmentsByFaculty(_ context.Context, facultyID string) ([]directory.FacultyAssignment, error) {
	return f.assignments[facultyID], f.err
}

func (f *fakeAuthz) IsCoordinator(_ context.Context, facultyID, branchID string) (bool, error) {
	return f.coordinators[branchID] == facultyID, f.err
}

type fakeRequester struct {
	requests  []attendance.OverwriteRequest
	withdrawn map[string]bool
	err       error
	// failOn makes only that call (1-based) fail with err; zero fails every call.
	failOn int
	calls  int
}

func (f *fakeRequester) RequestOverwrite(_ context.Context, req attendance.OverwriteRequest) (string, error) {
	f.calls++
	if f.err != nil && (f.failOn == 0 || f.failOn == f.calls) {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return "n" + string(rune('0'+len(f.requests))), nil
}

func (f *fakeRequester) WithdrawOverwrite(_ context.Context, id string) error {
	if f.withdrawn == nil {
		f.withdrawn = make(map[string]bool)
	}
	f.withdrawn[id] = true
	return nil
}

// liveSlots lists the slots of the requests that were not withdrawn.
func (f *fakeRequester) liveSlots() []int {
	var slots []int
	for i, r := range f.requests {
		if !f.withdrawn["n"+string(rune('0'+i+1))] {
			slots = append(slots, r.Conflict.Slot)
		}
	}
	return slots
}

var (
	facultyA    = directory.User{ID: "fA", Name: "Asha", Role: directory.RoleFaculty}
	facultyB    = directory.User{ID: "fB", Name: "Bilal", Role: directory.RoleFaculty}
	coordinator = directory.User{ID: "fC", Name: "Chen", Role: directory.RoleFaculty}
	admin       = directory.User{ID: "adm", Name: "Root", Role: directory.RoleAdmin}
)

func newAuthz() *fakeAuthz {
	return &fakeAuthz{
		assignments: map[string][]directory.FacultyAssignment{
			"fA": {{FacultyID: "fA", BranchID: "B1", BatchID: directory.AllBatches, SubjectID: "S1"}},
			"fB": {{FacultyID: "fB", BranchID: "B1", BatchID: directory.AllBatches, SubjectID: "S2"}},
		},
		coordinators: map[string]string{"B1": "fC"},
	}
}

func newService(st *attendancetest.Store, req attendance.OverwriteRequester) *attendance.Service {
	return attendance.NewService(st, newAuthz(), req, lock.NewLocal(time.Minute), nil)
}

func marking(subject string, slots []int, resolution attendance.Resolution, students ...attendance.StudentMark) attendance.Marking {
	return attendance.Marking{
		BranchID:   "B1",
		SubjectID:  subject,
		Date:       day,
		Slots:      slots,
		Students:   students,
		Resolution: resolution,
	}
}

func present(id string) attendance.StudentMark { return attendance.StudentMark{StudentID: id, BatchID: "A", Present: true} }
func absent(id string) attendance.StudentMark  { return attendance.StudentMark{StudentID: id, BatchID: "A"} }

func TestMarkClearSavesDirectly(t *testing.T) {
	st := attendancetest.New()
	svc := newService(st, nil)

	out, err := svc.Mark(context.Background(), facultyA, marking("S1", []int{2, 3}, attendance.ResolveNone, present("s1"), absent("s2")))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusSaved, out.Status)
	assert.Equal(t, 4, out.Saved)

	all := st.All()
	require.Len(t, all, 4)
	for _, r := range all {
		assert.Equal(t, "fA", r.MarkedBy)
		assert.NotZero(t, r.Timestamp)
		assert.Equal(t, attendance.RecordID(r.Date, r.StudentID, r.SubjectID, r.LectureSlot), r.ID)
	}
}

func TestMarkSameCoordinateTwiceKeepsOneRecord(t *testing.T) {
	st := attendancetest.New()
	svc := newService(st, nil)
	ctx := context.Background()

	_, err := svc.Mark(ctx, facultyA, marking("S1", []int{2}, attendance.ResolveNone, present("s1")))
	require.NoError(t, err)

	out, err := svc.Mark(ctx, facultyA, marking("S1", []int{2}, attendance.ResolveNone, absent("s1")))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusNeedsConfirmation, out.Status)
	assert.Equal(t, attendance.KindSelf, out.Conflict.Kind)

	out, err = svc.Mark(ctx, facultyA, marking("S1", []int{2}, attendance.ResolveOverwrite, absent("s1")))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusSaved, out.Status)

	all := st.All()
	require.Len(t, all, 1)
	assert.False(t, all[0].IsPresent)
}

func TestMarkForeignConflictWritesNothing(t *testing.T) {
	st := attendancetest.New(rec("s1", "S1", "fA", 2, true), rec("s2", "S1", "fA", 2, true))
	svc := newService(st, nil)
	before := st.All()

	for _, res := range []attendance.Resolution{attendance.ResolveNone, attendance.ResolveOverwrite} {
		out, err := svc.Mark(context.Background(), facultyB, marking("S2", []int{2}, res, present("s1"), present("s3")))
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusForeignConflict, out.Status)
		require.NotNil(t, out.Conflict.Primary)
		assert.Equal(t, "fA", out.Conflict.Primary.OwnerID)
		assert.Equal(t, "S1", out.Conflict.Primary.SubjectID)
	}
	assert.Equal(t, before, st.All())
}

func TestMarkRequestDefersForeignSlots(t *testing.T) {
	st := attendancetest.New(rec("s1", "S1", "fA", 2, true))
	req := &fakeRequester{}
	svc := newService(st, req)

	out, err := svc.Mark(context.Background(), facultyB, marking("S2", []int{2, 4}, attendance.ResolveRequest, present("s1"), absent("s3")))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPermissionRequested, out.Status)
	assert.Equal(t, []int{2}, out.PendingSlots)
	assert.Equal(t, []string{"n1"}, out.NotificationIDs)
	assert.Equal(t, 2, out.Saved)

	require.Len(t, req.requests, 1)
	r := req.requests[0]
	assert.Equal(t, "fA", r.Conflict.OwnerID)
	assert.Equal(t, 2, r.Conflict.Slot)
	require.Len(t, r.Records, 2)
	for _, pending := range r.Records {
		assert.Equal(t, 2, pending.LectureSlot)
		assert.Equal(t, "S2", pending.SubjectID)
		assert.Zero(t, pending.Timestamp)
	}

	// slot 2 still holds the owner's record, slot 4 was written
	slot2, _ := st.List(context.Background(), attendance.Filter{BranchID: "B1", Date: day})
	var owners []string
	for _, got := range slot2 {
		owners = append(owners, got.MarkedBy+"@"+string(rune('0'+got.LectureSlot)))
	}
	assert.ElementsMatch(t, []string{"fA@2", "fB@4", "fB@4"}, owners)
}

func TestMarkRequestFailureWritesNothing(t *testing.T) {
	st := attendancetest.New(rec("s1", "S1", "fA", 2, true))
	req := &fakeRequester{err: errors.New("target user not found")}
	svc := newService(st, req)

	_, err := svc.Mark(context.Background(), facultyB, marking("S2", []int{2, 4}, attendance.ResolveRequest, present("s1")))
	assert.ErrorIs(t, err, req.err)
	assert.Len(t, st.All(), 1)
}

func TestMarkRequestFailureWithdrawsEarlierRequests(t *testing.T) {
	st := attendancetest.New(rec("s1", "S1", "fA", 2, true), rec("s1", "S1", "fA", 3, true))
	before := st.All()
	req := &fakeRequester{err: errors.New("owner lookup timed out"), failOn: 2}
	svc := newService(st, req)
	m := marking("S2", []int{2, 3, 5}, attendance.ResolveRequest, present("s1"))

	_, err := svc.Mark(context.Background(), facultyB, m)
	assert.ErrorIs(t, err, req.err)
	assert.Equal(t, map[string]bool{"n1": true}, req.withdrawn)
	assert.Empty(t, req.liveSlots())
	assert.Equal(t, before, st.All())

	req.err = nil
	out, err := svc.Mark(context.Background(), facultyB, m)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPermissionRequested, out.Status)
	assert.Equal(t, []int{2, 3}, req.liveSlots())
}

func TestMarkReportsFirstForeignSlot(t *testing.T) {
	st := attendancetest.New(rec("s1", "S2", "fB", 2, true), rec("s1", "S1", "fA", 4, true))
	svc := newService(st, nil)

	out, err := svc.Mark(context.Background(), facultyB, marking("S2", []int{2, 4}, attendance.ResolveNone, present("s1")))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusForeignConflict, out.Status)
	assert.Equal(t, attendance.KindForeign, out.Conflict.Kind)
	require.NotNil(t, out.Conflict.Primary)
	assert.Equal(t, 4, out.Conflict.Primary.Slot)
	assert.Equal(t, "fA", out.Conflict.Primary.OwnerID)
}

func TestMarkRequestWithoutWorkflow(t *testing.T) {
	st := attendancetest.New(rec("s1", "S1", "fA", 2, true))
	svc := newService(st, nil)

	_, err := svc.Mark(context.Background(), facultyB, marking("S2", []int{2}, attendance.ResolveRequest, present("s1")))
	assert.ErrorIs(t, err, attendance.ErrNoRequester)
}

func TestMarkValidation(t *testing.T) {
	st := attendancetest.New()
	svc := newService(st, nil)

	tests := []struct {
		name string
		m    attendance.Marking
	}{
		{name: "no slots", m: marking("S1", nil, attendance.ResolveNone, present("s1"))},
		{name: "slot out of range", m: marking("S1", []int{8}, attendance.ResolveNone, present("s1"))},
		{name: "slot zero", m: marking("S1", []int{0}, attendance.ResolveNone, present("s1"))},
		{name: "no students", m: marking("S1", []int{1}, attendance.ResolveNone)},
		{name: "duplicate student", m: marking("S1", []int{1}, attendance.ResolveNone, present("s1"), absent("s1"))},
		{name: "missing subject", m: marking("", []int{1}, attendance.ResolveNone, present("s1"))},
		{name: "extra subject", m: marking(attendance.ExtraSubject, []int{1}, attendance.ResolveNone, present("s1"))},
		{name: "bad date", m: func() attendance.Marking {
			m := marking("S1", []int{1}, attendance.ResolveNone, present("s1"))
			m.Date = "10/01/2024"
			return m
		}()},
		{name: "unknown resolution", m: marking("S1", []int{1}, "merge", present("s1"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Mark(context.Background(), facultyA, tt.m)
			assert.ErrorIs(t, err, attendance.ErrValidation)
		})
	}
	assert.Empty(t, st.Calls)
}

func TestMarkRequiresAssignment(t *testing.T) {
	svc := newService(attendancetest.New(), nil)

	_, err := svc.Mark(context.Background(), facultyA, marking("S2", []int{1}, attendance.ResolveNone, present("s1")))
	assert.ErrorIs(t, err, attendance.ErrForbidden)

	_, err = svc.Mark(context.Background(), admin, marking("S1", []int{1}, attendance.ResolveNone, present("s1")))
	assert.ErrorIs(t, err, attendance.ErrForbidden)
}

func TestMarkRejectsConcurrentSave(t *testing.T) {
	guard := lock.NewLocal(time.Minute)
	svc := attendance.NewService(attendancetest.New(), newAuthz(), nil, guard, nil)

	release, err := guard.Acquire(context.Background(), "attendance:fA:B1:S1:"+day)
	require.NoError(t, err)
	defer release()

	_, err = svc.Mark(context.Background(), facultyA, marking("S1", []int{1}, attendance.ResolveNone, present("s1")))
	assert.ErrorIs(t, err, attendance.ErrSaveInFlight)
}

func TestMarkSurfacesWriteFailure(t *testing.T) {
	st := attendancetest.New()
	st.FailWrites = errors.New("permission denied")
	svc := newService(st, nil)

	_, err := svc.Mark(context.Background(), facultyA, marking("S1", []int{1}, attendance.ResolveNone, present("s1")))
	assert.ErrorIs(t, err, st.FailWrites)
	assert.Empty(t, st.All())
}

func TestMarkExtraLecture(t *testing.T) {
	st := attendancetest.New()
	svc := newService(st, nil)
	x := attendance.ExtraLecture{BranchID: "B1", Date: day, Slot: 7, Reason: " remedial ", Students: []attendance.StudentMark{present("s1"), absent("s2")}}

	_, err := svc.MarkExtraLecture(context.Background(), facultyA, x)
	assert.ErrorIs(t, err, attendance.ErrForbidden)

	n, err := svc.MarkExtraLecture(context.Background(), coordinator, x)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all := st.All()
	require.Len(t, all, 2)
	assert.Equal(t, attendance.ExtraRecordID("B1", day, 7, "s1"), all[0].ID)
	assert.Equal(t, attendance.ExtraSubject, all[0].SubjectID)
	assert.Equal(t, "remedial", all[0].Reason)

	x.Slot = 9
	_, err = svc.MarkExtraLecture(context.Background(), coordinator, x)
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestBranchDayFlagsMixedSlots(t *testing.T) {
	st := attendancetest.New(
		rec("s1", "S1", "fA", 2, true),
		rec("s2", "S2", "fB", 2, false),
		rec("s1", "S1", "fA", 3, true),
	)
	svc := newService(st, nil)

	_, err := svc.BranchDay(context.Background(), facultyA, "B1", day)
	assert.ErrorIs(t, err, attendance.ErrForbidden)

	slots, err := svc.BranchDay(context.Background(), coordinator, "B1", day)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 2, slots[0].Slot)
	assert.True(t, slots[0].Conflicted)
	assert.Len(t, slots[0].Entries, 2)
	assert.False(t, slots[1].Conflicted)
	assert.Equal(t, 1, slots[1].Entries[0].Present)
}

func TestDeleteRecordsAuthorization(t *testing.T) {
	mine := rec("s1", "S1", "fA", 2, true)
	theirs := rec("s2", "S2", "fB", 2, true)
	ctx := context.Background()

	st := attendancetest.New(mine, theirs)
	svc := newService(st, nil)

	_, err := svc.DeleteRecords(ctx, facultyA, []string{mine.ID, theirs.ID})
	assert.ErrorIs(t, err, attendance.ErrForbidden)
	assert.Len(t, st.All(), 2)

	n, err := svc.DeleteRecords(ctx, facultyA, []string{mine.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.DeleteRecords(ctx, coordinator, []string{theirs.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, st.All())

	_, err = svc.DeleteRecords(ctx, admin, []string{"missing"})
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}

func TestReadsRequireScope(t *testing.T) {
	st := attendancetest.New(rec("s1", "S1", "fA", 2, true))
	svc := newService(st, nil)
	ctx := context.Background()

	_, err := svc.List(ctx, attendance.Filter{})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	got, err := svc.List(ctx, attendance.Filter{BranchID: "B1", BatchID: "ALL", SubjectID: "S1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = svc.StudentRecords(ctx, "s1", "2024-01-01", "2024-01-09")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = svc.BranchAttendance(ctx, "B1", "")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.List(ctx, attendance.Filter{BranchID: "B1", Date: "2024-1-5"})
	assert.ErrorIs(t, err, attendance.ErrValidation)
	_, err = svc.StudentRecords(ctx, "s1", "nope", "")
	assert.ErrorIs(t, err, attendance.ErrValidation)
	_, err = svc.BranchAttendance(ctx, "B1", "2024-02-30")
	assert.ErrorIs(t, err, attendance.ErrValidation)
}
