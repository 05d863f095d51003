package attendance_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-portal/internal/attendance"
	"attendance-portal/internal/attendance/attendancetest"
)

const day = "2024-01-10"

func rec(student, subject, owner string, slot int, present bool) attendance.Record {
	return attendance.Record{
		ID:          attendance.RecordID(day, student, subject, slot),
		Date:        day,
		StudentID:   student,
		SubjectID:   subject,
		BranchID:    "B1",
		BatchID:     "A",
		IsPresent:   present,
		MarkedBy:    owner,
		Timestamp:   1,
		LectureSlot: slot,
	}
}

func candidate(actor, subject string, slots []int, students ...string) attendance.Candidate {
	return attendance.Candidate{
		BranchID:   "B1",
		SubjectID:  subject,
		Date:       day,
		Slots:      slots,
		StudentIDs: students,
		ActorID:    actor,
	}
}

func TestClassify(t *testing.T) {
	existing := []attendance.Record{
		rec("s1", "S1", "fA", 2, true),
		rec("s2", "S1", "fA", 2, false),
		rec("s1", "S1", "fB", 3, true),
		rec("s4", "S3", "fB", 4, true),
	}

	tests := []struct {
		name      string
		c         attendance.Candidate
		wantKind  attendance.Kind
		wantOwner string
		wantSubj  string
		wantSame  bool
		wantSlots int
	}{
		{name: "different students", c: candidate("fB", "S2", []int{2}, "s3"), wantKind: attendance.KindClear},
		{name: "untouched slot", c: candidate("fA", "S1", []int{5}, "s1", "s2"), wantKind: attendance.KindClear},
		{name: "own marks same subject", c: candidate("fA", "S1", []int{2}, "s1", "s2"), wantKind: attendance.KindSelf, wantOwner: "fA", wantSubj: "S1", wantSame: true, wantSlots: 1},
		{name: "other owner", c: candidate("fB", "S2", []int{2}, "s1", "s3"), wantKind: attendance.KindForeign, wantOwner: "fA", wantSubj: "S1", wantSlots: 1},
		{name: "own marks other subject", c: candidate("fA", "S9", []int{2}, "s1"), wantKind: attendance.KindForeign, wantOwner: "fA", wantSubj: "S1", wantSame: true, wantSlots: 1},
		{name: "later foreign slot outranks own slot", c: candidate("fA", "S1", []int{3, 2}, "s1"), wantKind: attendance.KindForeign, wantOwner: "fB", wantSubj: "S1", wantSlots: 2},
		{name: "own other-subject slot after own slot", c: candidate("fB", "S1", []int{4, 3}, "s1", "s4"), wantKind: attendance.KindForeign, wantOwner: "fB", wantSubj: "S3", wantSame: true, wantSlots: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := attendance.Classify(existing, tt.c)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Len(t, got.Slots, tt.wantSlots)
			if tt.wantKind == attendance.KindClear {
				assert.Nil(t, got.Primary)
				assert.Empty(t, got.CollidingIDs)
				return
			}
			require.NotNil(t, got.Primary)
			assert.Equal(t, tt.wantOwner, got.Primary.OwnerID)
			assert.Equal(t, tt.wantSubj, got.Primary.SubjectID)
			assert.Equal(t, tt.wantSame, got.Primary.SameOwner)
		})
	}
}

func TestClassifyCountsEveryCollidingRecord(t *testing.T) {
	existing := []attendance.Record{
		rec("s1", "S1", "fA", 2, true),
		rec("s2", "S1", "fA", 2, false),
		rec("s3", "S1", "fA", 2, false),
		rec("s9", "S1", "fA", 2, true), // not in the candidate
	}
	got := attendance.Classify(existing, candidate("fB", "S2", []int{2}, "s1", "s2", "s3"))

	require.NotNil(t, got.Primary)
	assert.Equal(t, 1, got.Primary.Present)
	assert.Equal(t, 2, got.Primary.Absent)
	assert.Equal(t, []string{"s1", "s2", "s3"}, got.Primary.StudentIDs)
	assert.Len(t, got.CollidingIDs, 3)
}

func TestClassifyCollectsIDsAcrossSlots(t *testing.T) {
	existing := []attendance.Record{
		rec("s1", "S1", "fA", 1, true),
		rec("s1", "S1", "fA", 2, true),
		rec("s1", "S2", "fB", 3, true),
	}
	got := attendance.Classify(existing, candidate("fA", "S1", []int{1, 2, 3}, "s1"))

	assert.Equal(t, attendance.KindForeign, got.Kind)
	assert.True(t, got.HasForeign())
	require.NotNil(t, got.Primary)
	assert.Equal(t, 3, got.Primary.Slot)
	assert.ElementsMatch(t, []string{
		attendance.RecordID(day, "s1", "S1", 1),
		attendance.RecordID(day, "s1", "S1", 2),
		attendance.RecordID(day, "s1", "S2", 3),
	}, got.CollidingIDs)

	third, ok := got.Slot(3)
	require.True(t, ok)
	assert.Equal(t, attendance.KindForeign, third.Kind)
	assert.Equal(t, "fB", third.OwnerID)
}

func TestClassifyIgnoresOtherBranchesAndDates(t *testing.T) {
	other := rec("s1", "S1", "fA", 2, true)
	other.BranchID = "B2"
	earlier := rec("s1", "S1", "fA", 2, true)
	earlier.Date = "2024-01-09"

	got := attendance.Classify([]attendance.Record{other, earlier}, candidate("fB", "S1", []int{2}, "s1"))
	assert.Equal(t, attendance.KindClear, got.Kind)
}

// Every candidate lands in exactly one class, and clear means no intersection.
func TestClassifyPartitions(t *testing.T) {
	existing := []attendance.Record{
		rec("s1", "S1", "fA", 1, true),
		rec("s2", "S2", "fB", 1, true),
		rec("s3", "S1", "fA", 2, false),
	}
	actors := []string{"fA", "fB", "fC"}
	subjects := []string{"S1", "S2"}
	studentSets := [][]string{{"s1"}, {"s2"}, {"s3"}, {"s1", "s2"}, {"s4"}}
	slotSets := [][]int{{1}, {2}, {1, 2}, {3}}

	for _, actor := range actors {
		for _, subject := range subjects {
			for _, students := range studentSets {
				for _, slots := range slotSets {
					got := attendance.Classify(existing, candidate(actor, subject, slots, students...))
					switch got.Kind {
					case attendance.KindClear:
						assert.Empty(t, got.CollidingIDs)
						assert.Empty(t, got.Slots)
					case attendance.KindSelf, attendance.KindForeign:
						assert.NotEmpty(t, got.CollidingIDs)
						assert.Equal(t, got.HasForeign(), got.Kind == attendance.KindForeign)
						require.NotNil(t, got.Primary)
						assert.Equal(t, got.Kind, got.Primary.Kind)
					default:
						t.Fatalf("unexpected kind %q", got.Kind)
					}
				}
			}
		}
	}
}

func TestDetectSurfacesStoreFailure(t *testing.T) {
	st := attendancetest.New()
	st.Err = errors.New("store unavailable")

	_, err := attendance.Detect(context.Background(), st, candidate("fA", "S1", []int{1}, "s1"))
	assert.ErrorIs(t, err, st.Err)
}
