package report_test

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-portal/internal/attendance"
	"attendance-portal/internal/directory"
	"attendance-portal/internal/report"
)

func rec(date, student, subject string, slot int, present bool) attendance.Record {
	return attendance.Record{
		ID:          attendance.RecordID(date, student, subject, slot),
		Date:        date,
		StudentID:   student,
		SubjectID:   subject,
		BranchID:    "B1",
		BatchID:     "A",
		IsPresent:   present,
		LectureSlot: slot,
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		present, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 4, 0},
		{4, 4, 100},
		{1, 2, 50},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{3, 8, 38},
		{7, 9, 78},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, report.Percentage(tt.present, tt.total), "%d/%d", tt.present, tt.total)
	}
}

func TestSubjectPercentageWithoutSessions(t *testing.T) {
	records := []attendance.Record{rec("2024-01-10", "s1", "S1", 1, true)}

	got := report.SubjectPercentage(records, "s1", "S2")
	assert.Equal(t, 0, got.Total)
	assert.Equal(t, 0, got.Percentage)

	got = report.SubjectPercentage(records, "s1", "S1")
	assert.Equal(t, 100, got.Percentage)
}

func TestStudentSummary(t *testing.T) {
	records := []attendance.Record{
		rec("2024-01-10", "s1", "S1", 1, true),
		rec("2024-01-10", "s1", "S1", 2, false),
		rec("2024-01-11", "s1", "S1", 1, true),
		rec("2024-01-10", "s1", "GONE", 3, true),
		rec("2024-01-10", "s2", "S1", 1, false),
	}
	subjects := []directory.Subject{{ID: "S1", Name: "Physics"}, {ID: "S2", Name: "Chemistry"}}

	got := report.StudentSummary(records, "s1", subjects)
	require.Len(t, got.Subjects, 3)
	assert.Equal(t, report.SubjectStat{SubjectID: "S1", SubjectName: "Physics", Present: 2, Total: 3, Percentage: 67}, got.Subjects[0])
	assert.Equal(t, report.SubjectStat{SubjectID: "S2", SubjectName: "Chemistry"}, got.Subjects[1])
	assert.Equal(t, report.SubjectStat{SubjectID: "GONE", SubjectName: report.Unknown, Present: 1, Total: 1, Percentage: 100}, got.Subjects[2])
	assert.Equal(t, 3, got.Present)
	assert.Equal(t, 4, got.Total)
	assert.Equal(t, 75, got.Percentage)
}

func TestStudentSummaryNamesExtraLectures(t *testing.T) {
	records := []attendance.Record{
		rec("2024-01-10", "s1", "S1", 1, true),
		rec("2024-01-13", "s1", attendance.ExtraSubject, 7, false),
		rec("2024-01-10", "s1", "GONE", 3, true),
	}
	subjects := []directory.Subject{{ID: "S1", Name: "Physics"}}

	got := report.StudentSummary(records, "s1", subjects)
	require.Len(t, got.Subjects, 3)
	assert.Equal(t, "GONE", got.Subjects[1].SubjectID)
	assert.Equal(t, report.Unknown, got.Subjects[1].SubjectName)
	assert.Equal(t, report.SubjectStat{SubjectID: attendance.ExtraSubject, SubjectName: report.ExtraLecture, Total: 1}, got.Subjects[2])

	// a listed subject keeps its own name
	got = report.StudentSummary(records, "s1", append(subjects, directory.Subject{ID: attendance.ExtraSubject, Name: "Saturday class"}))
	assert.Equal(t, "Saturday class", got.Subjects[1].SubjectName)
}

func TestSessionCompletenessCountsSharedRecordOnce(t *testing.T) {
	shared := rec("2024-01-10", "s1", "S1", 1, true)
	batch := []attendance.Record{shared, rec("2024-01-10", "s2", "S1", 1, false)}
	branch := []attendance.Record{shared, rec("2024-01-10", "s1", "S9", 2, true)}
	students := []directory.User{{ID: "s1", Name: "Ada"}, {ID: "s2", Name: "Ben"}, {ID: "s3"}}

	got := report.SessionCompleteness(batch, branch, students)
	assert.Equal(t, []report.Session{{SubjectID: "S1", Slot: 1}, {SubjectID: "S9", Slot: 2}}, got.Sessions)
	require.Len(t, got.Students, 3)
	assert.Equal(t, report.StudentCompleteness{StudentID: "s1", Name: "Ada", Attended: 2, Total: 2, Complete: true}, got.Students[0])
	assert.Equal(t, report.StudentCompleteness{StudentID: "s2", Name: "Ben", Attended: 1, Total: 2}, got.Students[1])
	assert.Equal(t, report.Unknown, got.Students[2].Name)

	// the shared record adds one session, not two
	alone := report.SessionCompleteness([]attendance.Record{shared}, nil, students[:1])
	both := report.SessionCompleteness([]attendance.Record{shared}, []attendance.Record{shared}, students[:1])
	assert.Equal(t, alone, both)
	assert.Equal(t, 1, both.Students[0].Total)
}

func TestCompletenessWithNoSessions(t *testing.T) {
	got := report.SessionCompleteness(nil, nil, []directory.User{{ID: "s1", Name: "Ada"}})
	assert.Empty(t, got.Sessions)
	assert.True(t, got.Students[0].Complete)
}

func TestDedupKeepsFirst(t *testing.T) {
	a := rec("2024-01-10", "s1", "S1", 1, true)
	b := a
	b.IsPresent = false

	got := report.Dedup([]attendance.Record{a}, []attendance.Record{b, rec("2024-01-10", "s2", "S1", 1, true)})
	require.Len(t, got, 2)
	assert.True(t, got[0].IsPresent)
}

func TestFilterByThreshold(t *testing.T) {
	records := []attendance.Record{
		rec("2024-01-09", "s1", "S1", 1, false), // outside the range
		rec("2024-01-10", "s1", "S1", 1, true),
		rec("2024-01-12", "s1", "S1", 1, true),
		rec("2024-01-10", "s2", "S1", 1, true),
		rec("2024-01-12", "s2", "S1", 1, false),
		rec("2024-01-13", "s2", "S1", 1, true), // outside the range
	}
	students := []directory.User{{ID: "s1", Name: "Ada"}, {ID: "s2", Name: "Ben"}, {ID: "s3", Name: "Cy"}}
	rng := report.Range{From: "2024-01-10", To: "2024-01-12"}

	low := report.FilterByThreshold(records, students, rng, report.AtMost, 75)
	require.Len(t, low, 2)
	assert.Equal(t, "s2", low[0].StudentID)
	assert.Equal(t, 50, low[0].Percentage)
	assert.Equal(t, "s3", low[1].StudentID)

	high := report.FilterByThreshold(records, students, rng, report.AtLeast, 50)
	require.Len(t, high, 2)
	assert.Equal(t, "s1", high[0].StudentID)
	assert.Equal(t, 100, high[0].Percentage)
	assert.Equal(t, 2, high[0].Total)

	// thresholds are inclusive
	assert.Len(t, report.FilterByThreshold(records, students, rng, report.AtMost, 50), 2)
	assert.Empty(t, report.FilterByThreshold(records, students, rng, "eq", 50))
}

func TestWriteMatrix(t *testing.T) {
	records := []attendance.Record{
		rec("2024-01-11", "s1", "S1", 1, true),
		rec("2024-01-10", "s1", "S1", 2, false),
		rec("2024-01-10", "s2", "S1", 2, true),
	}
	students := []directory.User{{ID: "s1", Name: "Ada", RollNo: "R1"}, {ID: "s2", Name: "Ben", RollNo: "R2"}}

	var buf bytes.Buffer
	require.NoError(t, report.WriteMatrix(&buf, records, students))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Roll No", "Name", "2024-01-10 L2", "2024-01-11 L1", "Present", "Total", "Percentage"},
		{"R1", "Ada", "A", "P", "1", "2", "50%"},
		{"R2", "Ben", "P", "", "1", "1", "100%"},
	}, rows)
}

func TestWriteSummaryMatchesOnScreenFigures(t *testing.T) {
	records := []attendance.Record{
		rec("2024-01-10", "s1", "S1", 1, true),
		rec("2024-01-10", "s1", "S1", 2, true),
		rec("2024-01-11", "s1", "S1", 1, false),
	}
	students := []directory.User{{ID: "s1", Name: "Ada", RollNo: "R1"}}

	var buf bytes.Buffer
	require.NoError(t, report.WriteSummary(&buf, records, students, report.Range{}))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)

	onScreen := report.SubjectPercentage(records, "s1", "S1").Percentage
	assert.Equal(t, []string{"R1", "Ada", "2", "3", "67%"}, rows[1])
	assert.Equal(t, "67%", rows[1][4])
	assert.Equal(t, 67, onScreen)
}
