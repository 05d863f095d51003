package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"attendance-portal/internal/attendance"
	"attendance-portal/internal/directory"
)

// WriteMatrix writes one row per student and one column per held lecture
// (date and slot), with P, A or blank cells, followed by the totals.
func WriteMatrix(w io.Writer, records []attendance.Record, students []directory.User) error {
	type column struct {
		date string
		slot int
	}
	records = Dedup(records)
	cols := make(map[column]bool)
	cells := make(map[string]map[column]string)
	for _, r := range records {
		c := column{r.Date, r.LectureSlot}
		cols[c] = true
		if cells[r.StudentID] == nil {
			cells[r.StudentID] = make(map[column]string)
		}
		mark := "A"
		if r.IsPresent {
			mark = "P"
		}
		// two subjects in one slot: either P counts
		if cells[r.StudentID][c] != "P" {
			cells[r.StudentID][c] = mark
		}
	}
	ordered := make([]column, 0, len(cols))
	for c := range cols {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].date != ordered[j].date {
			return ordered[i].date < ordered[j].date
		}
		return ordered[i].slot < ordered[j].slot
	})

	cw := csv.NewWriter(w)
	header := []string{"Roll No", "Name"}
	for _, c := range ordered {
		header = append(header, fmt.Sprintf("%s L%d", c.date, c.slot))
	}
	header = append(header, "Present", "Total", "Percentage")
	if err := cw.Write(header); err != nil {
		return err
	}

	stats := Tally(records, students, Range{})
	for i, st := range students {
		row := []string{st.RollNo, displayName(st)}
		for _, c := range ordered {
			row = append(row, cells[st.ID][c])
		}
		row = append(row, strconv.Itoa(stats[i].Present), strconv.Itoa(stats[i].Total), strconv.Itoa(stats[i].Percentage)+"%")
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary writes one row per student with totals over the range.
func WriteSummary(w io.Writer, records []attendance.Record, students []directory.User, rng Range) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Roll No", "Name", "Present", "Total", "Percentage"}); err != nil {
		return err
	}
	for _, st := range Tally(records, students, rng) {
		if err := cw.Write([]string{
			st.RollNo, st.Name,
			strconv.Itoa(st.Present), strconv.Itoa(st.Total), strconv.Itoa(st.Percentage) + "%",
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
