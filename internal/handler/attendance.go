package handler

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"attendance-portal/internal/attendance"
	"attendance-portal/internal/directory"
	"attendance-portal/internal/report"
)

type markRequest struct {
	BranchID   string                   `json:"branch_id" binding:"required"`
	SubjectID  string                   `json:"subject_id" binding:"required"`
	Date       string                   `json:"date" binding:"required"`
	Slots      []int                    `json:"slots" binding:"required,min=1"`
	Students   []attendance.StudentMark `json:"students" binding:"required,min=1"`
	Resolution attendance.Resolution    `json:"resolution"`
	Reason     string                   `json:"reason"`
}

// MarkAttendance saves a marking batch. Conflicts are answered with 409 and
// the conflict report; deferred slots with 202.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.attendance.Mark(c.Request.Context(), actor(c), attendance.Marking{
		BranchID:   req.BranchID,
		SubjectID:  req.SubjectID,
		Date:       req.Date,
		Slots:      req.Slots,
		Students:   req.Students,
		Resolution: req.Resolution,
		Reason:     req.Reason,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	switch out.Status {
	case attendance.StatusNeedsConfirmation, attendance.StatusForeignConflict:
		status = http.StatusConflict
	case attendance.StatusPermissionRequested:
		status = http.StatusAccepted
	}
	c.JSON(status, out)
}

func (h *Handler) ListAttendance(c *gin.Context) {
	date, err := queryDate(c, "date")
	if err != nil {
		h.fail(c, err)
		return
	}
	records, err := h.attendance.List(c.Request.Context(), attendance.Filter{
		BranchID:  c.Query("branch_id"),
		BatchID:   c.Query("batch_id"),
		SubjectID: c.Query("subject_id"),
		Date:      date,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) DeleteAttendance(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.attendance.DeleteRecords(c.Request.Context(), actor(c), req.IDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) BranchDay(c *gin.Context) {
	slots, err := h.attendance.BranchDay(c.Request.Context(), actor(c), c.Param("branch"), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

func (h *Handler) MarkExtraLecture(c *gin.Context) {
	var req attendance.ExtraLecture
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.BranchID = c.Param("branch")
	n, err := h.attendance.MarkExtraLecture(c.Request.Context(), actor(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"saved": n})
}

// BranchHistory lists the students of a branch whose attendance over a date
// range is at most or at least a threshold.
func (h *Handler) BranchHistory(c *gin.Context) {
	ctx := c.Request.Context()
	branchID := c.Param("branch")
	if err := h.attendance.RequireCoordinator(ctx, actor(c), branchID); err != nil {
		h.fail(c, err)
		return
	}
	threshold, err := strconv.Atoi(c.DefaultQuery("threshold", "75"))
	if err != nil {
		badRequest(c, err)
		return
	}
	cmp := report.Comparator(c.DefaultQuery("cmp", string(report.AtMost)))
	if cmp != report.AtMost && cmp != report.AtLeast {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cmp must be le or ge"})
		return
	}
	rng, err := queryRange(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	records, students, err := h.branchData(c, branchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": report.FilterByThreshold(records, students, rng, cmp, threshold)})
}

// ExportBranch sends a CSV: the wide per-lecture matrix, or the compact summary.
func (h *Handler) ExportBranch(c *gin.Context) {
	ctx := c.Request.Context()
	branchID := c.Param("branch")
	if err := h.attendance.RequireCoordinator(ctx, actor(c), branchID); err != nil {
		h.fail(c, err)
		return
	}
	rng, err := queryRange(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	records, students, err := h.branchData(c, branchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	inRange := records[:0:0]
	for _, r := range records {
		if rng.Contains(r.Date) {
			inRange = append(inRange, r)
		}
	}

	format := c.DefaultQuery("format", "summary")
	h.sendCSV(c, "attendance-"+format+".csv", func(w io.Writer) error {
		if format == "matrix" {
			return report.WriteMatrix(w, inRange, students)
		}
		return report.WriteSummary(w, inRange, students, rng)
	})
}

// sendCSV renders the whole file before answering, so a write error still
// gets a clean JSON error response.
func (h *Handler) sendCSV(c *gin.Context, filename string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

// branchData loads the records and students a branch report works on,
// narrowed by the optional subject_id and batch_id query parameters.
func (h *Handler) branchData(c *gin.Context, branchID string) ([]attendance.Record, []directory.User, error) {
	ctx := c.Request.Context()
	batchID := c.Query("batch_id")
	records, err := h.attendance.List(ctx, attendance.Filter{
		BranchID:  branchID,
		BatchID:   batchID,
		SubjectID: c.Query("subject_id"),
	})
	if err != nil {
		return nil, nil, err
	}
	students, err := h.dir.ListStudents(ctx, branchID, batchID)
	if err != nil {
		return nil, nil, err
	}
	return records, students, nil
}

// StudentAttendance returns a student's records with per-subject figures.
func (h *Handler) StudentAttendance(c *gin.Context) {
	studentID := c.Param("id")
	if !canSeeStudent(c, studentID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	rng, err := queryRange(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	records, err := h.attendance.StudentRecords(c.Request.Context(), studentID, rng.From, rng.To)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) StudentSummary(c *gin.Context) {
	ctx := c.Request.Context()
	studentID := c.Param("id")
	if !canSeeStudent(c, studentID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	rng, err := queryRange(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	student, err := h.dir.GetUser(ctx, studentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	records, err := h.attendance.StudentRecords(ctx, studentID, rng.From, rng.To)
	if err != nil {
		h.fail(c, err)
		return
	}
	subjects, err := h.dir.ListSubjects(ctx, student.BranchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report.StudentSummary(records, studentID, subjects))
}

// Monitor reports, for one branch, batch and date, which students were
// marked in every lecture held that day.
func (h *Handler) Monitor(c *gin.Context) {
	ctx := c.Request.Context()
	branchID, batchID := c.Query("branch_id"), c.Query("batch_id")
	if branchID == "" || batchID == "" || c.Query("date") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "branch_id, batch_id and date required"})
		return
	}
	date, err := queryDate(c, "date")
	if err != nil {
		h.fail(c, err)
		return
	}
	batchRecords, err := h.attendance.List(ctx, attendance.Filter{BranchID: branchID, BatchID: batchID, Date: date})
	if err != nil {
		h.fail(c, err)
		return
	}
	dayRecords, err := h.attendance.BranchAttendance(ctx, branchID, date)
	if err != nil {
		h.fail(c, err)
		return
	}
	assignments, err := h.dir.AssignmentsByBranch(ctx, branchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	branchWide := make(map[string]bool)
	for _, a := range assignments {
		if a.BatchID == directory.AllBatches {
			branchWide[a.SubjectID] = true
		}
	}
	var branchRecords []attendance.Record
	for _, r := range dayRecords {
		if branchWide[r.SubjectID] {
			branchRecords = append(branchRecords, r)
		}
	}
	students, err := h.dir.ListStudents(ctx, branchID, batchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report.SessionCompleteness(batchRecords, branchRecords, students))
}
