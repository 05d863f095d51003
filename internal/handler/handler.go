// Package handler exposes the portal over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendance-portal/internal/attendance"
	"attendance-portal/internal/auth"
	"attendance-portal/internal/directory"
	"attendance-portal/internal/marks"
	"attendance-portal/internal/notification"
	"attendance-portal/internal/report"
	"attendance-portal/internal/store"
)

// Directory is the hierarchy store the handlers read and administer.
type Directory interface {
	CreateBranch(ctx context.Context, name string) (directory.Branch, error)
	ListBranches(ctx context.Context) ([]directory.Branch, error)
	CreateBatch(ctx context.Context, branchID, name string) (directory.Batch, error)
	ListBatches(ctx context.Context, branchID string) ([]directory.Batch, error)
	CreateSubject(ctx context.Context, branchID, name, code string) (directory.Subject, error)
	ListSubjects(ctx context.Context, branchID string) ([]directory.Subject, error)
	CreateUser(ctx context.Context, u directory.User) (directory.User, error)
	GetUser(ctx context.Context, id string) (directory.User, error)
	ListStudents(ctx context.Context, branchID, batchID string) ([]directory.User, error)
	ListFaculty(ctx context.Context) ([]directory.User, error)
	AssignFaculty(ctx context.Context, a directory.FacultyAssignment) (directory.FacultyAssignment, error)
	DeleteAssignment(ctx context.Context, id string) error
	AssignmentsByFaculty(ctx context.Context, facultyID string) ([]directory.FacultyAssignment, error)
	AssignmentsByBranch(ctx context.Context, branchID string) ([]directory.FacultyAssignment, error)
	SetCoordinator(ctx context.Context, facultyID, branchID string) (directory.CoordinatorAssignment, error)
	CoordinatorByFaculty(ctx context.Context, facultyID string) ([]directory.CoordinatorAssignment, error)
}

// Handler holds the services behind the routes.
type Handler struct {
	attendance    *attendance.Service
	notifications *notification.Workflow
	marks         *marks.Service
	dir           Directory
	log           *zap.Logger
}

func New(att *attendance.Service, wf *notification.Workflow, mk *marks.Service, dir Directory, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{attendance: att, notifications: wf, marks: mk, dir: dir, log: log}
}

// Register mounts every API route under /v1 behind bearer authentication.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc, extra ...gin.HandlerFunc) {
	v1 := r.Group("/v1", append([]gin.HandlerFunc{authn}, extra...)...)

	v1.GET("/me", h.Me)

	// hierarchy reads
	v1.GET("/branches", h.ListBranches)
	v1.GET("/branches/:id/batches", h.ListBatches)
	v1.GET("/branches/:id/subjects", h.ListSubjects)
	v1.GET("/branches/:id/students", auth.RequireRole(directory.RoleAdmin, directory.RoleFaculty), h.ListStudents)

	faculty := v1.Group("", auth.RequireRole(directory.RoleFaculty, directory.RoleAdmin))
	faculty.GET("/faculty/me/assignments", h.MyAssignments)
	faculty.GET("/faculty/me/coordinator", h.MyCoordinatorBranches)
	faculty.POST("/attendance", h.MarkAttendance)
	faculty.GET("/attendance", h.ListAttendance)
	faculty.DELETE("/attendance", h.DeleteAttendance)
	faculty.POST("/marks", h.SaveMarks)
	faculty.GET("/subjects/:id/marks", h.SubjectMarks)

	coord := faculty.Group("/coordinator/branches/:branch")
	coord.GET("/day", h.BranchDay)
	coord.POST("/extra-lectures", h.MarkExtraLecture)
	coord.GET("/history", h.BranchHistory)
	coord.GET("/export", h.ExportBranch)

	v1.GET("/students/:id/attendance", h.StudentAttendance)
	v1.GET("/students/:id/summary", h.StudentSummary)
	v1.GET("/students/:id/marks", h.StudentMarks)

	v1.GET("/notifications", h.ListNotifications)
	v1.GET("/notifications/unread-count", h.UnreadCount)
	v1.POST("/notifications/:id/resolve", h.ResolveNotification)
	v1.POST("/notifications/:id/read", h.MarkNotificationRead)
	v1.DELETE("/notifications/:id", h.DeleteNotification)
	v1.DELETE("/notifications", h.DeleteAllNotifications)

	admin := v1.Group("/admin", auth.RequireRole(directory.RoleAdmin))
	admin.POST("/branches", h.CreateBranch)
	admin.POST("/batches", h.CreateBatch)
	admin.POST("/subjects", h.CreateSubject)
	admin.POST("/users", h.CreateUser)
	admin.GET("/faculty", h.ListFaculty)
	admin.POST("/assignments", h.AssignFaculty)
	admin.DELETE("/assignments/:id", h.DeleteAssignment)
	admin.POST("/coordinators", h.SetCoordinator)
	admin.GET("/monitor", h.Monitor)
}

// Me returns the caller's session and where the client should land.
func (h *Handler) Me(c *gin.Context) {
	s := session(c)
	c.JSON(http.StatusOK, gin.H{
		"id":     s.UserID,
		"name":   s.Name,
		"role":   s.Role,
		"intent": s.Intent,
		"home":   s.Home(),
	})
}

func session(c *gin.Context) auth.Session {
	s, _ := auth.SessionFrom(c)
	return s
}

func actor(c *gin.Context) directory.User {
	return session(c).User()
}

// canSeeStudent lets students read only their own data.
func canSeeStudent(c *gin.Context, studentID string) bool {
	s := session(c)
	return s.Role != directory.RoleStudent || s.UserID == studentID
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// queryDate reads an optional YYYY-MM-DD query parameter.
func queryDate(c *gin.Context, key string) (string, error) {
	d, err := attendance.NormalizeOptionalDate(c.Query(key))
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// queryRange reads the optional from and to query parameters.
func queryRange(c *gin.Context) (report.Range, error) {
	from, err := queryDate(c, "from")
	if err != nil {
		return report.Range{}, err
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return report.Range{}, err
	}
	if from != "" && to != "" && from > to {
		return report.Range{}, fmt.Errorf("%w: from after to", attendance.ErrValidation)
	}
	return report.Range{From: from, To: to}, nil
}

// fail maps service errors to status codes. Unexpected errors are logged and
// reported without detail.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, attendance.ErrValidation),
		errors.Is(err, notification.ErrValidation),
		errors.Is(err, marks.ErrValidation),
		errors.Is(err, directory.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, attendance.ErrForbidden),
		errors.Is(err, notification.ErrForbidden),
		errors.Is(err, marks.ErrForbidden),
		errors.Is(err, store.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, attendance.ErrNotFound),
		errors.Is(err, notification.ErrNotFound),
		errors.Is(err, notification.ErrTargetNotFound),
		errors.Is(err, directory.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, attendance.ErrSaveInFlight),
		errors.Is(err, notification.ErrBusy),
		errors.Is(err, notification.ErrNotActionable),
		errors.Is(err, directory.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, attendance.ErrNoRequester):
		status = http.StatusNotImplemented
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
