package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendance-portal/internal/directory"
)

func (h *Handler) ListBranches(c *gin.Context) {
	branches, err := h.dir.ListBranches(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branches": branches})
}

func (h *Handler) ListBatches(c *gin.Context) {
	batches, err := h.dir.ListBatches(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

func (h *Handler) ListSubjects(c *gin.Context) {
	subjects, err := h.dir.ListSubjects(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

// ListStudents returns the roster of a branch, optionally narrowed to one batch.
func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.dir.ListStudents(c.Request.Context(), c.Param("id"), c.Query("batch_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) MyAssignments(c *gin.Context) {
	list, err := h.dir.AssignmentsByFaculty(c.Request.Context(), session(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": list})
}

func (h *Handler) MyCoordinatorBranches(c *gin.Context) {
	list, err := h.dir.CoordinatorByFaculty(c.Request.Context(), session(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branches": list})
}

func (h *Handler) CreateBranch(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	b, err := h.dir.CreateBranch(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) CreateBatch(c *gin.Context) {
	var req struct {
		BranchID string `json:"branch_id" binding:"required"`
		Name     string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	b, err := h.dir.CreateBatch(c.Request.Context(), req.BranchID, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) CreateSubject(c *gin.Context) {
	var req struct {
		BranchID string `json:"branch_id" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Code     string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.dir.CreateSubject(c.Request.Context(), req.BranchID, req.Name, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) CreateUser(c *gin.Context) {
	var u directory.User
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.dir.CreateUser(c.Request.Context(), u)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) ListFaculty(c *gin.Context) {
	list, err := h.dir.ListFaculty(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"faculty": list})
}

func (h *Handler) AssignFaculty(c *gin.Context) {
	var a directory.FacultyAssignment
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.dir.AssignFaculty(c.Request.Context(), a)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) DeleteAssignment(c *gin.Context) {
	if err := h.dir.DeleteAssignment(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetCoordinator(c *gin.Context) {
	var req struct {
		FacultyID string `json:"faculty_id" binding:"required"`
		BranchID  string `json:"branch_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ca, err := h.dir.SetCoordinator(c.Request.Context(), req.FacultyID, req.BranchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ca)
}
