package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendance-portal/internal/marks"
)

func (h *Handler) SaveMarks(c *gin.Context) {
	var req struct {
		BranchID string       `json:"branch_id" binding:"required"`
		Marks    []marks.Mark `json:"marks" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.marks.Save(c.Request.Context(), actor(c), req.BranchID, req.Marks)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": n})
}

func (h *Handler) SubjectMarks(c *gin.Context) {
	list, err := h.marks.ListBySubject(c.Request.Context(), c.Param("id"), marks.MidSem(c.Query("mid_sem")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marks": list})
}

func (h *Handler) StudentMarks(c *gin.Context) {
	studentID := c.Param("id")
	if !canSeeStudent(c, studentID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	list, err := h.marks.ListByStudent(c.Request.Context(), studentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marks": list})
}
