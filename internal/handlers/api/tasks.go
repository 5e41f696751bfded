package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/batikanor/geoproof/internal/compare"
	"github.com/batikanor/geoproof/internal/taskqueue"
)

// TaskQueue runs comparisons in the background
type TaskQueue interface {
	AddTask(task *taskqueue.CompareTask) error
	GetTask(id string) (taskqueue.CompareTask, error)
	GetAllTasks() []taskqueue.CompareTask
	CancelTask(id string) error
	DeleteTask(id string) error
	GetStatus() taskqueue.QueueStatus
}

type taskBody struct {
	Name     string      `json:"name"`
	Priority int         `json:"priority"`
	Request  compareBody `json:"request"`
}

// CreateTask handles POST /v1/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var body taskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid body: %v", err)})
		return
	}
	req, err := h.compareRequest(body.Request)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := req.BBox.Validate(); err != nil {
		h.fail(c, err)
		return
	}

	task := taskqueue.NewCompareTask(body.Name, req)
	task.Priority = body.Priority
	if err := h.tasks.AddTask(task); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

// ListTasks handles GET /v1/tasks
func (h *Handler) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": h.tasks.GetStatus(),
		"tasks":  h.tasks.GetAllTasks(),
	})
}

// GetTask handles GET /v1/tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.tasks.GetTask(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// CancelTask handles POST /v1/tasks/:id/cancel
func (h *Handler) CancelTask(c *gin.Context) {
	if err := h.tasks.CancelTask(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteTask handles DELETE /v1/tasks/:id
func (h *Handler) DeleteTask(c *gin.Context) {
	if err := h.tasks.DeleteTask(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) compareRequest(body compareBody) (compare.Request, error) {
	before, err := h.resolveSource(body.Before)
	if err != nil {
		return compare.Request{}, err
	}
	after, err := h.resolveSource(body.After)
	if err != nil {
		return compare.Request{}, err
	}
	return compare.Request{
		BBox:              body.BBox,
		Zoom:              body.Zoom,
		Before:            before,
		After:             after,
		Diff:              body.Diff,
		AllowMissingTiles: body.AllowMissingTiles,
	}, nil
}
