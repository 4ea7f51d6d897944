package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskengine/internal/app"
	"taskengine/pkg/engerrors"
	"taskengine/pkg/execution"
)

type handlers struct {
	app *app.App
}

type resumeRequest struct {
	Inputs []struct {
		StepID string      `json:"stepId"`
		Field  string      `json:"field"`
		Value  interface{} `json:"value"`
	} `json:"inputs"`
}

func (h *handlers) execute(c *gin.Context) {
	taskID := c.Param("id")
	result, err := h.app.TaskExec.ExecuteTask(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": result.TaskID, "status": result.Status})
}

func (h *handlers) resume(c *gin.Context) {
	taskID := c.Param("id")

	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inputs := make([]execution.ResumeInput, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		inputs = append(inputs, execution.ResumeInput{StepID: in.StepID, Field: in.Field, Value: in.Value})
	}

	result, err := h.app.TaskExec.ResumeTask(c.Request.Context(), taskID, inputs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": result.TaskID, "status": result.Status})
}

func (h *handlers) show(c *gin.Context) {
	taskID := c.Param("id")
	t, err := h.app.Repo.FindTask(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// writeError maps the engine's typed errors onto HTTP status codes so
// integrators get something more useful than a bare 500 for the common
// cases.
func writeError(c *gin.Context, err error) {
	switch err.(type) {
	case *engerrors.NotFoundError:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case *engerrors.LockContentionError:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case *engerrors.InvalidStateError:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
