package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/isomorphiq/orchestrator/pkg/contextstore"
)

// WorkflowStatusResponse is the read-only view of one workflow context.
type WorkflowStatusResponse struct {
	ContextID   string         `json:"contextId"`
	CurrentTask any            `json:"currentTask,omitempty"`
	TaskBranch  string         `json:"taskBranch,omitempty"`
	TestStatus  string         `json:"testStatus,omitempty"`
	Context     map[string]any `json:"context"`
}

// workflowStatusHandler handles GET /api/v1/workflow/:contextId.
func (s *Server) workflowStatusHandler(c *echo.Context) error {
	contextID := c.Param("contextId")
	if contextID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "context id is required")
	}

	execCtx, err := s.contexts.Load(c.Request().Context(), contextID)
	if err != nil {
		s.logger.Error("loading workflow context failed", "context_id", contextID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	branch, _ := execCtx[contextstore.KeyCurrentTaskBranch].(string)
	status, _ := execCtx[contextstore.KeyTestStatus].(string)
	return c.JSON(http.StatusOK, &WorkflowStatusResponse{
		ContextID:   contextID,
		CurrentTask: execCtx[contextstore.KeyCurrentTask],
		TaskBranch:  branch,
		TestStatus:  status,
		Context:     execCtx,
	})
}
