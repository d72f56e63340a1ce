package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetTaskByID(c *gin.Context) {
	taskID, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	task, err := s.taskRepo.FindByID(c.Request.Context(), s.db, taskID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// RequeueTask returns a failed or action_required task to the queue, the
// operator/trigger path for resuming blocked fulfillments.
func (s *Server) RequeueTask(c *gin.Context) {
	taskID, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	task, err := s.taskRepo.Requeue(c.Request.Context(), s.db, taskID, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}
