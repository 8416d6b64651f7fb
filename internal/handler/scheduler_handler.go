package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartScheduler starts the sync and reaper scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the sync and reaper scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce runs one mailbox sync
func (h *Handlers) RunOnce(c *gin.Context) {
	results, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to run mailbox sync",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Mailbox sync completed successfully",
		"results": results,
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	st := h.scheduler.Status()
	status := "stopped"
	if st.IsRunning {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":                status,
		"next_run":              st.NextSync,
		"last_run":              st.LastSync,
		"next_reap":             st.NextReap,
		"last_reap":             st.LastReap,
		"sync_interval_minutes": st.SyncInterval,
		"reap_interval_minutes": st.ReapInterval,
	})
}

// RunReaper fails stale PROCESSING items now
func (h *Handlers) RunReaper(c *gin.Context) {
	reaped, err := h.scheduler.RunReaper(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to run reaper",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	ids := make([]uint, 0, len(reaped))
	for _, item := range reaped {
		ids = append(ids, item.ID)
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Reaper completed",
		"reaped":  ids,
	})
}
