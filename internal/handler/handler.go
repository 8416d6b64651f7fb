package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"smart-mail-reply-go/internal/ingest"
	"smart-mail-reply-go/internal/repository"
	"smart-mail-reply-go/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	repo      *repository.Repository
	syncer    *ingest.Syncer
	scheduler *scheduler.Scheduler
	gatherer  prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, repo *repository.Repository, syncer *ingest.Syncer, sched *scheduler.Scheduler, gatherer prometheus.Gatherer) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		db:        db,
		repo:      repo,
		syncer:    syncer,
		scheduler: sched,
		gatherer:  gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/stats", h.GetStats)

		api.GET("/items", h.GetItems)
		api.POST("/items", h.CreateItem)
		api.GET("/items/:id", h.GetItem)
		api.GET("/items/:id/audit", h.GetItemAudit)
		api.POST("/items/:id/reply-sent", h.MarkReplySent)
		api.GET("/export", h.ExportCSV)

		api.GET("/audit", h.GetAudit)

		api.GET("/accounts", h.GetAccounts)
		api.POST("/accounts", h.CreateAccount)
		api.PATCH("/accounts/:id/enable", h.EnableAccount)
		api.PATCH("/accounts/:id/disable", h.DisableAccount)
		api.POST("/accounts/sync", h.SyncAccounts)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
		api.POST("/reaper/run", h.RunReaper)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if err := h.db.WithContext(c.Request.Context()).Exec("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	if counts, err := h.repo.WorkQueue.CountByStatus(c.Request.Context()); err == nil {
		for status, n := range counts {
			response.Metrics["queue_"+string(status)] = strconv.FormatInt(n, 10)
		}
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func parseID(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid " + what + " ID",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}

// pagination reads page and limit query parameters
func pagination(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return page, limit, (page - 1) * limit
}

// respondError maps repository errors onto status codes
func respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: message, Code: http.StatusNotFound})
	case errors.Is(err, repository.ErrDuplicate):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "duplicate", Message: err.Error(), Code: http.StatusConflict})
	case errors.Is(err, repository.ErrInvalid):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error(), Code: http.StatusBadRequest})
	case errors.Is(err, repository.ErrIllegalTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "illegal_transition", Message: err.Error(), Code: http.StatusConflict})
	default:
		logrus.Errorf("%s: %v", message, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: message, Code: http.StatusInternalServerError})
	}
}
