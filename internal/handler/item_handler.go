package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"smart-mail-reply-go/internal/model"
	"smart-mail-reply-go/internal/repository"
)

// GetStats returns queue counts and average processing latency
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.repo.WorkQueue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to fetch stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetItems returns work items newest first with pagination
func (h *Handlers) GetItems(c *gin.Context) {
	page, limit, offset := pagination(c)

	filter := repository.ListFilter{Limit: limit, Offset: offset}
	if raw := c.Query("status"); raw != "" {
		status := model.Status(strings.ToUpper(raw))
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "Unknown status " + raw,
				Code:    http.StatusBadRequest,
			})
			return
		}
		filter.Status = status
	}

	items, total, err := h.repo.WorkQueue.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to fetch items")
		return
	}

	c.JSON(http.StatusOK, ItemListResponse{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// CreateItem ingests a message by hand under a generated message id
func (h *Handlers) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if req.Sender == "" {
		req.Sender = "Simulator"
	}
	if req.Subject == "" {
		req.Subject = "No Subject"
	}

	messageID := uuid.NewString()
	created, err := h.repo.WorkQueue.Enqueue(c.Request.Context(), model.NewItem{
		MessageID:  messageID,
		Sender:     req.Sender,
		Subject:    req.Subject,
		Body:       req.Body,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		respondError(c, err, "Failed to ingest message")
		return
	}
	if !created {
		respondError(c, repository.ErrDuplicate, "Message already ingested")
		return
	}

	logrus.WithField("message_id", messageID).Info("Manually ingested message")
	c.JSON(http.StatusCreated, CreateItemResponse{Status: "success", MessageID: messageID})
}

// GetItem returns one work item
func (h *Handlers) GetItem(c *gin.Context) {
	id, ok := parseID(c, "item")
	if !ok {
		return
	}

	item, err := h.repo.WorkQueue.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Item not found")
		return
	}
	c.JSON(http.StatusOK, item)
}

// GetItemAudit returns the audit trail of one work item
func (h *Handlers) GetItemAudit(c *gin.Context) {
	id, ok := parseID(c, "item")
	if !ok {
		return
	}

	if _, err := h.repo.WorkQueue.Get(c.Request.Context(), id); err != nil {
		respondError(c, err, "Item not found")
		return
	}

	entries, err := h.repo.Audit.ForItem(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to fetch audit trail")
		return
	}
	c.JSON(http.StatusOK, entries)
}

// MarkReplySent records that a human sent the approved reply
func (h *Handlers) MarkReplySent(c *gin.Context) {
	id, ok := parseID(c, "item")
	if !ok {
		return
	}

	var req ReplySentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "Invalid request body",
				Code:    http.StatusBadRequest,
			})
			return
		}
	}

	actor := ""
	if req.Actor != "" {
		actor = "user:" + req.Actor
	}
	if err := h.repo.WorkQueue.MarkReplySent(c.Request.Context(), id, actor); err != nil {
		respondError(c, err, "Item not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Reply marked as sent",
		"reply_status": model.ReplySent,
	})
}

// GetAudit returns audit entries newest first
func (h *Handlers) GetAudit(c *gin.Context) {
	_, limit, offset := pagination(c)
	filter := repository.AuditFilter{
		Action: model.AuditAction(strings.ToUpper(c.Query("action"))),
		Limit:  limit,
		Offset: offset,
	}

	entries, err := h.repo.Audit.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to fetch audit log")
		return
	}
	c.JSON(http.StatusOK, entries)
}
