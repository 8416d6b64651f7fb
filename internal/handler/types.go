package handler

import (
	"time"

	"smart-mail-reply-go/internal/model"
)

// CreateItemRequest represents a manually ingested message
type CreateItemRequest struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body" binding:"required"`
}

// CreateItemResponse is returned after a manual ingest
type CreateItemResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// ItemListResponse represents a page of work items
type ItemListResponse struct {
	Items []model.WorkItem `json:"items"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// ReplySentRequest identifies who confirmed the reply was sent
type ReplySentRequest struct {
	Actor string `json:"actor"`
}

// AccountRequest represents the request structure for creating sync accounts
type AccountRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Provider     string `json:"provider" binding:"required,oneof=gmail imap"`
	RefreshToken string `json:"refresh_token"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUser     string `json:"imap_user"`
	IMAPPassword string `json:"imap_password"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
