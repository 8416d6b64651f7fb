package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smart-mail-reply-go/internal/model"
)

// GetAccounts returns all sync accounts
func (h *Handlers) GetAccounts(c *gin.Context) {
	accounts, err := h.repo.Accounts.List(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to fetch accounts")
		return
	}
	c.JSON(http.StatusOK, accounts)
}

// CreateAccount registers a mailbox for syncing
func (h *Handlers) CreateAccount(c *gin.Context) {
	var req AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	account := model.SyncAccount{
		Email:        req.Email,
		Provider:     req.Provider,
		RefreshToken: req.RefreshToken,
		IMAPHost:     req.IMAPHost,
		IMAPPort:     req.IMAPPort,
		IMAPUser:     req.IMAPUser,
		IMAPPassword: req.IMAPPassword,
		Enabled:      true,
	}
	if err := h.repo.Accounts.Create(c.Request.Context(), &account); err != nil {
		respondError(c, err, "Failed to create account")
		return
	}

	c.JSON(http.StatusCreated, account)
}

// EnableAccount enables syncing for an account
func (h *Handlers) EnableAccount(c *gin.Context) {
	h.setAccountEnabled(c, true)
}

// DisableAccount disables syncing for an account
func (h *Handlers) DisableAccount(c *gin.Context) {
	h.setAccountEnabled(c, false)
}

func (h *Handlers) setAccountEnabled(c *gin.Context, enabled bool) {
	id, ok := parseID(c, "account")
	if !ok {
		return
	}

	if err := h.repo.Accounts.SetEnabled(c.Request.Context(), id, enabled); err != nil {
		respondError(c, err, "Account not found")
		return
	}

	account, err := h.repo.Accounts.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Account not found")
		return
	}
	c.JSON(http.StatusOK, account)
}

// SyncAccounts pulls every enabled account now
func (h *Handlers) SyncAccounts(c *gin.Context) {
	results, err := h.syncer.SyncAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "sync_error",
			Message: "Failed to sync accounts",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Sync completed",
		"results": results,
	})
}
