package handler

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"smart-mail-reply-go/internal/model"
)

const exportBatchSize = 200

var exportHeader = []string{
	"ID", "Sender", "Subject", "Received At", "Status", "Intent", "Sentiment",
	"Suggested Action", "Priority", "Reply Status", "Redacted Body",
}

// ExportCSV streams every work item as CSV
func (h *Handlers) ExportCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=work_items_export.csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	if err := w.Write(exportHeader); err != nil {
		logrus.Errorf("Failed to write export header: %v", err)
		return
	}

	err := h.repo.WorkQueue.ForEach(c.Request.Context(), exportBatchSize, func(item model.WorkItem) error {
		return w.Write(exportRow(item))
	})
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	if err != nil {
		// headers are already sent, so the client sees a truncated file
		logrus.Errorf("CSV export aborted: %v", err)
	}
}

func exportRow(item model.WorkItem) []string {
	return []string{
		strconv.FormatUint(uint64(item.ID), 10),
		item.Sender,
		item.Subject,
		item.ReceivedAt.Format(time.RFC3339),
		string(item.Status),
		item.Analysis.Intent,
		item.Analysis.Sentiment,
		item.Analysis.SuggestedAction,
		deref(item.Priority),
		string(item.ReplyStatus),
		deref(item.BodyRedacted),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
