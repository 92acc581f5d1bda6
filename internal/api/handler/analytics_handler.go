package handler

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/tutor-be/internal/export"
	"github.com/gin-gonic/gin"
)

// AnalyticsHandler renders analytics downloads
type AnalyticsHandler struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewAnalyticsHandler(deps *Dependencies) *AnalyticsHandler {
	return &AnalyticsHandler{logger: deps.Logger, now: time.Now}
}

// ExportCSV handles POST /api/v1/analytics/export
func (h *AnalyticsHandler) ExportCSV(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	var report export.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, report); err != nil {
		h.logger.Error("Failed to render analytics export", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to export analytics",
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(h.now().UTC())))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
