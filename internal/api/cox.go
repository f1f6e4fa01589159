package api

import (
	"net/http"
	"strings"

	"log/slog"

	"lotsync/internal/store"

	"github.com/gin-gonic/gin"
)

type coxImportRequest struct {
	RawText string `json:"raw_text"`
}

// handleCoxImport 导入粘贴的 Cox 库存报表原文，按 VIN 回写估值字段。
//
// POST /api/cox-import
func (s *Server) handleCoxImport(c *gin.Context) {
	var req coxImportRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RawText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "raw_text is empty"})
		return
	}

	records := store.ParseCoxReport(req.RawText)
	if len(records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no VINs found in report text"})
		return
	}

	res, err := s.store.CoxImport(c.Request.Context(), records)
	if err != nil {
		s.logger.Error("cox import failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cox import failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"parsed":  len(records),
		"updated": res.Updated,
		"skipped": res.Skipped,
	})
}
