package api

import (
	"errors"
	"net/http"

	"log/slog"

	"lotsync/internal/syncer"

	"github.com/gin-gonic/gin"
)

// handleSyncRuns 返回最近的同步审计记录。
//
// GET /api/sync-runs?limit=20
func (s *Server) handleSyncRuns(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 20)
	runs, err := s.store.SyncRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("query sync runs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query sync runs failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// handleSyncStatus 返回同步引擎的实时状态和最近一次完成的记录。
//
// GET /api/sync-status
func (s *Server) handleSyncStatus(c *gin.Context) {
	st := s.sync.Status()

	last, err := s.store.LastSyncRun(c.Request.Context())
	if err != nil {
		s.logger.Warn("query last sync run failed", slog.String("error", err.Error()))
	}

	c.JSON(http.StatusOK, gin.H{
		"running":      st.Running,
		"started_at":   st.StartedAt,
		"last_message": st.LastMessage,
		"last_run":     last,
	})
}

// handleTriggerSync 异步触发一次同步。
//
// POST /api/sync
//
// 已有同步在跑时直接拒绝（409），不排队。
func (s *Server) handleTriggerSync(c *gin.Context) {
	err := s.sync.Trigger(c.Request.Context())
	if errors.Is(err, syncer.ErrSyncRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress"})
		return
	}
	if err != nil {
		s.logger.Error("trigger sync failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trigger sync failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// handleSendDigest 手动触发一封库存摘要邮件。
//
// POST /api/digest
func (s *Server) handleSendDigest(c *gin.Context) {
	if err := s.SendDigest(c.Request.Context()); err != nil {
		s.logger.Error("send digest failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send digest failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}
