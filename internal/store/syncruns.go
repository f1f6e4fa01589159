package store

import (
	"context"
	"errors"
	"fmt"

	"lotsync/internal/model"

	"gorm.io/gorm"
)

// RecordSyncRun 追加一条同步审计记录（历史记录永不修改）。
func (s *Store) RecordSyncRun(ctx context.Context, run *model.SyncRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// SyncRuns 返回最近的同步记录，按时间倒序。
func (s *Store) SyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []model.SyncRun
	if err := s.db.WithContext(ctx).
		Order("run_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	return runs, nil
}

// LastSyncRun 返回最近一次同步记录，没有时返回 (nil, nil)。
func (s *Store) LastSyncRun(ctx context.Context) (*model.SyncRun, error) {
	var run model.SyncRun
	err := s.db.WithContext(ctx).Order("run_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last sync run: %w", err)
	}
	return &run, nil
}
