package store

import (
	"context"
	"fmt"

	"lotsync/internal/model"

	"gorm.io/gorm/clause"
)

// UpsertVehicleStats 批量写入目录平台回传的曝光数据，按 (vin, 日期) 覆盖。
func (s *Store) UpsertVehicleStats(ctx context.Context, stats []model.VehicleStat) error {
	if len(stats) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vin"}, {Name: "stat_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"views", "clicks", "leads"}),
	}).Create(&stats).Error
	if err != nil {
		return fmt.Errorf("upsert vehicle stats: %w", err)
	}
	return nil
}

// VehicleStats 返回某台车最近的曝光记录，按日期倒序。
func (s *Store) VehicleStats(ctx context.Context, vin string, limit int) ([]model.VehicleStat, error) {
	if limit <= 0 {
		limit = 30
	}
	var stats []model.VehicleStat
	if err := s.db.WithContext(ctx).
		Where("vin = ?", vin).
		Order("stat_date DESC").
		Limit(limit).
		Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("query vehicle stats: %w", err)
	}
	return stats, nil
}
