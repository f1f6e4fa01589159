package store

import (
	"context"
	"fmt"

	"lotsync/internal/model"
)

// SaveDeal 保存一份报价单快照。
func (s *Store) SaveDeal(ctx context.Context, deal *model.Deal) error {
	if err := s.db.WithContext(ctx).Create(deal).Error; err != nil {
		return fmt.Errorf("save deal: %w", err)
	}
	return nil
}

// Deals 返回某台车（vin 为空时返回全部）最近保存的报价单。
func (s *Store) Deals(ctx context.Context, vin string, limit int) ([]model.Deal, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&model.Deal{})
	if vin != "" {
		q = q.Where("vin = ?", vin)
	}
	var deals []model.Deal
	if err := q.Order("created_at DESC").Limit(limit).Find(&deals).Error; err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	return deals, nil
}
