package store

import (
	"context"
	"fmt"
	"strings"

	"lotsync/internal/model"
)

// ScrapeAttempts 批量读取车辆的连续抓价失败次数。
//
// 没有记录的 VIN 按 0 返回，调用方不用区分"新车"和"从没失败过"。
func (s *Store) ScrapeAttempts(ctx context.Context, vins []string) (map[string]int, error) {
	out := make(map[string]int, len(vins))
	normalized := make([]string, 0, len(vins))
	for _, vin := range vins {
		vin = strings.ToUpper(strings.TrimSpace(vin))
		if vin == "" {
			continue
		}
		out[vin] = 0
		normalized = append(normalized, vin)
	}
	if len(normalized) == 0 {
		return out, nil
	}

	var rows []model.Vehicle
	if err := s.db.WithContext(ctx).
		Select("vin", "price_scrape_attempts").
		Where("vin IN ?", normalized).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query scrape attempts: %w", err)
	}
	for _, row := range rows {
		out[row.VIN] = row.PriceScrapeAttempts
	}
	return out, nil
}

// UpdateScrapeAttempts 批量写回失败计数，负数一律按 0 落库。
func (s *Store) UpdateScrapeAttempts(ctx context.Context, attempts map[string]int) error {
	for vin, count := range attempts {
		vin = strings.ToUpper(strings.TrimSpace(vin))
		if vin == "" {
			continue
		}
		if count < 0 {
			count = 0
		}
		if err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
			Where("vin = ?", vin).
			Update("price_scrape_attempts", count).Error; err != nil {
			return fmt.Errorf("update attempts for %s: %w", vin, err)
		}
	}
	return nil
}

// RecordScrapeOutcome 记录单台车一次抓价结果：成功清零，失败加一。
func (s *Store) RecordScrapeOutcome(ctx context.Context, vin string, ok bool) error {
	vin = strings.ToUpper(strings.TrimSpace(vin))
	if ok {
		return s.UpdateScrapeAttempts(ctx, map[string]int{vin: 0})
	}

	current, err := s.ScrapeAttempts(ctx, []string{vin})
	if err != nil {
		return err
	}
	return s.UpdateScrapeAttempts(ctx, map[string]int{vin: current[vin] + 1})
}

// Exhausted 判断失败计数是否已达上限（该车应跳过抓价）。
func Exhausted(attempts, ceiling int) bool {
	return ceiling > 0 && attempts >= ceiling
}
