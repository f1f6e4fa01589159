package compscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lotsync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLCache 是数据库后端实现，与库存共用一个连接。
//
// 没有 Redis 的部署环境用它；行为和 Redis 后端一致。
type SQLCache struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQL 创建 SQL 缓存后端。
func NewSQL(db *gorm.DB, ttl time.Duration) *SQLCache {
	return newSQL(db, ttl, time.Now)
}

func newSQL(db *gorm.DB, ttl time.Duration, now func() time.Time) *SQLCache {
	return &SQLCache{db: db, ttl: ttl, now: now}
}

// Comps 读取比价缓存，超过 TTL 的行保留但按未命中处理。
func (c *SQLCache) Comps(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var row model.CompsCacheEntry
	err := c.db.WithContext(ctx).Where("cache_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query comps cache: %w", err)
	}
	if c.now().Sub(row.FetchedAt) > c.ttl {
		return nil, false, nil
	}
	return json.RawMessage(row.Data), true, nil
}

// SetComps 整体覆盖写入一行比价缓存。
func (c *SQLCache) SetComps(ctx context.Context, key string, payload json.RawMessage) error {
	row := model.CompsCacheEntry{
		CacheKey:  key,
		Data:      string(payload),
		FetchedAt: c.now(),
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "fetched_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set comps cache: %w", err)
	}
	return nil
}

// VIN 读取 VIN 缓存行（无 TTL）。
func (c *SQLCache) VIN(ctx context.Context, vin string) (*VINEntry, error) {
	var row model.VinCacheEntry
	err := c.db.WithContext(ctx).Where("vin = ?", vin).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query vin cache: %w", err)
	}

	specs := row.SpecsJSON
	if specs == "" {
		specs = "[]"
	}
	return &VINEntry{
		Specs:      json.RawMessage(specs),
		StickerURL: row.StickerURL,
	}, nil
}

// SetVIN 合并写入：只覆盖本次拿到的字段。
func (c *SQLCache) SetVIN(ctx context.Context, vin string, specs json.RawMessage, stickerURL *string) error {
	existing, err := c.VIN(ctx, vin)
	if err != nil {
		return err
	}

	row := model.VinCacheEntry{
		VIN:       vin,
		SpecsJSON: "[]",
		FetchedAt: c.now(),
	}
	if existing != nil {
		row.SpecsJSON = string(existing.Specs)
		row.StickerURL = existing.StickerURL
	}
	if specs != nil {
		row.SpecsJSON = string(specs)
	}
	if stickerURL != nil {
		row.StickerURL = *stickerURL
	}

	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vin"}},
		DoUpdates: clause.AssignmentColumns([]string{"specs_json", "sticker_url", "fetched_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set vin cache: %w", err)
	}
	return nil
}
