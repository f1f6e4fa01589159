package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lotsync/internal/model"

	"gorm.io/gorm/clause"
)

// ErrEmptyBatch 表示对账收到了空批次。
//
// 空批次通常意味着抓取来源故障而不是库存真的清空了；默认拒绝执行，
// 避免把整个库存误标成下架。确认清库时用 ReconcileOptions.AllowEmpty。
var ErrEmptyBatch = errors.New("reconcile: empty batch")

// ReconcileOptions 控制一次对账的行为。
type ReconcileOptions struct {
	// AllowEmpty 允许空批次把全部车辆标记为下架。
	AllowEmpty bool
	// Now 覆盖时间戳来源，零值时用当前 UTC 时间。
	Now time.Time
}

// reconcileColumns 是对账允许覆盖的列。
//
// 人工维护字段（price_override / addendum_override / market_value /
// cost / pack / notes）和 first_seen、price_scrape_attempts 永远不在
// 这个列表里。
var reconcileColumns = []string{
	"title", "stock_number", "year", "make", "model", "trim",
	"condition", "body_style", "mileage", "exterior_color",
	"price_scraped", "image_url", "link", "last_seen", "is_active",
}

// Reconcile 用一批抓取记录对账整个库存，在单个事务内完成：
//
//  1. 先把所有在售车辆标记为下架
//  2. 逐条按 VIN upsert，命中的车辆重新标记在售并刷新 last_seen
//
// 批次里没出现的车辆保持下架，由此推导出"已售出"。VIN 为空的记录
// 静默跳过；价格解析失败按 NULL 落库。同一批重复执行结果相同。
func (s *Store) Reconcile(ctx context.Context, records []model.VehicleRecord, opts ReconcileOptions) error {
	if len(records) == 0 && !opts.AllowEmpty {
		return ErrEmptyBatch
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Model(&model.Vehicle{}).
		Where("is_active = ?", true).
		Update("is_active", false).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("deactivate vehicles: %w", err)
	}

	for _, rec := range records {
		vin := strings.ToUpper(strings.TrimSpace(rec.VIN))
		if vin == "" {
			continue
		}

		v := model.Vehicle{
			VIN:           vin,
			Title:         rec.Title,
			StockNumber:   rec.StockNumber,
			Year:          ParseYear(rec.Year),
			Make:          rec.Make,
			Model:         rec.Model,
			Trim:          rec.Trim,
			Condition:     normalizeCondition(rec.Condition),
			BodyStyle:     rec.BodyStyle,
			Mileage:       parseMileage(rec.Mileage),
			ExteriorColor: rec.ExteriorColor,
			PriceScraped:  ParsePrice(rec.Price),
			ImageURL:      rec.ImageURL,
			Link:          rec.Link,
			FirstSeen:     now,
			LastSeen:      now,
			IsActive:      true,
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vin"}},
			DoUpdates: clause.AssignmentColumns(reconcileColumns),
		}).Create(&v).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert vehicle %s: %w", vin, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit reconcile: %w", err)
	}
	return nil
}

var leadingDigits = regexp.MustCompile(`^(\d+)`)

// ParsePrice 从价格字符串里取出前导数字（美元整数）。
//
// "$24,995"、"24995 USD"、"24995.0" 都解析为 24995；
// 没有前导数字（如 "Call for Price"）返回 nil。
func ParsePrice(raw string) *int {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	m := leadingDigits.FindStringSubmatch(cleaned)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// ParseYear 解析四位年款，失败返回 nil。
func ParseYear(raw string) *int {
	cleaned := strings.TrimSpace(raw)
	if len(cleaned) < 4 {
		return nil
	}
	n, err := strconv.Atoi(cleaned[:4])
	if err != nil || n < 1900 || n > 2100 {
		return nil
	}
	return &n
}

func parseMileage(raw string) int {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	m := leadingDigits.FindStringSubmatch(cleaned)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func normalizeCondition(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	if c != "new" && c != "used" {
		return "used"
	}
	return c
}
