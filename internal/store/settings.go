package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"lotsync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Settings 是从键值表读出来的运行时设置集合。
//
// 数据库里的值优先；没配置的键回落到传入的默认值（来自配置文件/环境）。
type Settings struct {
	AddendumAmount int    `json:"addendum_amount"`
	MarketAPIKey   string `json:"market_api_key"`
	DealerZIP      string `json:"dealer_zip"`
	MarketRadius   int    `json:"market_radius"`
}

// Setting 读取单个设置项，不存在时返回默认值。
func (s *Store) Setting(ctx context.Context, key, def string) (string, error) {
	var row model.Setting
	err := s.db.WithContext(ctx).Where("`key` = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("query setting %s: %w", key, err)
	}
	return row.Value, nil
}

// SetSetting 写入单个设置项（upsert）。
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	row := model.Setting{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// AllSettings 读取全部设置并套用默认值。
func (s *Store) AllSettings(ctx context.Context, defaults Settings) (Settings, error) {
	var rows []model.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return defaults, fmt.Errorf("query settings: %w", err)
	}

	out := defaults
	for _, row := range rows {
		switch row.Key {
		case "addendum_amount":
			if n, err := strconv.Atoi(row.Value); err == nil {
				out.AddendumAmount = n
			}
		case "market_api_key":
			if row.Value != "" {
				out.MarketAPIKey = row.Value
			}
		case "dealer_zip":
			if row.Value != "" {
				out.DealerZIP = row.Value
			}
		case "market_radius":
			if n, err := strconv.Atoi(row.Value); err == nil && n > 0 {
				out.MarketRadius = n
			}
		}
	}
	return out, nil
}
