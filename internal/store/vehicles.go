package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"lotsync/internal/model"

	"gorm.io/gorm"
)

// VehicleFilter 是车辆列表查询的可选过滤条件。
type VehicleFilter struct {
	Search     string // 模糊匹配 VIN / 标题 / 库存号 / 车型
	Make       string
	Condition  string // new / used
	BodyStyle  string
	Year       int  // 0 表示不限
	ActiveOnly bool // 只看在售
}

// Vehicles 按过滤条件查询车辆列表。
//
// 排序固定为 品牌、年款倒序、车型，保证前端分组展示稳定。
func (s *Store) Vehicles(ctx context.Context, f VehicleFilter) ([]model.Vehicle, error) {
	q := s.db.WithContext(ctx).Model(&model.Vehicle{})

	if f.Search != "" {
		like := "%" + strings.TrimSpace(f.Search) + "%"
		q = q.Where("vin LIKE ? OR title LIKE ? OR stock_number LIKE ? OR model LIKE ?", like, like, like, like)
	}
	if f.Make != "" {
		q = q.Where("make = ?", f.Make)
	}
	if f.Condition != "" {
		q = q.Where("`condition` = ?", strings.ToLower(f.Condition))
	}
	if f.BodyStyle != "" {
		q = q.Where("body_style = ?", f.BodyStyle)
	}
	if f.Year != 0 {
		q = q.Where("year = ?", f.Year)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}

	var vehicles []model.Vehicle
	if err := q.Order("make, year DESC, model").Find(&vehicles).Error; err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	return vehicles, nil
}

// Vehicle 按 VIN 查询单台车，不存在时返回 (nil, nil)。
func (s *Store) Vehicle(ctx context.Context, vin string) (*model.Vehicle, error) {
	var v model.Vehicle
	err := s.db.WithContext(ctx).Where("vin = ?", strings.ToUpper(strings.TrimSpace(vin))).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query vehicle: %w", err)
	}
	return &v, nil
}

// editableVehicleFields 是后台允许编辑的字段，其余字段一律丢弃。
var editableVehicleFields = map[string]bool{
	"price_override":    true,
	"addendum_override": true,
	"market_value":      true,
	"cost":              true,
	"pack":              true,
	"notes":             true,
}

// UpdateVehicleFields 更新单台车的人工维护字段。
//
// updates 里只有白名单内的键会生效；值为 nil 表示清空（写 NULL），
// 人工标价清空后对外价格回落到抓取价。
//
// 返回值:
//
//	bool: 车辆是否存在并完成更新
//	error: 数据库错误
func (s *Store) UpdateVehicleFields(ctx context.Context, vin string, updates map[string]interface{}) (bool, error) {
	filtered := map[string]interface{}{}
	for k, v := range updates {
		if editableVehicleFields[k] {
			filtered[k] = v
		}
	}
	if len(filtered) == 0 {
		return false, nil
	}

	vin = strings.ToUpper(strings.TrimSpace(vin))

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Vehicle{}).Where("vin = ?", vin).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check vehicle: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	if err := s.db.WithContext(ctx).Model(&model.Vehicle{}).Where("vin = ?", vin).Updates(filtered).Error; err != nil {
		return false, fmt.Errorf("update vehicle fields: %w", err)
	}
	return true, nil
}

// ComparableVehicle 是同车型比较视图里的一行。
type ComparableVehicle struct {
	model.Vehicle
	// NearDuplicate 表示与目标车同年款同配置，大概率是库存里的"同款车"。
	NearDuplicate bool `json:"near_duplicate"`
}

// Comparable 查询与目标车同品牌同车型的在售车辆。
//
// 年款相差超过 yearWindow 的不算；结果按年款接近程度排序，同距离时
// 新年款优先。目标车自己不在结果里。
func (s *Store) Comparable(ctx context.Context, vin string, yearWindow, limit int) ([]ComparableVehicle, error) {
	target, err := s.Vehicle(ctx, vin)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}
	if yearWindow <= 0 {
		yearWindow = 4
	}

	q := s.db.WithContext(ctx).Model(&model.Vehicle{}).
		Where("is_active = ?", true).
		Where("vin <> ?", target.VIN).
		Where("make = ? AND model = ?", target.Make, target.Model)

	var rows []model.Vehicle
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query comparables: %w", err)
	}

	targetYear := 0
	if target.Year != nil {
		targetYear = *target.Year
	}
	targetTrim := strings.ToLower(strings.TrimSpace(target.Trim))

	out := []ComparableVehicle{}
	for _, row := range rows {
		rowYear := 0
		if row.Year != nil {
			rowYear = *row.Year
		}
		if targetYear != 0 && rowYear != 0 && abs(rowYear-targetYear) > yearWindow {
			continue
		}
		near := targetYear != 0 && rowYear == targetYear &&
			targetTrim != "" && strings.ToLower(strings.TrimSpace(row.Trim)) == targetTrim
		out = append(out, ComparableVehicle{Vehicle: row, NearDuplicate: near})
	}

	sort.SliceStable(out, func(i, j int) bool {
		yi, yj := 0, 0
		if out[i].Year != nil {
			yi = *out[i].Year
		}
		if out[j].Year != nil {
			yj = *out[j].Year
		}
		di, dj := abs(yi-targetYear), abs(yj-targetYear)
		if di != dj {
			return di < dj
		}
		return yi > yj
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Summary 是库存总览统计。
type Summary struct {
	TotalActive  int     `json:"total_active"`
	NewCount     int     `json:"new_count"`
	UsedCount    int     `json:"used_count"`
	WithPrice    int     `json:"with_price"`
	MissingPrice int     `json:"missing_price"`
	AvgPrice     float64 `json:"avg_price"`
	TotalValue   int     `json:"total_value"`
	Exhausted    int     `json:"exhausted"` // 连续抓价失败达到上限的在售车辆
}

// InventorySummary 汇总当前在售库存。
func (s *Store) InventorySummary(ctx context.Context, maxScrapeAttempts int) (*Summary, error) {
	var vehicles []model.Vehicle
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&vehicles).Error; err != nil {
		return nil, fmt.Errorf("load active vehicles: %w", err)
	}

	sum := &Summary{TotalActive: len(vehicles)}
	for _, v := range vehicles {
		if v.Condition == "new" {
			sum.NewCount++
		} else {
			sum.UsedCount++
		}
		if p := v.EffectivePrice(); p != nil {
			sum.WithPrice++
			sum.TotalValue += *p
		} else {
			sum.MissingPrice++
		}
		if Exhausted(v.PriceScrapeAttempts, maxScrapeAttempts) {
			sum.Exhausted++
		}
	}
	if sum.WithPrice > 0 {
		sum.AvgPrice = float64(sum.TotalValue) / float64(sum.WithPrice)
	}
	return sum, nil
}

// Makes 返回库存中出现过的品牌（去重排序）。
func (s *Store) Makes(ctx context.Context) ([]string, error) {
	var makes []string
	err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
		Where("make <> ''").
		Distinct("make").
		Order("make").
		Pluck("make", &makes).Error
	if err != nil {
		return nil, fmt.Errorf("query makes: %w", err)
	}
	return makes, nil
}

// Years 返回库存中出现过的年款（倒序）。
func (s *Store) Years(ctx context.Context) ([]int, error) {
	var years []int
	err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
		Where("year IS NOT NULL").
		Distinct("year").
		Order("year DESC").
		Pluck("year", &years).Error
	if err != nil {
		return nil, fmt.Errorf("query years: %w", err)
	}
	return years, nil
}

// DealHistoryEntry 是一台已下架车辆的售出记录视图。
type DealHistoryEntry struct {
	model.Vehicle
	DaysListed int `json:"days_listed"` // 首次出现到最后出现的天数
}

// ModelBenchmark 是某个品牌+车型的历史周转基准。
type ModelBenchmark struct {
	Make        string  `json:"make"`
	Model       string  `json:"model"`
	Sold        int     `json:"sold"`
	AvgDays     float64 `json:"avg_days"`
	AvgPrice    float64 `json:"avg_price"`
	PricedUnits int     `json:"priced_units"`
}

// DealHistory 返回已下架（视为售出）的车辆及按车型聚合的周转基准。
func (s *Store) DealHistory(ctx context.Context, limit int) ([]DealHistoryEntry, []ModelBenchmark, error) {
	var vehicles []model.Vehicle
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", false).
		Order("last_seen DESC").
		Find(&vehicles).Error; err != nil {
		return nil, nil, fmt.Errorf("load sold vehicles: %w", err)
	}

	entries := []DealHistoryEntry{}
	type agg struct {
		sold, pricedUnits int
		days, price       float64
	}
	byModel := map[string]*agg{}

	for _, v := range vehicles {
		days := int(v.LastSeen.Sub(v.FirstSeen).Hours()/24) + 1
		if days < 1 {
			days = 1
		}
		entries = append(entries, DealHistoryEntry{Vehicle: v, DaysListed: days})

		key := v.Make + "|" + v.Model
		a := byModel[key]
		if a == nil {
			a = &agg{}
			byModel[key] = a
		}
		a.sold++
		a.days += float64(days)
		if p := v.EffectivePrice(); p != nil {
			a.pricedUnits++
			a.price += float64(*p)
		}
	}

	benchmarks := []ModelBenchmark{}
	for key, a := range byModel {
		parts := strings.SplitN(key, "|", 2)
		b := ModelBenchmark{
			Make:        parts[0],
			Model:       parts[1],
			Sold:        a.sold,
			AvgDays:     a.days / float64(a.sold),
			PricedUnits: a.pricedUnits,
		}
		if a.pricedUnits > 0 {
			b.AvgPrice = a.price / float64(a.pricedUnits)
		}
		benchmarks = append(benchmarks, b)
	}
	sort.Slice(benchmarks, func(i, j int) bool {
		if benchmarks[i].Sold != benchmarks[j].Sold {
			return benchmarks[i].Sold > benchmarks[j].Sold
		}
		return benchmarks[i].Make+benchmarks[i].Model < benchmarks[j].Make+benchmarks[j].Model
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, benchmarks, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
