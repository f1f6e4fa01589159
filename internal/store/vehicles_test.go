package store

import (
	"context"
	"testing"
	"time"

	"lotsync/internal/model"
)

func seedLot(t *testing.T, s *Store) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	batch := []model.VehicleRecord{
		{VIN: "1FAFP404X1F123456", Title: "2021 Ford F-150 XLT", StockNumber: "T1001", Year: "2021", Make: "Ford", Model: "F-150", Trim: "XLT", Condition: "used", BodyStyle: "Truck", Price: "38995"},
		{VIN: "1FTFW1E59MFA11111", Title: "2022 Ford F-150 Lariat", StockNumber: "T1002", Year: "2022", Make: "Ford", Model: "F-150", Trim: "Lariat", Condition: "used", BodyStyle: "Truck", Price: "45995"},
		{VIN: "1FTFW1E51MFB22222", Title: "2021 Ford F-150 XLT", StockNumber: "T1003", Year: "2021", Make: "Ford", Model: "F-150", Trim: "XLT", Condition: "used", BodyStyle: "Truck", Price: "39495"},
		{VIN: "1FTFW1E53KFC33333", Title: "2015 Ford F-150 XL", StockNumber: "T1004", Year: "2015", Make: "Ford", Model: "F-150", Trim: "XL", Condition: "used", BodyStyle: "Truck", Price: "21995"},
		{VIN: "1HGCM82633A004352", Title: "2024 Honda Accord EX", StockNumber: "C2001", Year: "2024", Make: "Honda", Model: "Accord", Trim: "EX", Condition: "new", BodyStyle: "Sedan", Price: "29995"},
	}
	seedVehicles(t, s, batch, now)
}

func TestVehicles_Filters(t *testing.T) {
	s := newTestStore(t)
	seedLot(t, s)
	ctx := context.Background()

	fords, err := s.Vehicles(ctx, VehicleFilter{Make: "Ford", ActiveOnly: true})
	if err != nil {
		t.Fatalf("vehicles: %v", err)
	}
	if len(fords) != 4 {
		t.Fatalf("expected 4 Fords, got %d", len(fords))
	}

	used, err := s.Vehicles(ctx, VehicleFilter{Condition: "new"})
	if err != nil {
		t.Fatalf("vehicles: %v", err)
	}
	if len(used) != 1 || used[0].Make != "Honda" {
		t.Fatalf("expected only the new Honda, got %v", used)
	}

	byStock, err := s.Vehicles(ctx, VehicleFilter{Search: "T1003"})
	if err != nil {
		t.Fatalf("vehicles: %v", err)
	}
	if len(byStock) != 1 || byStock[0].VIN != "1FTFW1E51MFB22222" {
		t.Fatalf("expected search by stock number to find T1003")
	}

	byYear, err := s.Vehicles(ctx, VehicleFilter{Year: 2015})
	if err != nil {
		t.Fatalf("vehicles: %v", err)
	}
	if len(byYear) != 1 {
		t.Fatalf("expected 1 vehicle from 2015, got %d", len(byYear))
	}
}

func TestUpdateVehicleFields_Whitelist(t *testing.T) {
	s := newTestStore(t)
	seedLot(t, s)
	ctx := context.Background()
	vin := "1FAFP404X1F123456"

	// 白名单外的字段被忽略；整个请求没有可用字段时返回 false
	ok, err := s.UpdateVehicleFields(ctx, vin, map[string]interface{}{"is_active": false, "vin": "HACK"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Fatalf("expected false for non-editable fields")
	}

	ok, err = s.UpdateVehicleFields(ctx, vin, map[string]interface{}{
		"price_override": 37500,
		"is_active":      false, // 混进来的非法字段要被丢弃
	})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}

	v, err := s.Vehicle(ctx, vin)
	if err != nil {
		t.Fatalf("vehicle: %v", err)
	}
	if !v.IsActive {
		t.Fatalf("expected is_active untouched")
	}
	if v.PriceOverride == nil || *v.PriceOverride != 37500 {
		t.Fatalf("expected price_override 37500, got %v", v.PriceOverride)
	}
}

func TestUpdateVehicleFields_NullClearsOverride(t *testing.T) {
	s := newTestStore(t)
	seedLot(t, s)
	ctx := context.Background()
	vin := "1FAFP404X1F123456"

	if ok, err := s.UpdateVehicleFields(ctx, vin, map[string]interface{}{"price_override": 37500}); err != nil || !ok {
		t.Fatalf("set override: ok=%v err=%v", ok, err)
	}
	if ok, err := s.UpdateVehicleFields(ctx, vin, map[string]interface{}{"price_override": nil}); err != nil || !ok {
		t.Fatalf("clear override: ok=%v err=%v", ok, err)
	}

	v, err := s.Vehicle(ctx, vin)
	if err != nil {
		t.Fatalf("vehicle: %v", err)
	}
	if v.PriceOverride != nil {
		t.Fatalf("expected override cleared, got %v", *v.PriceOverride)
	}
	// 清空后对外价格回落到抓取价
	if p := v.EffectivePrice(); p == nil || *p != 38995 {
		t.Fatalf("expected effective price back to scraped 38995, got %v", p)
	}
}

func TestUpdateVehicleFields_MissingVehicle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.UpdateVehicleFields(ctx, "ZZZZZZZZZZZZZZZZZ", map[string]interface{}{"notes": "nope"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Fatalf("expected false for unknown VIN")
	}
}

func TestComparable(t *testing.T) {
	s := newTestStore(t)
	seedLot(t, s)
	ctx := context.Background()

	rows, err := s.Comparable(ctx, "1FAFP404X1F123456", 4, 10)
	if err != nil {
		t.Fatalf("comparable: %v", err)
	}
	// 2015 超出 4 年窗口，目标车自己也不在结果里
	if len(rows) != 2 {
		t.Fatalf("expected 2 comparables, got %d", len(rows))
	}
	// 同年款排最前
	if rows[0].VIN != "1FTFW1E51MFB22222" {
		t.Fatalf("expected same-year vehicle first, got %s", rows[0].VIN)
	}
	if !rows[0].NearDuplicate {
		t.Fatalf("expected same year + same trim to flag near duplicate")
	}
	if rows[1].NearDuplicate {
		t.Fatalf("expected different year to not flag near duplicate")
	}
}

func TestComparable_UnknownVIN(t *testing.T) {
	s := newTestStore(t)
	seedLot(t, s)

	rows, err := s.Comparable(context.Background(), "ZZZZZZZZZZZZZZZZZ", 4, 10)
	if err != nil {
		t.Fatalf("comparable: %v", err)
	}
	if rows != nil {
		t.Fatalf("expected nil result for unknown VIN")
	}
}

func TestInventorySummary(t *testing.T) {
	s := newTestStore(t)
	seedLot(t, s)
	ctx := context.Background()

	// 一台车人工标价，一台车抓价失败达到上限
	if ok, err := s.UpdateVehicleFields(ctx, "1FAFP404X1F123456", map[string]interface{}{"price_override": 37500}); err != nil || !ok {
		t.Fatalf("set override: ok=%v err=%v", ok, err)
	}
	if err := s.UpdateScrapeAttempts(ctx, map[string]int{"1FTFW1E53KFC33333": 3}); err != nil {
		t.Fatalf("update attempts: %v", err)
	}

	sum, err := s.InventorySummary(ctx, 3)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalActive != 5 {
		t.Fatalf("expected 5 active, got %d", sum.TotalActive)
	}
	if sum.NewCount != 1 || sum.UsedCount != 4 {
		t.Fatalf("expected 1 new / 4 used, got %d / %d", sum.NewCount, sum.UsedCount)
	}
	if sum.WithPrice != 5 || sum.MissingPrice != 0 {
		t.Fatalf("expected all priced, got %d / %d", sum.WithPrice, sum.MissingPrice)
	}
	// 总价值用对外价格（人工标价优先）
	wantTotal := 37500 + 45995 + 39495 + 21995 + 29995
	if sum.TotalValue != wantTotal {
		t.Fatalf("expected total value %d, got %d", wantTotal, sum.TotalValue)
	}
	if sum.Exhausted != 1 {
		t.Fatalf("expected 1 exhausted vehicle, got %d", sum.Exhausted)
	}
}

func TestDealHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	day8 := day1.Add(7 * 24 * time.Hour)

	seedVehicles(t, s, []model.VehicleRecord{
		{VIN: "1FAFP404X1F123456", Title: "2021 Ford F-150 XLT", Year: "2021", Make: "Ford", Model: "F-150", Price: "38995"},
		{VIN: "1HGCM82633A004352", Title: "2024 Honda Accord EX", Year: "2024", Make: "Honda", Model: "Accord", Price: "29995"},
	}, day1)

	// 一周后 F-150 卖掉了
	seedVehicles(t, s, []model.VehicleRecord{
		{VIN: "1HGCM82633A004352", Title: "2024 Honda Accord EX", Year: "2024", Make: "Honda", Model: "Accord", Price: "29995"},
	}, day8)

	entries, benchmarks, err := s.DealHistory(ctx, 50)
	if err != nil {
		t.Fatalf("deal history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 sold vehicle, got %d", len(entries))
	}
	if entries[0].VIN != "1FAFP404X1F123456" {
		t.Fatalf("expected the F-150 to show as sold")
	}
	// first_seen 和 last_seen 同一天也算 1 天
	if entries[0].DaysListed != 1 {
		t.Fatalf("expected 1 day listed, got %d", entries[0].DaysListed)
	}
	if len(benchmarks) != 1 || benchmarks[0].Model != "F-150" || benchmarks[0].Sold != 1 {
		t.Fatalf("unexpected benchmarks: %v", benchmarks)
	}
}

func TestMakesAndYears(t *testing.T) {
	s := newTestStore(t)
	seedLot(t, s)
	ctx := context.Background()

	makes, err := s.Makes(ctx)
	if err != nil {
		t.Fatalf("makes: %v", err)
	}
	if len(makes) != 2 || makes[0] != "Ford" || makes[1] != "Honda" {
		t.Fatalf("unexpected makes: %v", makes)
	}

	years, err := s.Years(ctx)
	if err != nil {
		t.Fatalf("years: %v", err)
	}
	if len(years) == 0 || years[0] != 2024 {
		t.Fatalf("expected newest year first, got %v", years)
	}
}
