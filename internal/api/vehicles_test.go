package api

import (
	"net/http"
	"testing"

	"lotsync/internal/model"
)

func seedTruck(t *testing.T, ts *testServer) {
	t.Helper()
	ts.seedVehicles(t,
		model.VehicleRecord{
			VIN: "1FTFW1E59MFA11111", Title: "2022 Ford F-150 Lariat",
			Year: "2022", Make: "Ford", Model: "F-150", Trim: "Lariat",
			Condition: "used", Price: "45995",
		},
		model.VehicleRecord{
			VIN: "1HGCM82633A004352", Title: "2024 Honda Accord EX",
			Year: "2024", Make: "Honda", Model: "Accord",
			Condition: "new", Price: "29995",
		},
	)
}

func TestListVehicles_Filters(t *testing.T) {
	ts := newTestServer(t)
	seedTruck(t, ts)

	w := ts.do(t, http.MethodGet, "/api/vehicles?make=Ford", nil, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["count"] != float64(1) {
		t.Fatalf("expected 1 ford, got %v", body["count"])
	}
}

func TestGetVehicle(t *testing.T) {
	ts := newTestServer(t)
	seedTruck(t, ts)

	w := ts.do(t, http.MethodGet, "/api/vehicles/1FTFW1E59MFA11111", nil, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["effective_price"] != float64(45995) {
		t.Fatalf("expected effective price from scrape, got %v", body["effective_price"])
	}
	// 没有人工加装费时吃配置默认值
	if body["effective_addendum"] != float64(995) {
		t.Fatalf("expected default addendum, got %v", body["effective_addendum"])
	}

	w = ts.do(t, http.MethodGet, "/api/vehicles/NOPE00000000NOPE0", nil, ts.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown vin, got %d", w.Code)
	}
}

func TestUpdateVehicle_OverrideAndClear(t *testing.T) {
	ts := newTestServer(t)
	seedTruck(t, ts)

	// 白名单外的字段被忽略，price_override 生效
	w := ts.do(t, http.MethodPatch, "/api/vehicles/1FTFW1E59MFA11111",
		map[string]interface{}{"price_override": 39995, "stock_number": 7}, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("patch: status %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/vehicles/1FTFW1E59MFA11111", nil, ts.token)
	if body := decodeBody(t, w); body["effective_price"] != float64(39995) {
		t.Fatalf("expected override to win, got %v", body["effective_price"])
	}

	// null 清空覆盖价，回落到抓到的价格
	w = ts.do(t, http.MethodPatch, "/api/vehicles/1FTFW1E59MFA11111",
		map[string]interface{}{"price_override": nil}, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("patch null: status %d", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/api/vehicles/1FTFW1E59MFA11111", nil, ts.token)
	if body := decodeBody(t, w); body["effective_price"] != float64(45995) {
		t.Fatalf("expected fallback to scraped price, got %v", body["effective_price"])
	}
}

func TestUpdateVehicle_Errors(t *testing.T) {
	ts := newTestServer(t)
	seedTruck(t, ts)

	w := ts.do(t, http.MethodPatch, "/api/vehicles/NOPE00000000NOPE0",
		map[string]interface{}{"price_override": 39995}, ts.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown vin, got %d", w.Code)
	}

	// 只带白名单外字段
	w = ts.do(t, http.MethodPatch, "/api/vehicles/1FTFW1E59MFA11111",
		map[string]interface{}{"stock_number": 7}, ts.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-editable fields, got %d", w.Code)
	}
}

func TestComparable_UnknownVIN(t *testing.T) {
	ts := newTestServer(t)
	seedTruck(t, ts)

	w := ts.do(t, http.MethodGet, "/api/vehicles/NOPE00000000NOPE0/comparable", nil, ts.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSaveDeal(t *testing.T) {
	ts := newTestServer(t)
	seedTruck(t, ts)

	w := ts.do(t, http.MethodPost, "/api/deals", map[string]interface{}{
		"vin":         "1ftfw1e59mfa11111",
		"sale_price":  45995,
		"cash_down":   5000,
		"trade_value": 10000,
		"rate":        0,
		"term_months": 60,
	}, ts.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("save deal: status %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	// 零利率退化成等额本金: (45995-5000-10000)/60
	if body["monthly_pay"] != float64(30995)/60 {
		t.Fatalf("unexpected monthly payment: %v", body["monthly_pay"])
	}
	if body["vin"] != "1FTFW1E59MFA11111" {
		t.Fatalf("expected vin normalized, got %v", body["vin"])
	}

	w = ts.do(t, http.MethodGet, "/api/deals?vin=1FTFW1E59MFA11111", nil, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("list deals: status %d", w.Code)
	}
	deals := decodeBody(t, w)["deals"].([]interface{})
	if len(deals) != 1 {
		t.Fatalf("expected 1 deal, got %d", len(deals))
	}
}

func TestSaveDeal_UnknownVIN(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/deals", map[string]interface{}{
		"vin": "NOPE00000000NOPE0", "sale_price": 1000,
	}, ts.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/settings", nil, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("get settings: status %d", w.Code)
	}
	body := decodeBody(t, w)
	// 配置里有 key，但只回传是否配置
	if body["market_api_key"] != "configured" {
		t.Fatalf("expected masked api key, got %v", body["market_api_key"])
	}
	if body["addendum_amount"] != float64(995) {
		t.Fatalf("expected default addendum, got %v", body["addendum_amount"])
	}

	w = ts.do(t, http.MethodPut, "/api/settings",
		map[string]interface{}{"addendum_amount": 1495, "market_radius": 250}, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("put settings: status %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/settings", nil, ts.token)
	body = decodeBody(t, w)
	if body["addendum_amount"] != float64(1495) || body["market_radius"] != float64(250) {
		t.Fatalf("expected persisted settings, got %v", body)
	}
	// 没动的键保持默认
	if body["dealer_zip"] != "49503" {
		t.Fatalf("expected untouched zip default, got %v", body["dealer_zip"])
	}
}

func TestUpsertStats(t *testing.T) {
	ts := newTestServer(t)
	seedTruck(t, ts)

	w := ts.do(t, http.MethodPost, "/api/stats", []map[string]interface{}{
		{"vin": "1ftfw1e59mfa11111", "stat_date": "2025-06-01", "views": 120, "clicks": 14, "leads": 2},
	}, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("upsert stats: status %d: %s", w.Code, w.Body.String())
	}

	// 同 (vin, 日期) 再写一次是覆盖不是追加
	w = ts.do(t, http.MethodPost, "/api/stats", []map[string]interface{}{
		{"vin": "1FTFW1E59MFA11111", "stat_date": "2025-06-01", "views": 150, "clicks": 20, "leads": 3},
	}, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("upsert stats again: status %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/vehicles/1FTFW1E59MFA11111/stats", nil, ts.token)
	stats := decodeBody(t, w)["stats"].([]interface{})
	if len(stats) != 1 {
		t.Fatalf("expected 1 stat row, got %d", len(stats))
	}
	row := stats[0].(map[string]interface{})
	if row["views"] != float64(150) {
		t.Fatalf("expected overwritten views, got %v", row["views"])
	}

	w = ts.do(t, http.MethodPost, "/api/stats", []map[string]interface{}{}, ts.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty payload, got %d", w.Code)
	}
}
