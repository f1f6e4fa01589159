package api

import (
	"net/http"
	"testing"
)

const coxReportBody = `VIN: 1FTFW1E59MFA11111
2022 Ford F-150 Lariat
Internet Price: $36,995
Adj Cost To Market:92%
As of 06/01/2025
`

func TestCoxImport(t *testing.T) {
	ts := newTestServer(t)
	seedTruck(t, ts)

	w := ts.do(t, http.MethodPost, "/api/cox-import",
		map[string]interface{}{"raw_text": coxReportBody}, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("cox import: status %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["parsed"] != float64(1) || body["updated"] != float64(1) || body["skipped"] != float64(0) {
		t.Fatalf("unexpected import result: %v", body)
	}

	// 推导的市场估值落到车上: 36995 / 0.92
	w = ts.do(t, http.MethodGet, "/api/vehicles/1FTFW1E59MFA11111", nil, ts.token)
	vehicle := decodeBody(t, w)["vehicle"].(map[string]interface{})
	if vehicle["market_value"] != float64(40212) {
		t.Fatalf("expected derived market value, got %v", vehicle["market_value"])
	}
	if vehicle["cox_adj_cost_to_market"] != float64(92) {
		t.Fatalf("expected adj persisted, got %v", vehicle["cox_adj_cost_to_market"])
	}
}

func TestCoxImport_BadInput(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/cox-import",
		map[string]interface{}{"raw_text": "   "}, ts.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/cox-import",
		map[string]interface{}{"raw_text": "pasted the wrong thing entirely"}, ts.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when no VINs found, got %d", w.Code)
	}
}
