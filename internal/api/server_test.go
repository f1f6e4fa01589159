package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"lotsync/internal/api/auth"
	"lotsync/internal/config"
	"lotsync/internal/market"
	"lotsync/internal/model"
	"lotsync/internal/pkg/compscache"
	"lotsync/internal/pkg/metrics"
	"lotsync/internal/pkg/notify"
	"lotsync/internal/store"
	"lotsync/internal/syncer"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type fakeMarket struct {
	listings    []market.Listing
	searchErr   error
	searchCalls int

	specs       json.RawMessage
	decodeErr   error
	decodeCalls int

	stickerURL   string
	stickerErr   error
	stickerCalls int
}

func (f *fakeMarket) SearchActive(ctx context.Context, apiKey, vehicleMake, vehicleModel, zip string, radius int) ([]market.Listing, error) {
	f.searchCalls++
	return f.listings, f.searchErr
}

func (f *fakeMarket) DecodeVIN(ctx context.Context, apiKey, vin string) (json.RawMessage, error) {
	f.decodeCalls++
	return f.specs, f.decodeErr
}

func (f *fakeMarket) WindowSticker(ctx context.Context, apiKey, vin string) (string, error) {
	f.stickerCalls++
	return f.stickerURL, f.stickerErr
}

type fakeSync struct {
	triggerErr error
	calls      int
	status     syncer.Status
}

func (f *fakeSync) Trigger(ctx context.Context) error {
	f.calls++
	return f.triggerErr
}

func (f *fakeSync) Status() syncer.Status { return f.status }

type fakeNotifier struct {
	digests []*notify.Digest
	sendErr error
}

func (f *fakeNotifier) SendDigest(ctx context.Context, digest *notify.Digest) error {
	f.digests = append(f.digests, digest)
	return f.sendErr
}

type testServer struct {
	*Server
	market   *fakeMarket
	sync     *fakeSync
	notifier *fakeNotifier
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(db, logger)
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	if err := st.EnsureAdmin(context.Background(), "admin", "secret123"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	cfg := &config.Config{
		App: config.AppConfig{
			MaxScrapeAttempts: 3,
			CompsCacheTTL:     24 * time.Hour,
			YearWindow:        2,
			AddendumAmount:    995,
		},
		Dealer:   config.DealerConfig{PostalCode: "49503", Radius: 100},
		Market:   config.MarketConfig{APIKey: "key-1"},
		Security: config.SecurityConfig{JWTSecret: "test-secret"},
	}

	metrics.InitMetrics()

	fm := &fakeMarket{}
	fs := &fakeSync{}
	fn := &fakeNotifier{}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		cache:    compscache.NewSQL(db, cfg.App.CompsCacheTTL),
		market:   fm,
		sync:     fs,
		notifier: fn,
		auth:     auth.NewHandler(st, cfg.Security.JWTSecret, logger),
		router:   gin.New(),
	}
	s.registerRoutes()

	ts := &testServer{Server: s, market: fm, sync: fs, notifier: fn}
	ts.token = ts.login(t, "admin", "secret123")
	return ts
}

// login 走真实登录接口换取 JWT。
func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/login", gin.H{"username": username, "password": password}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", username, w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// seedVehicles 用一次对账写入测试车辆。
func (ts *testServer) seedVehicles(t *testing.T, records ...model.VehicleRecord) {
	t.Helper()
	if err := ts.store.Reconcile(context.Background(), records, store.ReconcileOptions{}); err != nil {
		t.Fatalf("seed vehicles: %v", err)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/login", gin.H{"username": "admin", "password": "wrong"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuth_MissingToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/vehicles", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/vehicles", nil, "not-a-jwt")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", w.Code)
	}
}

func TestAuth_Me(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/me", nil, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("me: status %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["username"] != "admin" || body["is_admin"] != true {
		t.Fatalf("unexpected me payload: %v", body)
	}
}

func TestAdminOnly_ForbiddenForRegularUser(t *testing.T) {
	ts := newTestServer(t)

	if _, err := ts.store.CreateUser(context.Background(), "sales", "password1", false); err != nil {
		t.Fatalf("create user: %v", err)
	}
	salesToken := ts.login(t, "sales", "password1")

	w := ts.do(t, http.MethodGet, "/api/users", nil, salesToken)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", w.Code)
	}

	// 管理员可以
	w = ts.do(t, http.MethodGet, "/api/users", nil, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", w.Code)
	}
}

func TestSendDigest_Endpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVehicles(t, model.VehicleRecord{
		VIN: "1FTFW1E59MFA11111", Title: "2022 Ford F-150 Lariat",
		Year: "2022", Make: "Ford", Model: "F-150", Price: "45995",
	})

	w := ts.do(t, http.MethodPost, "/api/digest", nil, ts.token)
	if w.Code != http.StatusOK {
		t.Fatalf("digest: status %d: %s", w.Code, w.Body.String())
	}
	if len(ts.notifier.digests) != 1 {
		t.Fatalf("expected one digest sent, got %d", len(ts.notifier.digests))
	}
	d := ts.notifier.digests[0]
	if d.Summary == nil || d.Summary.TotalActive != 1 {
		t.Fatalf("unexpected digest summary: %+v", d.Summary)
	}
}
