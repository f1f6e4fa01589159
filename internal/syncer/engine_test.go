package syncer

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"log/slog"

	"lotsync/internal/config"
	"lotsync/internal/model"
	"lotsync/internal/publish"
	"lotsync/internal/store"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type fakeSource struct {
	inventory    []model.VehicleRecord
	inventoryErr error
	rss          []model.VehicleRecord
	rssErr       error
	prices       map[string]string
	pricesErr    error
	priceCalls   int
}

func (f *fakeSource) FetchInventory(ctx context.Context) ([]model.VehicleRecord, error) {
	return f.inventory, f.inventoryErr
}

func (f *fakeSource) FetchRSS(ctx context.Context) ([]model.VehicleRecord, error) {
	return f.rss, f.rssErr
}

func (f *fakeSource) Prices(ctx context.Context) (map[string]string, error) {
	f.priceCalls++
	return f.prices, f.pricesErr
}

type fakePublisher struct {
	uploadErr error
	calls     int
}

func (f *fakePublisher) Upload(ctx context.Context, xmlBytes []byte) (string, error) {
	f.calls++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "upload-1", nil
}

func newEngineForTest(t *testing.T, source *fakeSource, publisher *fakePublisher) (*Engine, *store.Store) {
	t.Helper()

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

	cfg := &config.Config{
		App: config.AppConfig{
			MaxScrapeAttempts: 3,
			CSVPath:           filepath.Join(t.TempDir(), "inventory_feed.csv"),
			XMLPath:           filepath.Join(t.TempDir(), "inventory_feed.xml"),
		},
		Dealer: config.DealerConfig{
			Name:       "Test Motors",
			Address1:   "100 Main St",
			City:       "Grand Rapids",
			Region:     "MI",
			PostalCode: "49503",
			Country:    "US",
		},
	}

	return NewEngine(cfg, st, source, publisher, logger), st
}

func TestEngine_RunFullPipeline(t *testing.T) {
	source := &fakeSource{
		inventory: []model.VehicleRecord{
			{VIN: "1FTFW1E59MFA11111", Title: "2022 Ford F-150 Lariat", Year: "2022", Make: "Ford", Model: "F-150", Price: "45995"},
			{VIN: "1HGCM82633A004352", Title: "2024 Honda Accord EX", Year: "2024", Make: "Honda", Model: "Accord"},
		},
		prices: map[string]string{"1HGCM82633A004352": "29995"},
	}
	publisher := &fakePublisher{}
	engine, st := newEngineForTest(t, source, publisher)
	ctx := context.Background()

	res, err := engine.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, message: %s", res.Message)
	}
	if res.Found != 2 || res.Priced != 2 || res.Uploaded != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if publisher.calls != 1 {
		t.Fatalf("expected one upload, got %d", publisher.calls)
	}

	// 抓到价格的车清零计数
	attempts, err := st.ScrapeAttempts(ctx, []string{"1HGCM82633A004352"})
	if err != nil {
		t.Fatalf("scrape attempts: %v", err)
	}
	if attempts["1HGCM82633A004352"] != 0 {
		t.Fatalf("expected attempts reset on success, got %d", attempts["1HGCM82633A004352"])
	}

	runs, err := st.SyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("sync runs: %v", err)
	}
	if len(runs) != 1 || !runs[0].Success || runs[0].VehiclesFound != 2 {
		t.Fatalf("unexpected sync run audit: %+v", runs)
	}

	if engine.Status().Running {
		t.Fatalf("expected engine idle after run")
	}
}

func TestEngine_AttemptBookkeeping(t *testing.T) {
	source := &fakeSource{
		inventory: []model.VehicleRecord{
			{VIN: "1FTFW1E59MFA11111", Title: "2022 Ford F-150 Lariat", Make: "Ford", Model: "F-150"},
		},
		prices: map[string]string{}, // 抓价失败
	}
	engine, st := newEngineForTest(t, source, &fakePublisher{})
	ctx := context.Background()

	// 连续三轮都拿不到价格
	for i := 1; i <= 3; i++ {
		if _, err := engine.Run(ctx, RunOptions{SkipUpload: true}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		attempts, err := st.ScrapeAttempts(ctx, []string{"1FTFW1E59MFA11111"})
		if err != nil {
			t.Fatalf("scrape attempts: %v", err)
		}
		if attempts["1FTFW1E59MFA11111"] != i {
			t.Fatalf("round %d: expected %d attempts, got %d", i, i, attempts["1FTFW1E59MFA11111"])
		}
	}

	// 达到上限后不再请求价格，计数保持不变
	before := source.priceCalls
	if _, err := engine.Run(ctx, RunOptions{SkipUpload: true}); err != nil {
		t.Fatalf("run after exhaustion: %v", err)
	}
	if source.priceCalls != before {
		t.Fatalf("expected no price call once budget exhausted")
	}
	attempts, err := st.ScrapeAttempts(ctx, []string{"1FTFW1E59MFA11111"})
	if err != nil {
		t.Fatalf("scrape attempts: %v", err)
	}
	if attempts["1FTFW1E59MFA11111"] != 3 {
		t.Fatalf("expected skipped vehicle attempts untouched, got %d", attempts["1FTFW1E59MFA11111"])
	}
}

func TestEngine_EmptyFeedRefused(t *testing.T) {
	source := &fakeSource{}
	engine, st := newEngineForTest(t, source, &fakePublisher{})
	ctx := context.Background()

	_, err := engine.Run(ctx, RunOptions{})
	if !errors.Is(err, store.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}

	// 拒绝也要进审计
	runs, err := st.SyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("sync runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Success {
		t.Fatalf("expected failed audit entry, got %+v", runs)
	}
}

func TestEngine_RSSFallback(t *testing.T) {
	source := &fakeSource{
		inventoryErr: errors.New("api down"),
		rss: []model.VehicleRecord{
			{VIN: "1FTFW1E59MFA11111", Title: "2022 Ford F-150 Lariat", Make: "Ford", Model: "F-150", Price: "45995"},
		},
	}
	engine, st := newEngineForTest(t, source, &fakePublisher{})

	res, err := engine.Run(context.Background(), RunOptions{SkipUpload: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Found != 1 {
		t.Fatalf("expected rss fallback to supply 1 vehicle, got %d", res.Found)
	}

	v, err := st.Vehicle(context.Background(), "1FTFW1E59MFA11111")
	if err != nil || v == nil {
		t.Fatalf("expected vehicle persisted from rss fallback")
	}
}

func TestEngine_UploadFailureStillReconciles(t *testing.T) {
	source := &fakeSource{
		inventory: []model.VehicleRecord{
			{VIN: "1FTFW1E59MFA11111", Title: "2022 Ford F-150 Lariat", Make: "Ford", Model: "F-150", Price: "45995"},
		},
	}
	publisher := &fakePublisher{uploadErr: errors.New("graph api 500")}
	engine, st := newEngineForTest(t, source, publisher)

	res, err := engine.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failed result on upload error")
	}
	if res.Uploaded != 0 {
		t.Fatalf("expected zero uploaded, got %d", res.Uploaded)
	}

	// 上传失败不拦截入库
	v, verr := st.Vehicle(context.Background(), "1FTFW1E59MFA11111")
	if verr != nil || v == nil || !v.IsActive {
		t.Fatalf("expected vehicle reconciled despite upload failure")
	}
}

func TestEngine_SkippedUploadNotConfigured(t *testing.T) {
	source := &fakeSource{
		inventory: []model.VehicleRecord{
			{VIN: "1FTFW1E59MFA11111", Title: "2022 Ford F-150 Lariat", Make: "Ford", Model: "F-150", Price: "45995"},
		},
	}
	publisher := &fakePublisher{uploadErr: publish.ErrNotConfigured}
	engine, _ := newEngineForTest(t, source, publisher)

	res, err := engine.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// 没配置令牌只是跳过，不算失败
	if !res.Success {
		t.Fatalf("expected success when upload not configured, message: %s", res.Message)
	}
	if res.Uploaded != 0 {
		t.Fatalf("expected zero uploaded, got %d", res.Uploaded)
	}
}
