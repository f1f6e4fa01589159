package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"lotsync/internal/config"
	"lotsync/internal/model"
	"lotsync/internal/pkg/metrics"
	"lotsync/internal/publish"
	"lotsync/internal/store"
)

// InventorySource 提供车辆记录和价格（生产实现是 feed.Client）。
type InventorySource interface {
	FetchInventory(ctx context.Context) ([]model.VehicleRecord, error)
	FetchRSS(ctx context.Context) ([]model.VehicleRecord, error)
	Prices(ctx context.Context) (map[string]string, error)
}

// Publisher 把 XML Feed 推到目录平台（生产实现是 publish.CatalogClient）。
type Publisher interface {
	Upload(ctx context.Context, xmlBytes []byte) (string, error)
}

// Engine 串起一次完整同步：
// 抓库存 → 按失败预算补价格 → 产出 CSV/XML → 上传目录 → 对账入库 →
// 回写失败计数 → 记录审计。
type Engine struct {
	cfg       *config.Config
	store     *store.Store
	source    InventorySource
	publisher Publisher
	logger    *slog.Logger
	state     *RunState
}

// NewEngine 创建同步引擎。
func NewEngine(cfg *config.Config, st *store.Store, source InventorySource, publisher Publisher, logger *slog.Logger) *Engine {
	metrics.InitMetrics()
	return &Engine{
		cfg:       cfg,
		store:     st,
		source:    source,
		publisher: publisher,
		logger:    logger,
		state:     NewRunState(),
	}
}

// RunOptions 控制一次同步跳过哪些步骤。
type RunOptions struct {
	SkipPrices bool // 跳过价格发现
	SkipUpload bool // 只出 CSV/XML，不上传目录
}

// Result 是一次同步的结果汇总。
type Result struct {
	Found    int           `json:"found"`
	Priced   int           `json:"priced"`
	Uploaded int           `json:"uploaded"`
	Duration time.Duration `json:"-"`
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
}

// Status 返回当前运行状态。
func (e *Engine) Status() Status {
	return e.state.Status()
}

// Trigger 异步启动一次同步；已在运行时返回 ErrSyncRunning。
func (e *Engine) Trigger(ctx context.Context) error {
	if err := e.state.Begin(); err != nil {
		return err
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("PANIC in sync run", slog.Any("panic", r))
				e.state.Finish(fmt.Sprintf("Crashed: %v", r))
			}
		}()

		runCtx, cancel := context.WithTimeout(context.Background(), e.cfg.App.SyncTimeout)
		defer cancel()

		res, err := e.run(runCtx, RunOptions{})
		if err != nil {
			e.state.Finish(fmt.Sprintf("Failed: %v", err))
			return
		}
		e.state.Finish(res.Message)
	}()

	return nil
}

// Run 同步执行一次完整同步（命令行入口用）。
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if err := e.state.Begin(); err != nil {
		return nil, err
	}

	res, err := e.run(ctx, opts)
	if err != nil {
		e.state.Finish(fmt.Sprintf("Failed: %v", err))
		return res, err
	}
	e.state.Finish(res.Message)
	return res, nil
}

func (e *Engine) run(ctx context.Context, opts RunOptions) (*Result, error) {
	start := time.Now()

	// 1. 抓库存：API 优先，失败或为空时降级 RSS
	records, err := e.source.FetchInventory(ctx)
	if err != nil || len(records) == 0 {
		if err != nil {
			e.logger.Warn("inventory api failed, falling back to rss", slog.String("error", err.Error()))
		} else {
			e.logger.Warn("inventory api returned no vehicles, falling back to rss")
		}
		records, err = e.source.FetchRSS(ctx)
		if err != nil {
			e.recordRun(ctx, &Result{Duration: time.Since(start), Message: "inventory fetch failed"})
			return nil, fmt.Errorf("fetch inventory: %w", err)
		}
	}

	if len(records) == 0 && !e.cfg.App.AllowEmptyFeed {
		res := &Result{Duration: time.Since(start), Message: "empty feed refused"}
		e.recordRun(ctx, res)
		return res, store.ErrEmptyBatch
	}
	e.logger.Info("inventory fetched", slog.Int("vehicles", len(records)))

	// 2. 价格发现：跳过已达失败上限的车
	attempted := map[string]bool{}
	prevAttempts := map[string]int{}
	if !opts.SkipPrices {
		records, attempted, prevAttempts = e.discoverPrices(ctx, records)
	}

	priced := 0
	for _, rec := range records {
		if rec.Price != "" {
			priced++
		}
	}

	res := &Result{Found: len(records), Priced: priced, Success: true}

	// 3. 产出 CSV 备份和 XML Feed
	if err := publish.WriteCSV(records, e.cfg.App.CSVPath); err != nil {
		e.logger.Warn("csv backup failed", slog.String("error", err.Error()))
	}
	xmlBytes, err := publish.BuildXMLFeed(records, &e.cfg.Dealer)
	if err != nil {
		res.Success = false
		res.Message = fmt.Sprintf("build feed failed: %v", err)
	} else if e.cfg.App.XMLPath != "" {
		if err := os.WriteFile(e.cfg.App.XMLPath, xmlBytes, 0o644); err != nil {
			e.logger.Warn("xml feed backup failed", slog.String("error", err.Error()))
		}
	}

	// 4. 上传目录
	if res.Success && !opts.SkipUpload {
		uploadID, err := e.publisher.Upload(ctx, xmlBytes)
		switch {
		case errors.Is(err, publish.ErrNotConfigured):
			e.logger.Warn("catalog upload skipped, access token not configured")
			metrics.CatalogUploadsTotal.WithLabelValues("skipped").Inc()
		case err != nil:
			e.logger.Error("catalog upload failed", slog.String("error", err.Error()))
			metrics.CatalogUploadsTotal.WithLabelValues("error").Inc()
			res.Success = false
			res.Message = fmt.Sprintf("catalog upload failed: %v", err)
		default:
			e.logger.Info("catalog upload accepted", slog.String("upload_id", uploadID))
			metrics.CatalogUploadsTotal.WithLabelValues("ok").Inc()
			res.Uploaded = len(records)
		}
	}

	// 5. 对账入库（单事务，人工字段不动）
	if err := e.store.Reconcile(ctx, records, store.ReconcileOptions{AllowEmpty: e.cfg.App.AllowEmptyFeed}); err != nil {
		res.Success = false
		res.Message = fmt.Sprintf("reconcile failed: %v", err)
		res.Duration = time.Since(start)
		e.recordRun(ctx, res)
		return res, fmt.Errorf("reconcile: %w", err)
	}

	// 6. 回写失败计数：本轮尝试过的车，拿到价清零，没拿到加一；
	//    跳过的车保持原计数。出错只记日志，不影响同步结果。
	updates := map[string]int{}
	for _, rec := range records {
		if !attempted[rec.VIN] {
			continue
		}
		if rec.Price != "" {
			updates[rec.VIN] = 0
		} else {
			updates[rec.VIN] = prevAttempts[rec.VIN] + 1
		}
	}
	if len(updates) > 0 {
		if err := e.store.UpdateScrapeAttempts(ctx, updates); err != nil {
			e.logger.Error("scrape attempt bookkeeping failed", slog.String("error", err.Error()))
		}
	}

	res.Duration = time.Since(start)
	if res.Message == "" {
		res.Message = fmt.Sprintf("Synced %d vehicles (%d priced, %d uploaded) in %.0fs",
			res.Found, res.Priced, res.Uploaded, res.Duration.Seconds())
	}

	e.updateGauges(ctx)
	e.recordRun(ctx, res)

	e.logger.Info("sync finished",
		slog.Int("found", res.Found),
		slog.Int("priced", res.Priced),
		slog.Int("uploaded", res.Uploaded),
		slog.Bool("success", res.Success),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// discoverPrices 给还没有价格的车补价，返回本轮尝试过的 VIN 集合和
// 尝试前的失败计数。
func (e *Engine) discoverPrices(ctx context.Context, records []model.VehicleRecord) ([]model.VehicleRecord, map[string]bool, map[string]int) {
	vins := make([]string, 0, len(records))
	for _, rec := range records {
		vins = append(vins, rec.VIN)
	}

	prevAttempts, err := e.store.ScrapeAttempts(ctx, vins)
	if err != nil {
		// 读不到历史计数就当全部为 0，继续跑
		e.logger.Error("load scrape attempts failed", slog.String("error", err.Error()))
		prevAttempts = map[string]int{}
	}

	attempted := map[string]bool{}
	need := 0
	skipped := 0
	for _, rec := range records {
		if rec.Price != "" {
			continue
		}
		if store.Exhausted(prevAttempts[rec.VIN], e.cfg.App.MaxScrapeAttempts) {
			skipped++
			continue
		}
		need++
	}
	if skipped > 0 {
		e.logger.Info("vehicles skipped by retry budget",
			slog.Int("skipped", skipped),
			slog.Int("ceiling", e.cfg.App.MaxScrapeAttempts))
	}
	if need == 0 {
		return records, attempted, prevAttempts
	}

	prices, err := e.source.Prices(ctx)
	if err != nil {
		e.logger.Warn("price discovery failed", slog.String("error", err.Error()))
		prices = map[string]string{}
	}

	for i := range records {
		rec := &records[i]
		if rec.Price != "" {
			continue
		}
		if store.Exhausted(prevAttempts[rec.VIN], e.cfg.App.MaxScrapeAttempts) {
			continue
		}
		attempted[rec.VIN] = true
		if p, ok := prices[rec.VIN]; ok {
			rec.Price = p
		}
	}
	return records, attempted, prevAttempts
}

func (e *Engine) updateGauges(ctx context.Context) {
	sum, err := e.store.InventorySummary(ctx, e.cfg.App.MaxScrapeAttempts)
	if err != nil {
		e.logger.Warn("inventory summary for metrics failed", slog.String("error", err.Error()))
		return
	}
	metrics.VehiclesActive.Set(float64(sum.TotalActive))
	metrics.VehiclesPriced.Set(float64(sum.WithPrice))
	metrics.ScrapeExhausted.Set(float64(sum.Exhausted))
}

func (e *Engine) recordRun(ctx context.Context, res *Result) {
	result := "error"
	if res.Success {
		result = "ok"
	}
	metrics.SyncRunsTotal.WithLabelValues(result).Inc()
	metrics.SyncDurationSeconds.Observe(res.Duration.Seconds())

	run := &model.SyncRun{
		RunAt:            time.Now().UTC().Add(-res.Duration),
		VehiclesFound:    res.Found,
		VehiclesPriced:   res.Priced,
		VehiclesUploaded: res.Uploaded,
		DurationSeconds:  res.Duration.Seconds(),
		Success:          res.Success,
		Message:          res.Message,
	}
	if err := e.store.RecordSyncRun(ctx, run); err != nil {
		e.logger.Error("record sync run failed", slog.String("error", err.Error()))
	}
}
