package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lotsync/internal/config"
	"lotsync/internal/feed"
	"lotsync/internal/pkg/logger"
	"lotsync/internal/publish"
	"lotsync/internal/store"
	"lotsync/internal/syncer"

	"github.com/joho/godotenv"
)

// main 是一次性同步的入口函数（给 cron 用）。
//
// 它跑完一整轮同步就退出：抓库存、补价格、产出 CSV/XML、上传目录、
// 对账入库、记录审计。失败时退出码为 1。
func main() {
	csvOnly := flag.Bool("csv-only", false, "只产出 CSV/XML，不上传目录")
	noPrices := flag.Bool("no-price-scrape", false, "跳过价格发现")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithTimeout(ctx, cfg.App.SyncTimeout)
	defer cancel()

	st, err := store.Open(cfg.MySQL.DSN, appLogger)
	if err != nil {
		appLogger.Error("open store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	source := feed.NewClient(&cfg.Dealer, appLogger)
	publisher := publish.NewCatalogClient(&cfg.Catalog, appLogger)
	engine := syncer.NewEngine(cfg, st, source, publisher, appLogger)

	res, err := engine.Run(runCtx, syncer.RunOptions{
		SkipPrices: *noPrices,
		SkipUpload: *csvOnly,
	})
	if err != nil {
		appLogger.Error("sync failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("sync complete",
		slog.Int("found", res.Found),
		slog.Int("priced", res.Priced),
		slog.Int("uploaded", res.Uploaded),
		slog.String("message", res.Message))
}
