package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"log/slog"

	"lotsync/internal/api/auth"
	"lotsync/internal/api/middleware"
	"lotsync/internal/config"
	"lotsync/internal/feed"
	"lotsync/internal/market"
	"lotsync/internal/pkg/compscache"
	"lotsync/internal/pkg/metrics"
	"lotsync/internal/pkg/notify"
	"lotsync/internal/publish"
	"lotsync/internal/store"
	"lotsync/internal/syncer"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server 封装后台服务所需的依赖和路由处理。
//
// 它持有库存数据库、缓存后端、比价客户端、同步引擎以及 Gin 路由引擎。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	rdb      *redis.Client // 缓存后端为 redis 时才有
	cache    compscache.Cache
	market   MarketAPI
	sync     SyncController
	notifier notify.Notifier
	auth     *auth.Handler
	router   *gin.Engine
}

// SyncController 是同步引擎对后台暴露的最小接口。
type SyncController interface {
	Trigger(ctx context.Context) error
	Status() syncer.Status
}

// MarketAPI 是比价服务商对后台暴露的最小接口。
type MarketAPI interface {
	SearchActive(ctx context.Context, apiKey, vehicleMake, vehicleModel, zip string, radius int) ([]market.Listing, error)
	DecodeVIN(ctx context.Context, apiKey, vin string) (json.RawMessage, error)
	WindowSticker(ctx context.Context, apiKey, vin string) (string, error)
}

// NewServer 初始化后台服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 按配置选定缓存后端（Redis 或 SQL）
// 3. 初始化库存源、目录客户端和同步引擎
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.Open(cfg.MySQL.DSN, logger)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureAdmin(ctx, cfg.Security.AdminUser, cfg.Security.AdminPassword); err != nil {
		return nil, err
	}

	// 缓存后端启动时二选一，之后整个进程只用一个
	var rdb *redis.Client
	var cache compscache.Cache
	if cfg.App.CacheBackend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		cache = compscache.NewRedis(rdb, cfg.App.CompsCacheTTL)
	} else {
		cache = compscache.NewSQL(st.DB(), cfg.App.CompsCacheTTL)
	}

	source := feed.NewClient(&cfg.Dealer, logger)
	publisher := publish.NewCatalogClient(&cfg.Catalog, logger)
	engine := syncer.NewEngine(cfg, st, source, publisher, logger)
	notifier := notify.NewEmailNotifier(&cfg.Email, logger)

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		rdb:      rdb,
		cache:    cache,
		market:   market.NewClient(cfg.Market.BaseURL),
		sync:     engine,
		notifier: notifier,
		auth:     auth.NewHandler(st, cfg.Security.JWTSecret, logger),
		router:   r,
	}
	s.registerRoutes()
	return s, nil
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("dashboard listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartDigestScheduler 按配置的间隔定时发送库存摘要邮件。
func (s *Server) StartDigestScheduler(ctx context.Context) {
	interval := s.cfg.App.DigestInterval
	if interval <= 0 {
		s.logger.Info("digest scheduler disabled")
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in digest scheduler", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.SendDigest(ctx); err != nil {
					s.logger.Error("digest send failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// SendDigest 汇总当前库存并发送摘要邮件。
func (s *Server) SendDigest(ctx context.Context) error {
	sum, err := s.store.InventorySummary(ctx, s.cfg.App.MaxScrapeAttempts)
	if err != nil {
		return err
	}
	aging, benchmarks, err := s.store.DealHistory(ctx, 10)
	if err != nil {
		return err
	}
	return s.notifier.SendDigest(ctx, &notify.Digest{
		Summary:    sum,
		Aging:      aging,
		Benchmarks: benchmarks,
	})
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有的后台路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/login", s.auth.Login)

	authed := s.router.Group("/api")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.GET("/me", s.auth.Me)

	authed.GET("/vehicles", s.handleListVehicles)
	authed.GET("/vehicles/:vin", s.handleGetVehicle)
	authed.PATCH("/vehicles/:vin", s.handleUpdateVehicle)
	authed.GET("/vehicles/:vin/comparable", s.handleComparable)
	authed.GET("/vehicles/:vin/comps", s.handleMarketComps)
	authed.GET("/vehicles/:vin/specs", s.handleVINDecode)
	authed.GET("/vehicles/:vin/sticker", s.handleWindowSticker)
	authed.GET("/vehicles/:vin/stats", s.handleVehicleStats)

	authed.GET("/summary", s.handleSummary)
	authed.GET("/makes", s.handleMakes)
	authed.GET("/years", s.handleYears)
	authed.GET("/deal-history", s.handleDealHistory)

	authed.GET("/deals", s.handleListDeals)
	authed.POST("/deals", s.handleSaveDeal)

	authed.GET("/settings", s.handleGetSettings)
	authed.PUT("/settings", s.handleUpdateSettings)

	authed.GET("/sync-runs", s.handleSyncRuns)
	authed.GET("/sync-status", s.handleSyncStatus)
	authed.POST("/sync", s.handleTriggerSync)
	authed.POST("/stats", s.handleUpsertStats)
	authed.POST("/cox-import", s.handleCoxImport)
	authed.POST("/digest", s.handleSendDigest)

	admin := authed.Group("/users")
	admin.Use(middleware.AdminOnly())
	admin.GET("", s.auth.ListUsers)
	admin.POST("", s.auth.CreateUser)
	admin.DELETE("/:id", s.auth.DeleteUser)
	admin.POST("/:id/password", s.auth.ChangePassword)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.store.DB().WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// settingsDefaults 把配置文件/环境里的默认值打包，数据库里的设置优先。
func (s *Server) settingsDefaults() store.Settings {
	return store.Settings{
		AddendumAmount: s.cfg.App.AddendumAmount,
		MarketAPIKey:   s.cfg.Market.APIKey,
		DealerZIP:      s.cfg.Dealer.PostalCode,
		MarketRadius:   s.cfg.Dealer.Radius,
	}
}
