package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"lotsync/internal/model"
	"lotsync/internal/store"

	"github.com/gin-gonic/gin"
)

// handleListVehicles 返回车辆列表。
//
// GET /api/vehicles?q=&make=&condition=&body_style=&year=&active=1
func (s *Server) handleListVehicles(c *gin.Context) {
	f := store.VehicleFilter{
		Search:     c.Query("q"),
		Make:       c.Query("make"),
		Condition:  c.Query("condition"),
		BodyStyle:  c.Query("body_style"),
		Year:       parseQueryInt(c, "year", 0),
		ActiveOnly: c.DefaultQuery("active", "1") != "0",
	}

	vehicles, err := s.store.Vehicles(c.Request.Context(), f)
	if err != nil {
		s.logger.Error("list vehicles failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list vehicles failed"})
		return
	}

	settings, err := s.store.AllSettings(c.Request.Context(), s.settingsDefaults())
	if err != nil {
		s.logger.Warn("load settings failed", slog.String("error", err.Error()))
	}

	out := make([]gin.H, 0, len(vehicles))
	for i := range vehicles {
		out = append(out, vehicleView(&vehicles[i], settings.AddendumAmount))
	}
	c.JSON(http.StatusOK, gin.H{"vehicles": out, "count": len(out)})
}

// vehicleView 在原始字段之上补充算出来的对外价格和加装费。
func vehicleView(v *model.Vehicle, addendumDefault int) gin.H {
	return gin.H{
		"vehicle":            v,
		"effective_price":    v.EffectivePrice(),
		"effective_addendum": v.EffectiveAddendum(addendumDefault),
	}
}

// handleGetVehicle 返回单台车详情。
//
// GET /api/vehicles/:vin
func (s *Server) handleGetVehicle(c *gin.Context) {
	vin := c.Param("vin")
	v, err := s.store.Vehicle(c.Request.Context(), vin)
	if err != nil {
		s.logger.Error("get vehicle failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get vehicle failed"})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}

	settings, err := s.store.AllSettings(c.Request.Context(), s.settingsDefaults())
	if err != nil {
		s.logger.Warn("load settings failed", slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, vehicleView(v, settings.AddendumAmount))
}

// handleUpdateVehicle 更新人工维护字段。
//
// PATCH /api/vehicles/:vin
//
// 请求体是字段到值的映射；值为 null 表示清空该字段。白名单外的字段
// 直接忽略，整个请求没有可用字段时报 400。
func (s *Server) handleUpdateVehicle(c *gin.Context) {
	vin := c.Param("vin")

	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updates := map[string]interface{}{}
	for key, val := range raw {
		trimmed := strings.TrimSpace(string(val))
		if trimmed == "null" {
			updates[key] = nil
			continue
		}
		switch key {
		case "notes":
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value for " + key})
				return
			}
			updates[key] = s
		default:
			var n int
			if err := json.Unmarshal(val, &n); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value for " + key})
				return
			}
			updates[key] = n
		}
	}

	ok, err := s.store.UpdateVehicleFields(c.Request.Context(), vin, updates)
	if err != nil {
		s.logger.Error("update vehicle failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update vehicle failed"})
		return
	}
	if !ok {
		if len(updates) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no editable fields in request"})
			return
		}
		v, verr := s.store.Vehicle(c.Request.Context(), vin)
		if verr == nil && v == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no editable fields in request"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// handleComparable 返回库存内同车型的在售车辆。
//
// GET /api/vehicles/:vin/comparable?limit=10
func (s *Server) handleComparable(c *gin.Context) {
	vin := c.Param("vin")
	limit := parseQueryInt(c, "limit", 10)

	rows, err := s.store.Comparable(c.Request.Context(), vin, s.cfg.App.YearWindow, limit)
	if err != nil {
		s.logger.Error("comparable query failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "comparable query failed"})
		return
	}
	if rows == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"comparable": rows, "count": len(rows)})
}

// handleSummary 返回库存总览统计。
func (s *Server) handleSummary(c *gin.Context) {
	sum, err := s.store.InventorySummary(c.Request.Context(), s.cfg.App.MaxScrapeAttempts)
	if err != nil {
		s.logger.Error("summary failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleMakes(c *gin.Context) {
	makes, err := s.store.Makes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query makes failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"makes": makes})
}

func (s *Server) handleYears(c *gin.Context) {
	years, err := s.store.Years(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query years failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"years": years})
}

// handleDealHistory 返回已下架车辆和按车型的周转基准。
//
// GET /api/deal-history?limit=50
func (s *Server) handleDealHistory(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 50)
	entries, benchmarks, err := s.store.DealHistory(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("deal history failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deal history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sold": entries, "benchmarks": benchmarks})
}

// saveDealRequest 保存报价单的请求参数。
type saveDealRequest struct {
	VIN          string  `json:"vin" binding:"required"`
	CustomerName string  `json:"customer_name"`
	SalePrice    int     `json:"sale_price" binding:"required"`
	TradeValue   int     `json:"trade_value"`
	TradePayoff  int     `json:"trade_payoff"`
	CashDown     int     `json:"cash_down"`
	Rate         float64 `json:"rate"`
	TermMonths   int     `json:"term_months"`
	Notes        string  `json:"notes"`
}

// handleSaveDeal 计算月供并保存报价单快照。
//
// POST /api/deals
func (s *Server) handleSaveDeal(c *gin.Context) {
	var req saveDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vin and sale_price required"})
		return
	}

	vin := strings.ToUpper(strings.TrimSpace(req.VIN))
	v, err := s.store.Vehicle(c.Request.Context(), vin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup vehicle failed"})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}

	deal := model.Deal{
		VIN:          vin,
		CustomerName: req.CustomerName,
		SalePrice:    req.SalePrice,
		TradeValue:   req.TradeValue,
		TradePayoff:  req.TradePayoff,
		CashDown:     req.CashDown,
		Rate:         req.Rate,
		TermMonths:   req.TermMonths,
		MonthlyPay:   monthlyPayment(req),
		Notes:        req.Notes,
	}
	if err := s.store.SaveDeal(c.Request.Context(), &deal); err != nil {
		s.logger.Error("save deal failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save deal failed"})
		return
	}
	c.JSON(http.StatusCreated, deal)
}

// monthlyPayment 按标准分期公式计算月供。
//
// 融资额 = 成交价 - 首付 - 置换净值（折价 - 未还贷款）。利率为 0 时
// 退化成等额本金。
func monthlyPayment(req saveDealRequest) float64 {
	principal := float64(req.SalePrice - req.CashDown - (req.TradeValue - req.TradePayoff))
	if principal <= 0 || req.TermMonths <= 0 {
		return 0
	}
	monthlyRate := req.Rate / 100 / 12
	if monthlyRate == 0 {
		return principal / float64(req.TermMonths)
	}
	factor := 1.0
	for i := 0; i < req.TermMonths; i++ {
		factor *= 1 + monthlyRate
	}
	return principal * monthlyRate * factor / (factor - 1)
}

// handleListDeals 返回保存过的报价单。
//
// GET /api/deals?vin=&limit=50
func (s *Server) handleListDeals(c *gin.Context) {
	vin := strings.ToUpper(strings.TrimSpace(c.Query("vin")))
	limit := parseQueryInt(c, "limit", 50)

	deals, err := s.store.Deals(c.Request.Context(), vin, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query deals failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

// handleVehicleStats 返回单车最近的曝光数据。
//
// GET /api/vehicles/:vin/stats?limit=30
func (s *Server) handleVehicleStats(c *gin.Context) {
	vin := strings.ToUpper(strings.TrimSpace(c.Param("vin")))
	limit := parseQueryInt(c, "limit", 30)

	stats, err := s.store.VehicleStats(c.Request.Context(), vin, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query stats failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// statRequest 是目录平台回传的单车单日曝光数据。
type statRequest struct {
	VIN      string `json:"vin" binding:"required"`
	StatDate string `json:"stat_date"`
	Views    int    `json:"views"`
	Clicks   int    `json:"clicks"`
	Leads    int    `json:"leads"`
}

// handleUpsertStats 批量写入曝光数据，同 (vin, 日期) 覆盖。
//
// POST /api/stats
func (s *Server) handleUpsertStats(c *gin.Context) {
	var reqs []statRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stats payload"})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty stats payload"})
		return
	}

	today := time.Now().UTC().Format("2006-01-02")
	stats := make([]model.VehicleStat, 0, len(reqs))
	for _, r := range reqs {
		date := r.StatDate
		if date == "" {
			date = today
		}
		stats = append(stats, model.VehicleStat{
			VIN:      strings.ToUpper(strings.TrimSpace(r.VIN)),
			StatDate: date,
			Views:    r.Views,
			Clicks:   r.Clicks,
			Leads:    r.Leads,
		})
	}
	if err := s.store.UpsertVehicleStats(c.Request.Context(), stats); err != nil {
		s.logger.Error("upsert stats failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upsert stats failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upserted": len(stats)})
}

// handleGetSettings 返回运行时设置（含默认值回落）。
func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.store.AllSettings(c.Request.Context(), s.settingsDefaults())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query settings failed"})
		return
	}
	// API Key 不原样回传
	masked := settings
	if masked.MarketAPIKey != "" {
		masked.MarketAPIKey = "configured"
	}
	c.JSON(http.StatusOK, masked)
}

// updateSettingsRequest 更新运行时设置的请求参数，缺省字段不动。
type updateSettingsRequest struct {
	AddendumAmount *int    `json:"addendum_amount"`
	MarketAPIKey   *string `json:"market_api_key"`
	DealerZIP      *string `json:"dealer_zip"`
	MarketRadius   *int    `json:"market_radius"`
}

// handleUpdateSettings 写入运行时设置（键值表）。
//
// PUT /api/settings
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if req.AddendumAmount != nil {
		if err := s.store.SetSetting(ctx, "addendum_amount", strconv.Itoa(*req.AddendumAmount)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save setting failed"})
			return
		}
	}
	if req.MarketAPIKey != nil {
		if err := s.store.SetSetting(ctx, "market_api_key", *req.MarketAPIKey); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save setting failed"})
			return
		}
	}
	if req.DealerZIP != nil {
		if err := s.store.SetSetting(ctx, "dealer_zip", *req.DealerZIP); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save setting failed"})
			return
		}
	}
	if req.MarketRadius != nil {
		if err := s.store.SetSetting(ctx, "market_radius", strconv.Itoa(*req.MarketRadius)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save setting failed"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// parseQueryInt 解析查询参数中的整数值。
//
// 参数:
//
//	c: Gin 上下文
//	key: 参数名
//	def: 默认值
//
// 返回值:
//
//	int: 解析后的整数或默认值
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}
