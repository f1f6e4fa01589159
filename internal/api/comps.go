package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"log/slog"

	"lotsync/internal/market"
	"lotsync/internal/pkg/compscache"
	"lotsync/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// handleMarketComps 返回同车型的同行在售比价列表。
//
// GET /api/vehicles/:vin/comps
//
// 比价列表按 lower(make)|lower(model)|zip|radius 缓存；beats_us 和
// price_diff 永远基于当前对外标价现算，缓存命中也不例外。
func (s *Server) handleMarketComps(c *gin.Context) {
	ctx := c.Request.Context()

	settings, err := s.store.AllSettings(ctx, s.settingsDefaults())
	if err != nil {
		s.logger.Error("load settings failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
		return
	}
	if settings.MarketAPIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "market api key not configured"})
		return
	}
	if settings.DealerZIP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dealer zip not configured"})
		return
	}

	v, err := s.store.Vehicle(ctx, c.Param("vin"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup vehicle failed"})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}
	if v.Make == "" || v.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vehicle is missing make or model"})
		return
	}

	key := compscache.Key(v.Make, v.Model, settings.DealerZIP, settings.MarketRadius)

	var listings []market.Listing
	cached := false

	payload, hit, err := s.cache.Comps(ctx, key)
	if err != nil {
		s.logger.Warn("comps cache read failed", slog.String("error", err.Error()))
	}
	if hit {
		if err := json.Unmarshal(payload, &listings); err != nil {
			s.logger.Warn("comps cache payload corrupt, refetching", slog.String("key", key))
			hit = false
		} else {
			cached = true
			metrics.CompsCacheHits.Inc()
		}
	}

	if !hit {
		metrics.CompsCacheMisses.Inc()
		listings, err = s.market.SearchActive(ctx, settings.MarketAPIKey, v.Make, v.Model, settings.DealerZIP, settings.MarketRadius)
		if errors.Is(err, market.ErrUpstream) {
			s.logger.Error("comps search failed", slog.String("error", err.Error()))
			c.JSON(http.StatusBadGateway, gin.H{"error": "market data provider unavailable"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "comps search failed"})
			return
		}

		// 计算字段不进缓存，落的是上游原始列表
		raw, err := json.Marshal(listings)
		if err == nil {
			if err := s.cache.SetComps(ctx, key, raw); err != nil {
				s.logger.Warn("comps cache write failed", slog.String("error", err.Error()))
			}
		}
	}

	ourPrice := v.EffectivePrice()
	enrichListings(listings, ourPrice)

	c.JSON(http.StatusOK, gin.H{
		"listings":  listings,
		"count":     len(listings),
		"our_price": ourPrice,
		"cached":    cached,
		"search": gin.H{
			"make":   v.Make,
			"model":  v.Model,
			"zip":    settings.DealerZIP,
			"radius": settings.MarketRadius,
		},
	})
}

// enrichListings 基于我们当前的对外标价填充 beats_us / price_diff。
func enrichListings(listings []market.Listing, ourPrice *int) {
	if ourPrice == nil {
		return
	}
	for i := range listings {
		l := &listings[i]
		if l.Price == nil {
			continue
		}
		diff := *l.Price - *ourPrice
		beats := *l.Price < *ourPrice
		l.PriceDiff = &diff
		l.BeatsUs = &beats
	}
}

// handleVINDecode 返回 VIN 解码出的配置清单。
//
// GET /api/vehicles/:vin/specs
//
// 解码结果不随时间变化，永久缓存。
func (s *Server) handleVINDecode(c *gin.Context) {
	ctx := c.Request.Context()

	settings, err := s.store.AllSettings(ctx, s.settingsDefaults())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
		return
	}
	if settings.MarketAPIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "market api key not configured"})
		return
	}

	vin := strings.ToUpper(strings.TrimSpace(c.Param("vin")))
	v, err := s.store.Vehicle(ctx, vin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup vehicle failed"})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}

	entry, err := s.cache.VIN(ctx, vin)
	if err != nil {
		s.logger.Warn("vin cache read failed", slog.String("error", err.Error()))
	}
	if entry != nil && hasSpecs(entry.Specs) {
		c.JSON(http.StatusOK, gin.H{"vin": vin, "specs": entry.Specs, "cached": true})
		return
	}

	specs, err := s.market.DecodeVIN(ctx, settings.MarketAPIKey, vin)
	if errors.Is(err, market.ErrUpstream) {
		s.logger.Error("vin decode failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "market data provider unavailable"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vin decode failed"})
		return
	}

	if hasSpecs(specs) {
		if err := s.cache.SetVIN(ctx, vin, specs, nil); err != nil {
			s.logger.Warn("vin cache write failed", slog.String("error", err.Error()))
		}
	}
	c.JSON(http.StatusOK, gin.H{"vin": vin, "specs": specs, "cached": false})
}

// hasSpecs 判断解码结果是否有内容（空数组不算）。
func hasSpecs(specs json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(specs))
	return trimmed != "" && trimmed != "[]" && trimmed != "null"
}

// handleWindowSticker 返回 VIN 对应的窗贴链接。
//
// GET /api/vehicles/:vin/sticker
func (s *Server) handleWindowSticker(c *gin.Context) {
	ctx := c.Request.Context()

	settings, err := s.store.AllSettings(ctx, s.settingsDefaults())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
		return
	}
	if settings.MarketAPIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "market api key not configured"})
		return
	}

	vin := strings.ToUpper(strings.TrimSpace(c.Param("vin")))
	v, err := s.store.Vehicle(ctx, vin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup vehicle failed"})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}

	entry, err := s.cache.VIN(ctx, vin)
	if err != nil {
		s.logger.Warn("vin cache read failed", slog.String("error", err.Error()))
	}
	if entry != nil && entry.StickerURL != "" {
		c.JSON(http.StatusOK, gin.H{"vin": vin, "url": entry.StickerURL, "cached": true})
		return
	}

	stickerURL, err := s.market.WindowSticker(ctx, settings.MarketAPIKey, vin)
	if errors.Is(err, market.ErrUpstream) {
		s.logger.Error("window sticker lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "market data provider unavailable"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "window sticker lookup failed"})
		return
	}

	if stickerURL != "" {
		if err := s.cache.SetVIN(ctx, vin, nil, &stickerURL); err != nil {
			s.logger.Warn("vin cache write failed", slog.String("error", err.Error()))
		}
	}
	c.JSON(http.StatusOK, gin.H{"vin": vin, "url": stickerURL, "cached": false})
}
