package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"lotsync/internal/config"
	"lotsync/internal/model"
)

// Client 从经销商站点拉取库存。
//
// 首选 DealerOn 库存 JSON API（一次拿到全部车辆和价格，不需要浏览器），
// API 不可用时降级到 RSS。
type Client struct {
	cfg        *config.DealerConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient 创建库存抓取客户端。
func NewClient(cfg *config.DealerConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// srpResponse 是库存搜索页 API 的响应结构（只取用到的字段）。
type srpResponse struct {
	Paging struct {
		PaginationDataModel struct {
			TotalPages int `json:"TotalPages"`
		} `json:"PaginationDataModel"`
	} `json:"Paging"`
	DisplayCards []struct {
		IsAdCard    bool         `json:"IsAdCard"`
		VehicleCard *vehicleCard `json:"VehicleCard"`
	} `json:"DisplayCards"`
}

type vehicleCard struct {
	VehicleVin          string      `json:"VehicleVin"`
	VehicleName         string      `json:"VehicleName"`
	VehicleYear         json.Number `json:"VehicleYear"`
	VehicleMake         string      `json:"VehicleMake"`
	VehicleModel        string      `json:"VehicleModel"`
	VehicleTrim         string      `json:"VehicleTrim"`
	VehicleType         string      `json:"VehicleType"`
	VehicleBodyStyle    string      `json:"VehicleBodyStyle"`
	VehicleEngine       string      `json:"VehicleEngine"`
	Mileage             string      `json:"Mileage"`
	ExteriorColorLabel  string      `json:"ExteriorColorLabel"`
	VehicleStockNumber  string      `json:"VehicleStockNumber"`
	VehicleDetailUrl    string      `json:"VehicleDetailUrl"`
	VehiclePriceLibrary string      `json:"VehiclePriceLibrary"`
	VehicleImageModel   struct {
		VehicleDetailUrl          string `json:"VehicleDetailUrl"`
		VehiclePhotoSrc           string `json:"VehiclePhotoSrc"`
		VehicleImageCarouselModel struct {
			PhotoList []string `json:"PhotoList"`
		} `json:"VehicleImageCarouselModel"`
	} `json:"VehicleImageModel"`
}

// FetchInventory 分页拉取全部库存，按 VIN 去重。
//
// TotalPages 只信第一页返回的值（后续页可能给过期数字）；某一页
// 全是广告卡或空页时提前停止。
func (c *Client) FetchInventory(ctx context.Context) ([]model.VehicleRecord, error) {
	baseURL, err := c.srpURL()
	if err != nil {
		return nil, err
	}

	var records []model.VehicleRecord
	seen := map[string]bool{}
	totalPages := 1

	for page := 1; page <= totalPages; page++ {
		pageURL := baseURL
		if page > 1 {
			pageURL = fmt.Sprintf("%s&pn=%d", baseURL, page)
		}

		data, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			c.logger.Warn("inventory page fetch failed, stopping pagination",
				slog.Int("page", page), slog.String("error", err.Error()))
			break
		}

		if page == 1 && data.Paging.PaginationDataModel.TotalPages > 0 {
			totalPages = data.Paging.PaginationDataModel.TotalPages
		}

		added := 0
		for _, card := range data.DisplayCards {
			if card.IsAdCard || card.VehicleCard == nil {
				continue
			}
			rec, ok := c.cardToRecord(card.VehicleCard, seen)
			if !ok {
				continue
			}
			records = append(records, rec)
			added++
		}

		c.logger.Info("inventory page fetched",
			slog.Int("page", page),
			slog.Int("added", added),
			slog.Int("total", len(records)))

		if added == 0 {
			break
		}
	}

	return records, nil
}

// Prices 重新走一遍库存 API，返回 VIN → 价格映射。
//
// 这是价格发现步骤：RSS 来源没给价格的车在这里补齐。
func (c *Client) Prices(ctx context.Context) (map[string]string, error) {
	records, err := c.FetchInventory(ctx)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]string, len(records))
	for _, rec := range records {
		if rec.Price != "" {
			prices[rec.VIN] = rec.Price
		}
	}
	return prices, nil
}

func (c *Client) srpURL() (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("invalid dealer base url %q", c.cfg.BaseURL)
	}
	return fmt.Sprintf("%s/api/vhcliaa/vehicle-pages/cosmos/srp/vehicles/%s/%s?host=%s&pageSize=200",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.DealerID, c.cfg.PageID, base.Host), nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*srpResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch inventory page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inventory api status %d", resp.StatusCode)
	}

	var data srpResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode inventory page: %w", err)
	}
	return &data, nil
}

var (
	nonDigits     = regexp.MustCompile(`[^\d]`)
	sellingPrice  = regexp.MustCompile(`Selling Price:([\d.]+)`)
	thumbnailPath = regexp.MustCompile(`/thumbs/(\d+\.jpg)$`)
)

func (c *Client) cardToRecord(v *vehicleCard, seen map[string]bool) (model.VehicleRecord, bool) {
	vin := strings.ToUpper(strings.TrimSpace(v.VehicleVin))
	if vin == "" || seen[vin] {
		return model.VehicleRecord{}, false
	}
	seen[vin] = true

	link := v.VehicleDetailUrl
	if link == "" {
		link = v.VehicleImageModel.VehicleDetailUrl
	}

	imageURL := ""
	if photos := v.VehicleImageModel.VehicleImageCarouselModel.PhotoList; len(photos) > 0 {
		imageURL = strings.TrimRight(c.cfg.BaseURL, "/") + photos[0]
	} else if thumb := v.VehicleImageModel.VehiclePhotoSrc; thumb != "" {
		// 缩略图路径升级成原图
		imageURL = strings.TrimRight(c.cfg.BaseURL, "/") + thumbnailPath.ReplaceAllString(thumb, "/$1")
	}

	mileage := nonDigits.ReplaceAllString(v.Mileage, "")
	if mileage == "" {
		mileage = "0"
	}

	stock := v.VehicleStockNumber
	if stock == "" {
		stock = vin
	}

	title := strings.TrimSpace(v.VehicleName)
	if title == "" {
		title = strings.TrimSpace(fmt.Sprintf("%s %s %s", v.VehicleYear.String(), v.VehicleMake, v.VehicleModel))
	}

	descParts := []string{}
	for _, p := range []string{v.VehicleBodyStyle, v.VehicleEngine} {
		if p != "" {
			descParts = append(descParts, p)
		}
	}

	year := v.VehicleYear.String()
	if year == "0" {
		year = ""
	}

	return model.VehicleRecord{
		VIN:           vin,
		Title:         title,
		Link:          link,
		StockNumber:   stock,
		Mileage:       mileage,
		ExteriorColor: v.ExteriorColorLabel,
		ImageURL:      imageURL,
		Year:          year,
		Make:          v.VehicleMake,
		Model:         v.VehicleModel,
		Trim:          v.VehicleTrim,
		Description:   strings.Join(descParts, ", "),
		Price:         DecodePriceLibrary(v.VehiclePriceLibrary),
		Condition:     strings.ToLower(v.VehicleType),
		BodyStyle:     v.VehicleBodyStyle,
	}, true
}

// DecodePriceLibrary 从 base64 的价目字符串里解出在售价。
//
// 解码后形如 "Selling Price:15995.0;MSRP:18995.0;..."。价格必须落在
// (2500, 500000) 区间，否则当作无价（过滤掉年款、占位值之类的噪音）。
func DecodePriceLibrary(encoded string) string {
	if encoded == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	m := sellingPrice.FindStringSubmatch(string(decoded))
	if m == nil {
		return ""
	}

	var val float64
	if _, err := fmt.Sscanf(m[1], "%f", &val); err != nil {
		return ""
	}
	if val <= 2500 || val >= 500000 {
		return ""
	}
	return fmt.Sprintf("%d USD", int(val))
}
