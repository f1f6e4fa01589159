package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"lotsync/internal/model"
)

// RSS 降级源：库存 API 故障时从站点 RSS 提取车辆。
//
// RSS 的 description 是一段 HTML，车辆属性（VIN、库存号、里程、颜色、
// 价格）都靠正则从里面抠出来，能抠多少算多少；抠不出 VIN 的条目丢弃。

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
}

var (
	rssVIN      = regexp.MustCompile(`(?i)VIN#[:\s]+([A-HJ-NPR-Z0-9]{17})`)
	rssLinkVIN  = regexp.MustCompile(`([A-HJ-NPR-Z0-9]{17})$`)
	rssStock    = regexp.MustCompile(`(?i)Stock#[:\s]+(\S+)`)
	rssMileage  = regexp.MustCompile(`(?i)([\d,]+)\s*(?:Miles|mi\.?)\b`)
	rssColor    = regexp.MustCompile(`(?i)Exterior Color[:\s]+([^<\n,]+)`)
	rssImage    = regexp.MustCompile(`(?i)src=["']([^"']+inventoryphotos[^"']+)["']`)
	rssTitle    = regexp.MustCompile(`^(\d{4})\s+(\S+)\s+(\S+)\s*(.*)`)
	whitespace  = regexp.MustCompile(`\s+`)
	rssPricePat = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:Sale|Internet|Our|Asking|Final|List|MSRP|Retail)\s*Price[:\s]*\$?\s*([\d]{2,3},?[\d]{3})`),
		regexp.MustCompile(`(?i)Price[:\s]*\$\s*([\d]{2,3},?[\d]{3})`),
		regexp.MustCompile(`\$\s*([\d]{2,3},[\d]{3})`),
	}
)

// FetchRSS 拉取所有配置的 RSS 源，按 VIN 去重合并。
func (c *Client) FetchRSS(ctx context.Context) ([]model.VehicleRecord, error) {
	if len(c.cfg.RSSFeeds) == 0 {
		return nil, fmt.Errorf("no rss feeds configured")
	}

	domain := c.dealerHost()
	seen := map[string]bool{}
	var records []model.VehicleRecord

	for _, feedURL := range c.cfg.RSSFeeds {
		// 域名不匹配的源直接跳过，防止误拉兄弟店的库存
		if domain != "" && !strings.Contains(strings.ToLower(feedURL), domain) {
			c.logger.Warn("rss feed skipped, wrong store domain", slog.String("url", feedURL))
			continue
		}

		items, err := c.fetchRSSItems(ctx, feedURL)
		if err != nil {
			c.logger.Warn("rss feed fetch failed", slog.String("url", feedURL), slog.String("error", err.Error()))
			continue
		}

		condition := "used"
		if strings.Contains(strings.ToLower(feedURL), "new") {
			condition = "new"
		}

		added := 0
		for _, item := range items {
			rec, ok := c.itemToRecord(item, condition, domain)
			if !ok || seen[rec.VIN] {
				continue
			}
			seen[rec.VIN] = true
			records = append(records, rec)
			added++
		}
		c.logger.Info("rss feed parsed", slog.String("url", feedURL), slog.Int("added", added))
	}

	return records, nil
}

func (c *Client) dealerHost() string {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
}

func (c *Client) fetchRSSItems(ctx context.Context, feedURL string) ([]rssItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rss body: %w", err)
	}

	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}
	return doc.Channel.Items, nil
}

func (c *Client) itemToRecord(item rssItem, condition, domain string) (model.VehicleRecord, bool) {
	link := strings.TrimSpace(item.Link)
	if domain != "" && !strings.Contains(strings.ToLower(link), domain) {
		return model.VehicleRecord{}, false
	}

	desc := item.Description

	vin := ""
	if m := rssVIN.FindStringSubmatch(desc); m != nil {
		vin = m[1]
	} else if m := rssLinkVIN.FindStringSubmatch(strings.TrimRight(link, "/")); m != nil {
		vin = m[1]
	}
	if vin == "" {
		return model.VehicleRecord{}, false
	}
	vin = strings.ToUpper(vin)

	stock := vin
	if m := rssStock.FindStringSubmatch(desc); m != nil {
		stock = m[1]
	}

	mileage := "0"
	if m := rssMileage.FindStringSubmatch(desc); m != nil {
		mileage = strings.ReplaceAll(m[1], ",", "")
	}

	color := ""
	if m := rssColor.FindStringSubmatch(desc); m != nil {
		color = strings.TrimSpace(m[1])
	}

	price := ""
	for _, pat := range rssPricePat {
		if m := pat.FindStringSubmatch(desc); m != nil {
			val, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
			if err == nil && val > 500 && val < 500000 {
				price = fmt.Sprintf("%d USD", val)
				break
			}
		}
	}

	imageURL := ""
	if m := rssImage.FindStringSubmatch(desc); m != nil {
		full := thumbnailPath.ReplaceAllString(m[1], "/$1")
		if strings.HasPrefix(full, "http") {
			imageURL = full
		} else {
			imageURL = strings.TrimRight(c.cfg.BaseURL, "/") + full
		}
	}

	title := whitespace.ReplaceAllString(strings.TrimSpace(item.Title), " ")
	year, make, mdl, trim := "", "", "", ""
	if m := rssTitle.FindStringSubmatch(title); m != nil {
		year, make, mdl, trim = m[1], m[2], m[3], strings.TrimSpace(m[4])
	}

	miles := 0
	if n, err := strconv.Atoi(mileage); err == nil {
		miles = n
	}
	description := fmt.Sprintf("%s. Stock #%s. VIN: %s. Mileage: %d miles. Exterior: %s. Available at %s. View full details at %s",
		title, stock, vin, miles, color, c.cfg.Name, link)

	return model.VehicleRecord{
		VIN:           vin,
		Title:         title,
		Link:          link,
		StockNumber:   stock,
		Mileage:       mileage,
		ExteriorColor: color,
		ImageURL:      imageURL,
		Year:          year,
		Make:          make,
		Model:         mdl,
		Trim:          trim,
		Description:   description,
		Price:         price,
		Condition:     condition,
	}, true
}
