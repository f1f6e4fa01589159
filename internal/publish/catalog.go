package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lotsync/internal/config"
)

// ErrNotConfigured 表示目录平台未配置访问令牌，上传应跳过而不是报错。
var ErrNotConfigured = errors.New("catalog: access token not configured")

// CatalogClient 负责把 XML Feed 上传到目录平台（Graph API 风格）。
type CatalogClient struct {
	cfg        *config.CatalogConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCatalogClient 创建目录上传客户端。
func NewCatalogClient(cfg *config.CatalogConfig, logger *slog.Logger) *CatalogClient {
	return &CatalogClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger,
	}
}

// graphEnvelope 覆盖目录 API 的各种响应：出错时只有 error 字段。
type graphEnvelope struct {
	ID    string `json:"id"`
	Data  []struct {
		ID                   string `json:"id"`
		Name                 string `json:"name"`
		OwnedProductCatalogs struct {
			Data []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"data"`
		} `json:"owned_product_catalogs"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload 把 XML Feed 上传到目录，返回平台分配的 upload id。
//
// 令牌缺失返回 ErrNotConfigured；目录 ID 缺失时先自动发现。
func (c *CatalogClient) Upload(ctx context.Context, xmlBytes []byte) (string, error) {
	if c.cfg.AccessToken == "" {
		return "", ErrNotConfigured
	}

	catalogID := c.cfg.CatalogID
	if catalogID == "" {
		discovered, err := c.resolveCatalogID(ctx)
		if err != nil {
			return "", fmt.Errorf("resolve catalog: %w", err)
		}
		catalogID = discovered
		c.logger.Info("catalog auto-detected", slog.String("catalog_id", catalogID))
	}

	feedID, err := c.getOrCreateFeed(ctx, catalogID)
	if err != nil {
		return "", fmt.Errorf("get or create feed: %w", err)
	}

	return c.uploadFeed(ctx, feedID, xmlBytes)
}

// resolveCatalogID 自动发现令牌可见的第一个目录。
//
// 先查业务账号名下的目录，查不到再退回令牌直挂的目录（系统用户令牌）。
func (c *CatalogClient) resolveCatalogID(ctx context.Context) (string, error) {
	env, err := c.getJSON(ctx, "/me/businesses", url.Values{
		"fields": {"id,name,owned_product_catalogs{id,name}"},
	})
	if err == nil && env.Error == nil {
		for _, biz := range env.Data {
			if cats := biz.OwnedProductCatalogs.Data; len(cats) > 0 {
				return cats[0].ID, nil
			}
		}
	}

	env, err = c.getJSON(ctx, "/me/product_catalogs", url.Values{
		"fields": {"id,name"},
	})
	if err != nil {
		return "", err
	}
	if env.Error != nil {
		return "", fmt.Errorf("catalog api: %s", env.Error.Message)
	}
	if len(env.Data) == 0 {
		return "", fmt.Errorf("no catalog visible to this token")
	}
	return env.Data[0].ID, nil
}

// getOrCreateFeed 返回目录下第一个产品 Feed 的 ID，没有就按配置的名称新建。
func (c *CatalogClient) getOrCreateFeed(ctx context.Context, catalogID string) (string, error) {
	env, err := c.getJSON(ctx, "/"+catalogID+"/product_feeds", url.Values{
		"fields": {"id,name"},
	})
	if err != nil {
		return "", err
	}
	if env.Error != nil {
		return "", fmt.Errorf("catalog api: %s", env.Error.Message)
	}
	if len(env.Data) > 0 {
		return env.Data[0].ID, nil
	}

	form := url.Values{
		"name":         {c.cfg.FeedName},
		"access_token": {c.cfg.AccessToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.GraphURL, "/")+"/"+catalogID+"/product_feeds",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	created, err := c.doJSON(req)
	if err != nil {
		return "", err
	}
	if created.Error != nil {
		return "", fmt.Errorf("create feed: %s", created.Error.Message)
	}
	return created.ID, nil
}

func (c *CatalogClient) uploadFeed(ctx context.Context, feedID string, xmlBytes []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "inventory.xml")
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(xmlBytes); err != nil {
		return "", fmt.Errorf("write multipart: %w", err)
	}
	if err := mw.WriteField("access_token", c.cfg.AccessToken); err != nil {
		return "", fmt.Errorf("write token field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.GraphURL, "/")+"/"+feedID+"/uploads", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	env, err := c.doJSON(req)
	if err != nil {
		return "", err
	}
	if env.Error != nil {
		return "", fmt.Errorf("feed upload: %s", env.Error.Message)
	}
	return env.ID, nil
}

func (c *CatalogClient) getJSON(ctx context.Context, path string, params url.Values) (*graphEnvelope, error) {
	params.Set("access_token", c.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.cfg.GraphURL, "/")+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.doJSON(req)
}

func (c *CatalogClient) doJSON(req *http.Request) (*graphEnvelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalog response: %w", err)
	}

	var env graphEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	return &env, nil
}
