package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Dealer   DealerConfig   `json:"dealer"`
	Market   MarketConfig   `json:"market"`
	Catalog  CatalogConfig  `json:"catalog"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env               string        `json:"env"`                 // 运行环境: local / prod
	LogLevel          string        `json:"log_level"`           // 日志级别: debug / info / warn / error
	HTTPAddr          string        `json:"http_addr"`           // 后台服务监听地址
	SyncTimeout       time.Duration `json:"sync_timeout"`        // 单次同步总超时（如 "20m"）
	DigestInterval    time.Duration `json:"digest_interval"`     // 库存摘要邮件间隔（如 "168h"）
	MaxScrapeAttempts int           `json:"max_scrape_attempts"` // 价格抓取连续失败上限，达到后跳过
	CompsCacheTTL     time.Duration `json:"comps_cache_ttl"`     // 比价缓存有效期（如 "24h"）
	CacheBackend      string        `json:"cache_backend"`       // 缓存后端: redis / sql（启动时二选一）
	AllowEmptyFeed    bool          `json:"allow_empty_feed"`    // 是否允许空库存批次清空在售状态
	YearWindow        int           `json:"year_window"`         // 同车型比价的年款窗口
	AddendumAmount    int           `json:"addendum_amount"`     // 全局默认加装费（美元）
	CSVPath           string        `json:"csv_path"`            // 同步产物 CSV 路径
	XMLPath           string        `json:"xml_path"`            // 同步产物 XML Feed 路径
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// DealerConfig 经销商站点与门店信息配置。
type DealerConfig struct {
	Name       string   `json:"name"`        // 门店名称（进 Feed 的 dealer_name）
	BaseURL    string   `json:"base_url"`    // 经销商官网根地址
	DealerID   string   `json:"dealer_id"`   // 库存 API 的 dealer 标识
	PageID     string   `json:"page_id"`     // 库存 API 的 page 标识
	RSSFeeds   []string `json:"rss_feeds"`   // RSS 降级源（新车/二手车）
	Address1   string   `json:"address1"`    // 门店地址
	City       string   `json:"city"`
	Region     string   `json:"region"`      // 州缩写
	PostalCode string   `json:"postal_code"` // 邮编（也是比价的默认中心）
	Country    string   `json:"country"`
	Radius     int      `json:"radius"`      // 比价搜索半径（英里）
}

// MarketConfig 同行比价 API 配置。
type MarketConfig struct {
	BaseURL string `json:"base_url"` // 比价 API 根地址
	APIKey  string `json:"api_key"`  // API Key（可被数据库设置覆盖）
}

// CatalogConfig 目录平台（车辆 Feed 上传）配置。
type CatalogConfig struct {
	GraphURL    string `json:"graph_url"`    // Graph API 根地址
	AccessToken string `json:"access_token"` // 访问令牌
	CatalogID   string `json:"catalog_id"`   // 目录 ID
	FeedName    string `json:"feed_name"`    // Feed 名称（按名称查找或创建）
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	DigestTo  string `json:"digest_to"` // 库存摘要收件人
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret     string `json:"jwt_secret"`     // JWT 签名密钥
	AdminUser     string `json:"admin_user"`     // 初始管理员用户名
	AdminPassword string `json:"admin_password"` // 初始管理员密码（首次启动建库用）
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// 应用默认值（对于未设置的字段）
	applyDefaults(cfg)

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:               "local",
			LogLevel:          "info",
			HTTPAddr:          ":8090",
			SyncTimeout:       20 * time.Minute,
			DigestInterval:    168 * time.Hour,
			MaxScrapeAttempts: 3,
			CompsCacheTTL:     24 * time.Hour,
			CacheBackend:      "sql",
			AllowEmptyFeed:    false,
			YearWindow:        4,
			AddendumAmount:    1995,
			CSVPath:           "inventory_feed.csv",
			XMLPath:           "inventory_feed.xml",
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/lotsync?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Dealer: DealerConfig{
			Name:       "",
			BaseURL:    "",
			DealerID:   "",
			PageID:     "",
			RSSFeeds:   nil,
			Address1:   "",
			City:       "",
			Region:     "",
			PostalCode: "",
			Country:    "US",
			Radius:     100,
		},
		Market: MarketConfig{
			BaseURL: "https://api.marketcheck.com/v2",
			APIKey:  "",
		},
		Catalog: CatalogConfig{
			GraphURL:    "https://graph.facebook.com/v19.0",
			AccessToken: "",
			CatalogID:   "",
			FeedName:    "Lot Inventory Feed",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
			DigestTo:  "",
		},
		Security: SecurityConfig{
			JWTSecret:     "dev_secret_change_me",
			AdminUser:     "admin",
			AdminPassword: "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.SyncTimeout == 0 {
		cfg.App.SyncTimeout = defaults.App.SyncTimeout
	}
	if cfg.App.DigestInterval == 0 {
		cfg.App.DigestInterval = defaults.App.DigestInterval
	}
	if cfg.App.MaxScrapeAttempts == 0 {
		cfg.App.MaxScrapeAttempts = defaults.App.MaxScrapeAttempts
	}
	if cfg.App.CompsCacheTTL == 0 {
		cfg.App.CompsCacheTTL = defaults.App.CompsCacheTTL
	}
	if cfg.App.CacheBackend == "" {
		cfg.App.CacheBackend = defaults.App.CacheBackend
	}
	if cfg.App.YearWindow == 0 {
		cfg.App.YearWindow = defaults.App.YearWindow
	}
	if cfg.App.AddendumAmount == 0 {
		cfg.App.AddendumAmount = defaults.App.AddendumAmount
	}
	if cfg.App.CSVPath == "" {
		cfg.App.CSVPath = defaults.App.CSVPath
	}
	if cfg.App.XMLPath == "" {
		cfg.App.XMLPath = defaults.App.XMLPath
	}
	if cfg.Dealer.Country == "" {
		cfg.Dealer.Country = defaults.Dealer.Country
	}
	if cfg.Dealer.Radius == 0 {
		cfg.Dealer.Radius = defaults.Dealer.Radius
	}
	if cfg.Market.BaseURL == "" {
		cfg.Market.BaseURL = defaults.Market.BaseURL
	}
	if cfg.Catalog.GraphURL == "" {
		cfg.Catalog.GraphURL = defaults.Catalog.GraphURL
	}
	if cfg.Catalog.FeedName == "" {
		cfg.Catalog.FeedName = defaults.Catalog.FeedName
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.AdminUser == "" {
		cfg.Security.AdminUser = defaults.Security.AdminUser
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("market_api_key", "MARKETCHECK_API_KEY")
	_ = viper.BindEnv("catalog_token", "FB_ACCESS_TOKEN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_SYNC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.SyncTimeout = d
		}
	}
	if v := os.Getenv("APP_DIGEST_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.DigestInterval = d
		}
	}
	if v := os.Getenv("MAX_SCRAPE_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxScrapeAttempts = i
		}
	}
	if v := os.Getenv("APP_COMPS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.CompsCacheTTL = d
		}
	}
	if v := os.Getenv("APP_CACHE_BACKEND"); v != "" {
		cfg.App.CacheBackend = strings.ToLower(v)
	}
	if v := os.Getenv("APP_ALLOW_EMPTY_FEED"); v != "" {
		cfg.App.AllowEmptyFeed = v == "true" || v == "1"
	}
	if v := os.Getenv("ADDENDUM_AMOUNT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.AddendumAmount = i
		}
	}

	if v := os.Getenv("DEALER_NAME"); v != "" {
		cfg.Dealer.Name = v
	}
	if v := os.Getenv("DEALER_BASE_URL"); v != "" {
		cfg.Dealer.BaseURL = v
	}
	if v := os.Getenv("DEALER_ID"); v != "" {
		cfg.Dealer.DealerID = v
	}
	if v := os.Getenv("DEALER_PAGE_ID"); v != "" {
		cfg.Dealer.PageID = v
	}
	if v := os.Getenv("DEALER_RSS_FEEDS"); v != "" {
		feeds := []string{}
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				feeds = append(feeds, u)
			}
		}
		cfg.Dealer.RSSFeeds = feeds
	}
	if v := os.Getenv("DEALER_ZIP"); v != "" {
		cfg.Dealer.PostalCode = v
	}
	if v := os.Getenv("MARKET_RADIUS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Dealer.Radius = i
		}
	}

	if v := viper.GetString("market_api_key"); v != "" {
		cfg.Market.APIKey = v
	}
	if v := os.Getenv("MARKET_BASE_URL"); v != "" {
		cfg.Market.BaseURL = v
	}
	if v := viper.GetString("catalog_token"); v != "" {
		cfg.Catalog.AccessToken = v
	}
	if v := os.Getenv("FB_CATALOG_ID"); v != "" {
		cfg.Catalog.CatalogID = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("ADMIN_USER"); v != "" {
		cfg.Security.AdminUser = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Security.AdminPassword = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			host := v
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = host + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("DIGEST_TO"); v != "" {
		cfg.Email.DigestTo = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn == "" {
		return &mysql.Config{
			User:   "root",
			Passwd: "",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "lotsync",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "Local",
			},
		}
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return &mysql.Config{
			User:   "root",
			Passwd: "",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "lotsync",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "Local",
			},
		}
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		SyncTimeout    string `json:"sync_timeout"`
		DigestInterval string `json:"digest_interval"`
		CompsCacheTTL  string `json:"comps_cache_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.SyncTimeout != "" {
		duration, err := time.ParseDuration(aux.SyncTimeout)
		if err != nil {
			return fmt.Errorf("invalid sync_timeout format: %w", err)
		}
		a.SyncTimeout = duration
	}
	if aux.DigestInterval != "" {
		duration, err := time.ParseDuration(aux.DigestInterval)
		if err != nil {
			return fmt.Errorf("invalid digest_interval format: %w", err)
		}
		a.DigestInterval = duration
	}
	if aux.CompsCacheTTL != "" {
		duration, err := time.ParseDuration(aux.CompsCacheTTL)
		if err != nil {
			return fmt.Errorf("invalid comps_cache_ttl format: %w", err)
		}
		a.CompsCacheTTL = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		SyncTimeout    string `json:"sync_timeout"`
		DigestInterval string `json:"digest_interval"`
		CompsCacheTTL  string `json:"comps_cache_ttl"`
		*Alias
	}{
		SyncTimeout:    a.SyncTimeout.String(),
		DigestInterval: a.DigestInterval.String(),
		CompsCacheTTL:  a.CompsCacheTTL.String(),
		Alias:          (*Alias)(&a),
	})
}
