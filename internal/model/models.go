package model

import (
	"time"
)

// Vehicle 表示经销商库存中的一台车。
//
// VIN 是主键（车辆的全球唯一标识），同步时以 VIN 对账。
// price_scraped 是价格发现抓到的价格；price_override 等人工字段只能
// 通过后台编辑修改，同步流程永远不碰它们。
type Vehicle struct {
	VIN string `gorm:"column:vin;primaryKey;type:varchar(17)" json:"vin"` // 车辆识别码（主键）

	Title         string `gorm:"type:varchar(255)" json:"title"`             // 展示标题（如 "2021 Ford F-150 XLT"）
	StockNumber   string `gorm:"type:varchar(64)" json:"stock_number"`       // 库存编号
	Year          *int   `json:"year"`                                       // 年款（解析失败为 NULL）
	Make          string `gorm:"type:varchar(64);index" json:"make"`         // 品牌
	Model         string `gorm:"type:varchar(64)" json:"model"`              // 车型
	Trim          string `gorm:"type:varchar(128)" json:"trim"`              // 配置级别
	Condition     string `gorm:"type:varchar(16);default:used" json:"condition"` // 车况: new / used
	BodyStyle     string `gorm:"type:varchar(32)" json:"body_style"`         // 车身形式（SUV / Truck / Sedan ...）
	Mileage       int    `gorm:"default:0" json:"mileage"`                   // 里程（英里）
	ExteriorColor string `gorm:"type:varchar(64)" json:"exterior_color"`     // 外观颜色
	ImageURL      string `gorm:"type:varchar(512)" json:"image_url"`         // 主图链接
	Link          string `gorm:"type:varchar(512)" json:"link"`              // 详情页链接

	PriceScraped *int `json:"price_scraped"` // 抓取到的价格（美元整数，未知为 NULL）

	FirstSeen time.Time `gorm:"not null" json:"first_seen"`           // 首次出现在库存中的时间（仅插入时写入）
	LastSeen  time.Time `gorm:"not null" json:"last_seen"`            // 最近一次出现的时间
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`  // 是否仍在当前库存中

	// 人工维护字段（同步不覆盖）
	PriceOverride    *int   `json:"price_override"`            // 人工标价（覆盖抓取价）
	AddendumOverride *int   `json:"addendum_override"`         // 单车加装费（覆盖全局默认）
	MarketValue      *int   `json:"market_value"`              // 市场估值
	Cost             *int   `json:"cost"`                      // 进货成本
	Pack             int    `gorm:"default:0" json:"pack"`     // 固定 pack 费用
	Notes            string `gorm:"type:text" json:"notes"`    // 备注

	// Cox 报表导入字段（同步不覆盖，见 store.CoxImport）
	CoxAdjCostToMarket *int   `json:"cox_adj_cost_to_market"`                  // Adj Cost To Market 百分比
	CoxReportDate      string `gorm:"type:varchar(10)" json:"cox_report_date"` // 报表日期 MM/DD/YYYY

	PriceScrapeAttempts int `gorm:"default:0" json:"price_scrape_attempts"` // 连续价格抓取失败次数
}

// EffectivePrice 返回实际对外标价：人工标价优先，否则用抓取价。
//
// 两者都缺失时返回 nil（前端展示 "Call for Price"）。
func (v *Vehicle) EffectivePrice() *int {
	if v.PriceOverride != nil {
		return v.PriceOverride
	}
	return v.PriceScraped
}

// EffectiveAddendum 返回单车加装费，未设置时回落到全局默认值。
func (v *Vehicle) EffectiveAddendum(defaultAmount int) int {
	if v.AddendumOverride != nil {
		return *v.AddendumOverride
	}
	return defaultAmount
}

// VehicleRecord 是同步流水线中流转的原始车辆记录。
//
// 字段保持抓取来源给出的字符串形态，解析（年款、里程、价格）推迟到
// 入库阶段统一处理，解析失败按 NULL 落库而不是报错。
type VehicleRecord struct {
	VIN           string
	Title         string
	Link          string
	StockNumber   string
	Mileage       string
	ExteriorColor string
	ImageURL      string
	Year          string
	Make          string
	Model         string
	Trim          string
	Description   string
	Price         string // 如 "24995"、"24995 USD"，空串表示未知
	Condition     string
	BodyStyle     string
}

// SyncRun 记录一次同步的审计信息（只追加，不修改）。
type SyncRun struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	RunAt            time.Time `gorm:"not null;index" json:"run_at"` // 同步开始时间
	VehiclesFound    int       `json:"vehicles_found"`               // 抓到的车辆数
	VehiclesPriced   int       `json:"vehicles_priced"`              // 拿到价格的车辆数
	VehiclesUploaded int       `json:"vehicles_uploaded"`            // 上传到目录的车辆数
	DurationSeconds  float64   `json:"duration_seconds"`             // 本次耗时（秒）
	Success          bool      `json:"success"`                      // 是否成功
	Message          string    `gorm:"type:varchar(512)" json:"message"` // 摘要信息（失败时为错误）
}

// Setting 是键值形式的运行时设置（加装费、API Key、邮编等）。
type Setting struct {
	Key   string `gorm:"primaryKey;type:varchar(64)"`
	Value string `gorm:"type:varchar(512)"`
}

// Deal 是一次保存的报价单（desking 计算快照）。
type Deal struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	VIN          string  `gorm:"column:vin;type:varchar(17);index" json:"vin"` // 关联车辆
	CustomerName string  `gorm:"type:varchar(128)" json:"customer_name"`
	SalePrice    int     `json:"sale_price"`   // 成交价
	TradeValue   int     `json:"trade_value"`  // 置换车折价
	TradePayoff  int     `json:"trade_payoff"` // 置换车未还贷款
	CashDown     int     `json:"cash_down"`    // 首付
	Rate         float64 `json:"rate"`         // 年利率（百分比）
	TermMonths   int     `json:"term_months"`  // 贷款期数
	MonthlyPay   float64 `json:"monthly_pay"`  // 计算出的月供
	Notes        string  `gorm:"type:text" json:"notes"`
}

// CompsCacheEntry 是同行比价结果的 SQL 缓存行。
//
// fetched_at 与数据一起保存，读取时按 TTL 判定是否过期；过期行保留
// 在表里但按未命中处理。
type CompsCacheEntry struct {
	CacheKey  string    `gorm:"primaryKey;type:varchar(191)"` // lower(make)|lower(model)|zip|radius
	Data      string    `gorm:"type:longtext"`                // 比价列表 JSON
	FetchedAt time.Time `gorm:"not null"`
}

// VinCacheEntry 是 VIN 解码与窗贴查询的永久缓存行（无 TTL）。
type VinCacheEntry struct {
	VIN        string    `gorm:"column:vin;primaryKey;type:varchar(17)"`
	SpecsJSON  string    `gorm:"type:longtext"`     // 解码出的配置字段 JSON 数组
	StickerURL string    `gorm:"type:varchar(512)"` // 窗贴链接
	FetchedAt  time.Time `gorm:"not null"`
}

// VehicleStat 记录目录平台回传的单车曝光数据（按天累计）。
type VehicleStat struct {
	VIN      string `gorm:"column:vin;primaryKey;type:varchar(17)" json:"vin"`
	StatDate string `gorm:"primaryKey;type:varchar(10)" json:"stat_date"` // 统计日期 "2006-01-02"
	Views    int    `gorm:"default:0" json:"views"`                       // 浏览量
	Clicks   int    `gorm:"default:0" json:"clicks"`                      // 点击量
	Leads    int    `gorm:"default:0" json:"leads"`                       // 线索数
}
