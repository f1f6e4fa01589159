package store

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"lotsync/internal/model"
)

// Cox 库存报表导入。
//
// 报表是人工从 Cox 后台复制出来的纯文本，每台车一个以 "VIN:" 开头的
// 段落。解析只认三样东西：网标价、Adj Cost To Market 百分比和报表
// 日期，其余内容忽略。

// CoxRecord 是报表里解析出的一台车。
type CoxRecord struct {
	VIN             string
	InternetPrice   *int   // 网标价（美元整数）
	AdjCostToMarket *int   // Adj Cost To Market 百分比
	ReportDate      string // MM/DD/YYYY
}

// CoxImportResult 汇总一次导入的结果。
type CoxImportResult struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

var (
	coxPricePattern = regexp.MustCompile(`\$(\d{1,3}(?:,\d{3})+|\d{4,6})`)
	coxAdjPattern   = regexp.MustCompile(`Adj Cost To Market:(\d+)%`)
	coxDatePattern  = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)
)

// ParseCoxReport 按 "VIN:" 把报表原文切块，逐块提取字段。
//
// VIN 不足 17 位的块丢弃；块里找不到的字段保持 nil/空串，由导入阶段
// 决定跳过还是部分更新。
func ParseCoxReport(text string) []CoxRecord {
	blocks := strings.Split(text, "VIN:")
	var records []CoxRecord
	for _, block := range blocks[1:] {
		firstLine, _, _ := strings.Cut(block, "\n")
		vin := strings.ToUpper(strings.TrimSpace(firstLine))
		if len(vin) != 17 {
			continue
		}

		rec := CoxRecord{VIN: vin, ReportDate: coxDatePattern.FindString(block)}
		if m := coxPricePattern.FindStringSubmatch(block); m != nil {
			if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
				rec.InternetPrice = &n
			}
		}
		if m := coxAdjPattern.FindStringSubmatch(block); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				rec.AdjCostToMarket = &n
			}
		}
		records = append(records, rec)
	}
	return records
}

// CoxImport 按 VIN 把报表字段回写到库存。
//
// 网标价和百分比齐全时推导市场估值 market_value = 网标价 / (百分比/100)。
// 库里没有的 VIN、没提取出任何字段的块都计入 skipped。
func (s *Store) CoxImport(ctx context.Context, records []CoxRecord) (*CoxImportResult, error) {
	res := &CoxImportResult{}
	for _, r := range records {
		updates := map[string]interface{}{}
		if r.AdjCostToMarket != nil {
			updates["cox_adj_cost_to_market"] = *r.AdjCostToMarket
		}
		if r.ReportDate != "" {
			updates["cox_report_date"] = r.ReportDate
		}
		if r.InternetPrice != nil && r.AdjCostToMarket != nil && *r.AdjCostToMarket > 0 {
			updates["market_value"] = int(float64(*r.InternetPrice)/(float64(*r.AdjCostToMarket)/100) + 0.5)
		}
		if len(updates) == 0 {
			res.Skipped++
			continue
		}

		var count int64
		if err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
			Where("vin = ?", r.VIN).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("cox import lookup %s: %w", r.VIN, err)
		}
		if count == 0 {
			res.Skipped++
			continue
		}

		if err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
			Where("vin = ?", r.VIN).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("cox import update %s: %w", r.VIN, err)
		}
		res.Updated++
	}
	return res, nil
}
