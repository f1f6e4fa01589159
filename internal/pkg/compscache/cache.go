package compscache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Cache 是外部查询结果的缓存接口。
//
// 比价结果（Comps）带 TTL：过期数据物理上还在，但读取按未命中处理，
// 由调用方重新请求上游并覆盖写入。VIN 解码和窗贴（VIN）不随市场波动，
// 永久缓存，SetVIN 只覆盖本次拿到的字段。
//
// 后端（Redis 或 SQL）在启动时选定一个，调用方不感知。
type Cache interface {
	// Comps 读取比价缓存，第二个返回值表示是否命中。
	Comps(ctx context.Context, key string) (json.RawMessage, bool, error)
	// SetComps 整体覆盖写入一条比价缓存。
	SetComps(ctx context.Context, key string, payload json.RawMessage) error
	// VIN 读取 VIN 缓存，未命中返回 (nil, nil)。
	VIN(ctx context.Context, vin string) (*VINEntry, error)
	// SetVIN 写入 VIN 缓存；specs 为 nil 或 stickerURL 为 nil 时保留已缓存的值。
	SetVIN(ctx context.Context, vin string, specs json.RawMessage, stickerURL *string) error
}

// VINEntry 是 VIN 缓存的一条记录。
type VINEntry struct {
	Specs      json.RawMessage `json:"specs"`       // 解码出的配置字段 JSON 数组
	StickerURL string          `json:"sticker_url"` // 窗贴链接，空串表示未知
}

// Key 构造比价缓存键：lower(make)|lower(model)|zip|radius。
//
// 同一车型在同一搜索范围内共享缓存，大小写不敏感。
func Key(vehicleMake, vehicleModel, zip string, radius int) string {
	return fmt.Sprintf("%s|%s|%s|%d",
		strings.ToLower(strings.TrimSpace(vehicleMake)),
		strings.ToLower(strings.TrimSpace(vehicleModel)),
		strings.TrimSpace(zip),
		radius,
	)
}
