package compscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	compsKeyPrefix = "lotsync:comps:"
	vinKeyPrefix   = "lotsync:vin:"
)

// RedisCache 是 Redis 后端实现。
//
// 比价条目不用 Redis 原生过期：fetched_at 随数据一起存，读取时和
// 注入的时钟比较。这样过期判定可测试，也和 SQL 后端行为完全一致。
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedis 创建 Redis 缓存后端。
func NewRedis(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return newRedis(rdb, ttl, time.Now)
}

func newRedis(rdb *redis.Client, ttl time.Duration, now func() time.Time) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, now: now}
}

type compsEnvelope struct {
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Comps 读取比价缓存，超过 TTL 的条目按未命中处理。
func (c *RedisCache) Comps(ctx context.Context, key string) (json.RawMessage, bool, error) {
	raw, err := c.rdb.Get(ctx, compsKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get comps: %w", err)
	}

	var env compsEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, false, nil
	}
	if c.now().Sub(env.FetchedAt) > c.ttl {
		return nil, false, nil
	}
	return env.Data, true, nil
}

// SetComps 整体覆盖写入，fetched_at 重置为当前时间。
func (c *RedisCache) SetComps(ctx context.Context, key string, payload json.RawMessage) error {
	env := compsEnvelope{Data: payload, FetchedAt: c.now()}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal comps envelope: %w", err)
	}
	if err := c.rdb.Set(ctx, compsKeyPrefix+key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set comps: %w", err)
	}
	return nil
}

// VIN 读取 VIN 缓存（无 TTL）。
func (c *RedisCache) VIN(ctx context.Context, vin string) (*VINEntry, error) {
	raw, err := c.rdb.Get(ctx, vinKeyPrefix+vin).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get vin: %w", err)
	}

	var entry VINEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, nil
	}
	return &entry, nil
}

// SetVIN 合并写入：只覆盖本次拿到的字段，另一半保留已缓存的值。
func (c *RedisCache) SetVIN(ctx context.Context, vin string, specs json.RawMessage, stickerURL *string) error {
	existing, err := c.VIN(ctx, vin)
	if err != nil {
		return err
	}
	entry := VINEntry{Specs: json.RawMessage("[]")}
	if existing != nil {
		entry = *existing
	}
	if specs != nil {
		entry.Specs = specs
	}
	if stickerURL != nil {
		entry.StickerURL = *stickerURL
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal vin entry: %w", err)
	}
	if err := c.rdb.Set(ctx, vinKeyPrefix+vin, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set vin: %w", err)
	}
	return nil
}
