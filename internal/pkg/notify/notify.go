package notify

import (
	"context"

	"lotsync/internal/store"
)

// Digest 是库存摘要邮件的内容。
type Digest struct {
	Summary    *store.Summary           // 在售库存汇总
	Aging      []store.DealHistoryEntry // 最近下架（售出）的车
	Benchmarks []store.ModelBenchmark   // 按车型的周转基准
}

// Notifier 定义通知接口。
type Notifier interface {
	// SendDigest 发送库存摘要。
	//
	// 参数:
	//   ctx: 上下文
	//   digest: 摘要内容
	SendDigest(ctx context.Context, digest *Digest) error
}
