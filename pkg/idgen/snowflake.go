// Package idgen 业务单号生成
//
// 单号 = 前缀 + 本地时间(秒) + 19 位雪花ID。雪花ID布局：
//
//	1 位符号 | 41 位毫秒时间戳(自 2024-01-01 UTC) | 10 位机器号 | 12 位序列号
package idgen

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	epochMillis  int64 = 1704067200000
	workerBits         = 10
	sequenceBits       = 12
	MaxWorkerID        = 1<<workerBits - 1
	sequenceMask       = 1<<sequenceBits - 1
)

// 单号前缀
const (
	PrefixTransaction = "TXN"
	PrefixBuyIn       = "BIN"
	PrefixCashOut     = "COT"
)

type Generator struct {
	mu       sync.Mutex
	workerID int64
	lastMs   int64
	seq      int64
	now      func() time.Time
}

func New(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("worker_id 超出范围 [0, %d]: %d", MaxWorkerID, workerID)
	}
	return &Generator{workerID: workerID, now: time.Now}, nil
}

// Next 下一个ID，单个 Generator 内严格递增
// 时钟回拨时沿用上一次的毫秒继续消耗序列号
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq = (g.seq + 1) & sequenceMask
		if g.seq == 0 {
			for ms <= g.lastMs {
				ms = g.now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMs = ms

	return (ms-epochMillis)<<(workerBits+sequenceBits) | g.workerID<<sequenceBits | g.seq
}

var defaultGen atomic.Pointer[Generator]

// Init 设置进程级生成器，未调用时使用机器号 1
func Init(workerID int64) error {
	g, err := New(workerID)
	if err != nil {
		return err
	}
	defaultGen.Store(g)
	return nil
}

func NextID() int64 {
	g := defaultGen.Load()
	if g == nil {
		g, _ = New(1)
		if !defaultGen.CompareAndSwap(nil, g) {
			g = defaultGen.Load()
		}
	}
	return g.Next()
}

func newNo(prefix string) string {
	return fmt.Sprintf("%s%s%019d", prefix, time.Now().Format("20060102150405"), NextID())
}

func GenerateTransactionNo() string {
	return newNo(PrefixTransaction)
}

// GenerateRequestNo 买入/兑现申请单号
func GenerateRequestNo(kind string) string {
	if kind == "cash_out" {
		return newNo(PrefixCashOut)
	}
	return newNo(PrefixBuyIn)
}
