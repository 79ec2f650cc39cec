package server

import (
	"sync/atomic"
)

// RelayMetrics 中继运行期的关键指标（用于监控与调试）
type RelayMetrics struct {
	Connected       int64 // 累计接入的连接
	Disconnected    int64 // 累计断开的连接
	Refused         int64 // 握手阶段被拒绝（封禁、超限）
	Flooded         int64 // 超过入站令牌桶被断开
	Events          int64 // 已分发的入站事件
	Dropped         int64 // 未知类型或无法解码的事件
	SendDropped     int64 // 因发送队列满被丢弃的出站帧
	MovesAccepted   int64
	MovesRejected   int64
	Violations      int64 // 反作弊拒绝次数
	DamageClamped   int64
	Bans            int64
	DuelsStarted    int64
	DuelsFinished   int64
	ChatRelayed     int64
	Panics          int64
	DispatchCount   int64
	TotalDispatchNs int64 // 分发累计耗时（纳秒）
}

func (m *RelayMetrics) IncConnected()     { atomic.AddInt64(&m.Connected, 1) }
func (m *RelayMetrics) IncDisconnected()  { atomic.AddInt64(&m.Disconnected, 1) }
func (m *RelayMetrics) IncRefused()       { atomic.AddInt64(&m.Refused, 1) }
func (m *RelayMetrics) IncFlooded()       { atomic.AddInt64(&m.Flooded, 1) }
func (m *RelayMetrics) IncEvents()        { atomic.AddInt64(&m.Events, 1) }
func (m *RelayMetrics) IncDropped()       { atomic.AddInt64(&m.Dropped, 1) }
func (m *RelayMetrics) IncSendDropped()   { atomic.AddInt64(&m.SendDropped, 1) }
func (m *RelayMetrics) IncMovesAccepted() { atomic.AddInt64(&m.MovesAccepted, 1) }
func (m *RelayMetrics) IncMovesRejected() { atomic.AddInt64(&m.MovesRejected, 1) }
func (m *RelayMetrics) IncViolations()    { atomic.AddInt64(&m.Violations, 1) }
func (m *RelayMetrics) IncDamageClamped() { atomic.AddInt64(&m.DamageClamped, 1) }
func (m *RelayMetrics) IncBans()          { atomic.AddInt64(&m.Bans, 1) }
func (m *RelayMetrics) IncDuelsStarted()  { atomic.AddInt64(&m.DuelsStarted, 1) }
func (m *RelayMetrics) IncDuelsFinished() { atomic.AddInt64(&m.DuelsFinished, 1) }
func (m *RelayMetrics) IncChatRelayed()   { atomic.AddInt64(&m.ChatRelayed, 1) }
func (m *RelayMetrics) IncPanics()        { atomic.AddInt64(&m.Panics, 1) }
func (m *RelayMetrics) AddDispatch(ns int64) {
	atomic.AddInt64(&m.DispatchCount, 1)
	atomic.AddInt64(&m.TotalDispatchNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RelayMetrics) Snapshot() map[string]any {
	count := atomic.LoadInt64(&m.DispatchCount)
	total := atomic.LoadInt64(&m.TotalDispatchNs)
	var avgUs float64
	if count > 0 {
		avgUs = float64(total) / float64(count) / 1e3
	}
	connected := atomic.LoadInt64(&m.Connected)
	disconnected := atomic.LoadInt64(&m.Disconnected)
	return map[string]any{
		"connected":       connected,
		"disconnected":    disconnected,
		"online":          connected - disconnected,
		"refused":         atomic.LoadInt64(&m.Refused),
		"flooded":         atomic.LoadInt64(&m.Flooded),
		"events":          atomic.LoadInt64(&m.Events),
		"dropped":         atomic.LoadInt64(&m.Dropped),
		"send_dropped":    atomic.LoadInt64(&m.SendDropped),
		"moves_accepted":  atomic.LoadInt64(&m.MovesAccepted),
		"moves_rejected":  atomic.LoadInt64(&m.MovesRejected),
		"violations":      atomic.LoadInt64(&m.Violations),
		"damage_clamped":  atomic.LoadInt64(&m.DamageClamped),
		"bans":            atomic.LoadInt64(&m.Bans),
		"duels_started":   atomic.LoadInt64(&m.DuelsStarted),
		"duels_finished":  atomic.LoadInt64(&m.DuelsFinished),
		"chat_relayed":    atomic.LoadInt64(&m.ChatRelayed),
		"panics":          atomic.LoadInt64(&m.Panics),
		"avg_dispatch_us": avgUs,
	}
}
