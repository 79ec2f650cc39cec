package server

import (
	"time"

	"github.com/gorilla/websocket"
)

// housekeepInterval 挑战超时、违规衰减与可疑日志清理的检查周期
const housekeepInterval = time.Second

// Run 反应器主循环：逐个处理事件（运行到完成），并周期性做维护
// 必须只有一个协程调用
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(housekeepInterval)
	defer ticker.Stop()

	Log.Infow("hub started", "queue", cap(h.events))
	for {
		select {
		case ev := <-h.events:
			h.process(ev)
		case <-ticker.C:
			h.safely("", "housekeep", h.housekeep)
		case <-h.quit:
			h.shutdown()
			return
		}
	}
}

// housekeep 一次维护：过期挑战、违规计数衰减、清理过期可疑记录
func (h *Hub) housekeep() {
	h.expireChallenges()

	now := h.now()
	if every := h.guard.Config().DecayInterval; every > 0 && now.Sub(h.lastDecay) >= every {
		h.guard.Decay()
		h.lastDecay = now
	}
	h.guard.PruneIncidents()
}

// shutdown 通知所有连接服务端关闭；读泵随后退出，不再有事件被处理
func (h *Hub) shutdown() {
	for id, p := range h.peers {
		p.Close(websocket.CloseGoingAway, "server shutting down")
		delete(h.peers, id)
	}
	Log.Infow("hub stopped", "players", h.registry.Len())
}
