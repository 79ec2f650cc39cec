package server

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"zonerelay/server/anticheat"
)

// ErrHubClosed 反应器已停止，事件无法再投递
var ErrHubClosed = errors.New("hub closed")

// Peer 反应器看到的连接：只负责投递出站帧和关闭
type Peer interface {
	ID() ConnID
	RemoteIP() string
	// Enqueue 非阻塞入队，队列满或连接已关闭时返回 false
	Enqueue(b []byte) bool
	Close(code int, reason string)
}

type eventKind int

const (
	evConnect eventKind = iota
	evMessage
	evDisconnect
	evCall
)

type event struct {
	kind eventKind
	id   ConnID
	peer Peer
	msg  Envelope
	call func()
}

// Hub 中继的权威状态：注册表、区域、决斗与反作弊都只在 Run 协程中读写
// 传输层只通过 events 通道投递事件（连接、消息、断开），因此同一连接的事件严格按到达顺序处理
type Hub struct {
	cfg *Config

	peers    map[ConnID]Peer
	closing  map[ConnID]bool // 已判定断开、等待读泵退出的连接
	registry *Registry
	zones    *ZoneRouter
	duels    *DuelBook
	guard    *anticheat.Validator

	bans    *BanList
	limiter *ConnLimiter
	metrics *RelayMetrics

	events   chan event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	now       func() time.Time
	newID     func() string
	lastDecay time.Time
}

// NewHub 创建反应器；bans 为 nil 时使用纯内存封禁表
func NewHub(cfg *Config, bans *BanList) *Hub {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if bans == nil {
		bans = NewMemoryBanList()
	}
	queue := cfg.Server.EventQueueSize
	if queue <= 0 {
		queue = 1024
	}
	h := &Hub{
		cfg:      cfg,
		peers:    make(map[ConnID]Peer),
		closing:  make(map[ConnID]bool),
		registry: NewRegistry(),
		zones:    NewZoneRouter(),
		duels:    NewDuelBook(),
		guard:    anticheat.New(cfg.AntiCheat.Clone()),
		bans:     bans,
		limiter:  NewConnLimiter(cfg.Server.MaxConnsPerIP, cfg.Server.MaxConnsTotal),
		metrics:  &RelayMetrics{},
		events:   make(chan event, queue),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	h.lastDecay = h.now()
	return h
}

// Metrics 运行指标
func (h *Hub) Metrics() *RelayMetrics { return h.metrics }

// Bans 封禁表
func (h *Hub) Bans() *BanList { return h.bans }

// submit 阻塞投递，保证连接/断开事件不丢；反应器停止后返回 false
func (h *Hub) submit(ctx context.Context, ev event) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

// Connect 登记新连接
func (h *Hub) Connect(p Peer) bool {
	return h.submit(context.Background(), event{kind: evConnect, id: p.ID(), peer: p})
}

// Message 投递一条入站消息
func (h *Hub) Message(id ConnID, env Envelope) bool {
	return h.submit(context.Background(), event{kind: evMessage, id: id, msg: env})
}

// Disconnect 连接断开（读泵退出时调用）
func (h *Hub) Disconnect(id ConnID) {
	h.submit(context.Background(), event{kind: evDisconnect, id: id})
}

// Call 在反应器协程中执行 fn 并等待完成，供管理接口读取状态
func (h *Hub) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ev := event{kind: evCall, call: func() {
		defer close(finished)
		fn()
	}}
	if !h.submit(ctx, ev) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrHubClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}
}

// Stop 停止反应器并等待 Run 关闭所有连接
func (h *Hub) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.quit) })
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) process(ev event) {
	switch ev.kind {
	case evConnect:
		h.peers[ev.id] = ev.peer
		h.guard.Track(string(ev.id))
		h.metrics.IncConnected()
		Log.Debugw("connected", "conn", ev.id, "ip", ev.peer.RemoteIP())
	case evMessage:
		if _, ok := h.peers[ev.id]; !ok || h.closing[ev.id] {
			return
		}
		start := time.Now()
		h.safely(ev.id, ev.msg.Type, func() { h.dispatch(ev.id, ev.msg) })
		h.metrics.AddDispatch(time.Since(start).Nanoseconds())
	case evDisconnect:
		if _, ok := h.peers[ev.id]; !ok {
			return
		}
		h.safely(ev.id, "disconnect", func() { h.onDisconnect(ev.id) })
		// 处理器中途崩溃时也要确保连接被移除
		delete(h.peers, ev.id)
		delete(h.closing, ev.id)
		h.metrics.IncDisconnected()
	case evCall:
		h.safely("", "call", ev.call)
	}
}

// safely 处理器崩溃只记录日志，不影响反应器
func (h *Hub) safely(id ConnID, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.IncPanics()
			Log.Errorw("handler panic", "conn", id, "event", event, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// dispatch 按事件类型解码并分发；未知类型或无法解码的载荷直接丢弃
func (h *Hub) dispatch(id ConnID, env Envelope) {
	h.metrics.IncEvents()
	ok := true
	switch env.Type {
	case EvJoinGame:
		var p JoinGamePayload
		if ok = decodePayload(env.Data, &p); ok {
			h.onJoin(id, p)
		}
	case EvJoinZone:
		var zone int
		if ok = decodePayload(env.Data, &zone); ok {
			h.onJoinZone(id, zone)
		}
	case EvPlayerMove:
		var p MovePayload
		if ok = decodePayload(env.Data, &p); ok {
			h.onMove(id, p)
		}
	case EvChatMessage:
		var p ChatPayload
		if ok = decodePayload(env.Data, &p); ok {
			h.onChat(id, p)
		}
	case EvDuelRequest:
		var target ConnID
		if ok = decodePayload(env.Data, &target); ok {
			h.onDuelRequest(id, target)
		}
	case EvDuelResponse:
		var p DuelResponsePayload
		if ok = decodePayload(env.Data, &p); ok {
			h.onDuelResponse(id, p)
		}
	case EvAttackPlayer:
		var p AttackPayload
		if ok = decodePayload(env.Data, &p); ok {
			h.onAttack(id, p)
		}
	case EvPlayerDied:
		// data 可缺省；killerId 仅供参考，胜者取决于决斗索引
		var p PlayerDiedPayload
		decodePayload(env.Data, &p)
		h.onPlayerDied(id, p)
	case EvDuelEnd:
		var p DuelEndPayload
		if ok = decodePayload(env.Data, &p); ok {
			h.onDuelEnd(id, p)
		}
	default:
		h.metrics.IncDropped()
		Log.Debugw("unknown event", "conn", id, "type", env.Type)
		return
	}
	if !ok {
		h.metrics.IncDropped()
		Log.Debugw("malformed payload", "conn", id, "type", env.Type)
	}
}

// send 发给单个连接
func (h *Hub) send(id ConnID, event string, data any) {
	p, ok := h.peers[id]
	if !ok {
		return
	}
	h.deliver(p, encodeEvent(event, data))
}

// broadcastZone 发给区域内除 except 外的所有成员，只编码一次
func (h *Hub) broadcastZone(zone int, except ConnID, event string, data any) {
	members := h.zones.Members(zone)
	if len(members) == 0 {
		return
	}
	b := encodeEvent(event, data)
	for _, mid := range members {
		if mid == except {
			continue
		}
		if p, ok := h.peers[mid]; ok {
			h.deliver(p, b)
		}
	}
}

// broadcastAll 发给所有连接
func (h *Hub) broadcastAll(event string, data any) {
	b := encodeEvent(event, data)
	for _, p := range h.peers {
		h.deliver(p, b)
	}
}

func (h *Hub) deliver(p Peer, b []byte) {
	if b == nil || h.closing[p.ID()] {
		return
	}
	if !p.Enqueue(b) {
		h.metrics.IncSendDropped()
	}
}

// reject 反作弊拒绝：只通知当事人；越过阈值时按封禁策略处理
func (h *Hub) reject(id ConnID, v anticheat.Verdict) {
	h.metrics.IncViolations()
	Log.Warnw("anticheat rejected", "conn", id, "reason", v.Reason, "violations", h.guard.Violations(string(id)))
	h.send(id, EvAnticheatWarning, Notice{Message: v.Reason})
	if v.Ban {
		h.punish(id, v.Reason)
	}
}

// punish 记录封禁；策略为 disconnect 时通知并断开，返回是否已断开
func (h *Hub) punish(id ConnID, reason string) bool {
	h.metrics.IncBans()
	policy := h.guard.Policy()

	var ip string
	p, ok := h.peers[id]
	if ok {
		ip = p.RemoteIP()
	}
	h.bans.Add(BanRecord{
		Addr:   ip,
		ConnID: string(id),
		Reason: reason,
		Action: string(policy),
		At:     h.now(),
	})

	if policy == anticheat.BanFlag || !ok {
		Log.Warnw("player flagged", "conn", id, "ip", ip, "reason", reason)
		return false
	}

	Log.Warnw("player banned", "conn", id, "ip", ip, "reason", reason)
	h.send(id, EvBanned, Notice{Reason: reason})
	h.closing[id] = true
	p.Close(websocket.ClosePolicyViolation, "banned")
	return true
}

// Status 状态接口的快照
type Status struct {
	Status      string      `json:"status"`
	Connections int         `json:"connections"`
	Players     int         `json:"players"`
	Zones       map[int]int `json:"zones"`
	ActiveDuels int         `json:"activeDuels"`
}

func (h *Hub) status() Status {
	return Status{
		Status:      "ok",
		Connections: len(h.peers),
		Players:     h.registry.Len(),
		Zones:       h.zones.Counts(),
		ActiveDuels: h.duels.Active(),
	}
}

// Snapshot 通过反应器读取状态
func (h *Hub) Snapshot(ctx context.Context) (Status, error) {
	var st Status
	err := h.Call(ctx, func() { st = h.status() })
	return st, err
}
