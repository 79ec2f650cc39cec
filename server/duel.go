package server

import (
	"fmt"
	"sort"
	"time"
)

// duel_error 文案
const (
	errPlayerNotFound   = "player not found"
	errAlreadyInDuel    = "already in duel"
	errChallengeSelf    = "cannot challenge yourself"
	errChallengeExpired = "challenge expired"
)

// Duel 一场进行中的决斗
type Duel struct {
	ID           string    `json:"id"`
	ChallengerID ConnID    `json:"challengerId"`
	TargetID     ConnID    `json:"targetId"`
	StartedAt    time.Time `json:"startedAt"`
}

// Opponent 对手 id；id 不在本场决斗中时返回空
func (d *Duel) Opponent(id ConnID) ConnID {
	switch id {
	case d.ChallengerID:
		return d.TargetID
	case d.TargetID:
		return d.ChallengerID
	}
	return ""
}

// Challenge 等待回应的挑战
type Challenge struct {
	ChallengerID ConnID
	TargetID     ConnID
	IssuedAt     time.Time
}

// DuelBook 决斗与挑战索引：每个连接最多出现在一场决斗或一条挑战中
type DuelBook struct {
	duels  map[string]*Duel
	active map[ConnID]string // 反向索引：连接 -> 决斗 id

	// 挑战按挑战者与被挑战者双向索引
	byChallenger map[ConnID]*Challenge
	byTarget     map[ConnID]*Challenge
}

func NewDuelBook() *DuelBook {
	return &DuelBook{
		duels:        make(map[string]*Duel),
		active:       make(map[ConnID]string),
		byChallenger: make(map[ConnID]*Challenge),
		byTarget:     make(map[ConnID]*Challenge),
	}
}

// Busy 处于决斗中或挂着挑战（无论哪一方）
func (b *DuelBook) Busy(id ConnID) bool {
	if _, ok := b.active[id]; ok {
		return true
	}
	if _, ok := b.byChallenger[id]; ok {
		return true
	}
	_, ok := b.byTarget[id]
	return ok
}

// InDuel 当前决斗
func (b *DuelBook) InDuel(id ConnID) (*Duel, bool) {
	did, ok := b.active[id]
	if !ok {
		return nil, false
	}
	d, ok := b.duels[did]
	return d, ok
}

// SameDuel 两个连接是否在同一场决斗中
func (b *DuelBook) SameDuel(a, c ConnID) bool {
	da, ok := b.active[a]
	if !ok {
		return false
	}
	dc, ok := b.active[c]
	return ok && da == dc
}

// Challenge 记录一条挑战；调用方已确认双方都空闲
func (b *DuelBook) Challenge(from, to ConnID, at time.Time) *Challenge {
	c := &Challenge{ChallengerID: from, TargetID: to, IssuedAt: at}
	b.byChallenger[from] = c
	b.byTarget[to] = c
	return c
}

// Pending 发给 target 且来自 challenger 的挑战
func (b *DuelBook) Pending(challenger, target ConnID) (*Challenge, bool) {
	c, ok := b.byTarget[target]
	if !ok || c.ChallengerID != challenger {
		return nil, false
	}
	return c, true
}

// dropChallenge 删除挑战的双向索引
func (b *DuelBook) dropChallenge(c *Challenge) {
	if cur, ok := b.byChallenger[c.ChallengerID]; ok && cur == c {
		delete(b.byChallenger, c.ChallengerID)
	}
	if cur, ok := b.byTarget[c.TargetID]; ok && cur == c {
		delete(b.byTarget, c.TargetID)
	}
}

// ChallengesOf 与 id 相关的全部挑战（作为挑战者或被挑战者）
func (b *DuelBook) ChallengesOf(id ConnID) []*Challenge {
	var out []*Challenge
	if c, ok := b.byChallenger[id]; ok {
		out = append(out, c)
	}
	if c, ok := b.byTarget[id]; ok && c.ChallengerID != id {
		out = append(out, c)
	}
	return out
}

// Start 由挑战生成决斗
func (b *DuelBook) Start(c *Challenge, id string, at time.Time) *Duel {
	b.dropChallenge(c)
	d := &Duel{ID: id, ChallengerID: c.ChallengerID, TargetID: c.TargetID, StartedAt: at}
	b.duels[id] = d
	b.active[c.ChallengerID] = id
	b.active[c.TargetID] = id
	return d
}

// End 清除决斗及双方反向索引
func (b *DuelBook) End(d *Duel) {
	delete(b.duels, d.ID)
	if b.active[d.ChallengerID] == d.ID {
		delete(b.active, d.ChallengerID)
	}
	if b.active[d.TargetID] == d.ID {
		delete(b.active, d.TargetID)
	}
}

// Expired 发出时间早于 cutoff 的挑战，按发出时间排序
func (b *DuelBook) Expired(cutoff time.Time) []*Challenge {
	var out []*Challenge
	for _, c := range b.byChallenger {
		if c.IssuedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

// Active 当前进行中的决斗数量
func (b *DuelBook) Active() int { return len(b.duels) }

func (h *Hub) onDuelRequest(id ConnID, target ConnID) {
	sender := h.registry.Get(id)
	if sender == nil {
		return
	}
	if target == id {
		h.send(id, EvDuelError, errChallengeSelf)
		return
	}
	if h.registry.Get(target) == nil {
		h.send(id, EvDuelError, errPlayerNotFound)
		return
	}
	if h.duels.Busy(id) || h.duels.Busy(target) {
		h.send(id, EvDuelError, errAlreadyInDuel)
		return
	}

	h.duels.Challenge(id, target, h.now())
	h.send(target, EvDuelChallenge, DuelChallenge{
		ChallengerID:    id,
		ChallengerName:  sender.Nickname,
		ChallengerLevel: sender.Level,
	})
	Log.Debugw("duel challenge", "from", id, "to", target)
}

func (h *Hub) onDuelResponse(id ConnID, p DuelResponsePayload) {
	responder := h.registry.Get(id)
	if responder == nil {
		return
	}
	c, ok := h.duels.Pending(p.ChallengerID, id)
	if !ok {
		return
	}

	if !p.Accepted {
		h.duels.dropChallenge(c)
		h.send(c.ChallengerID, EvDuelRejected, DuelRejected{TargetName: responder.Nickname})
		return
	}

	challenger := h.registry.Get(c.ChallengerID)
	if challenger == nil {
		h.duels.dropChallenge(c)
		return
	}

	d := h.duels.Start(c, h.newID(), h.now())
	h.metrics.IncDuelsStarted()
	h.send(challenger.ID, EvDuelStarted, DuelStarted{OpponentID: id, OpponentName: responder.Nickname, DuelID: d.ID})
	h.send(id, EvDuelStarted, DuelStarted{OpponentID: challenger.ID, OpponentName: challenger.Nickname, DuelID: d.ID})

	if responder.InZone {
		h.announce(responder.ZoneID, id,
			fmt.Sprintf("A duel has started between %s and %s!", challenger.Nickname, responder.Nickname))
	}
	Log.Infow("duel started", "duel", d.ID, "challenger", challenger.ID, "target", id)
}

func (h *Hub) onAttack(id ConnID, p AttackPayload) {
	if h.registry.Get(id) == nil || h.registry.Get(p.TargetID) == nil {
		return
	}
	if !h.duels.SameDuel(id, p.TargetID) {
		return
	}

	if v := h.guard.ValidateAction(string(id), "attack"); !v.Valid {
		h.reject(id, v)
		return
	}
	dv := h.guard.ValidateDamage(string(id), p.Damage, string(p.TargetID))
	if !dv.Valid {
		h.reject(id, dv.Verdict)
		return
	}
	if dv.Clamped {
		h.metrics.IncDamageClamped()
		Log.Warnw("damage clamped", "conn", id, "claimed", p.Damage, "adjusted", dv.Adjusted)
		if dv.Ban && h.punish(id, dv.Reason) {
			return
		}
	}

	h.send(p.TargetID, EvDamageReceived, DamageReceived{
		AttackerID: id,
		Damage:     dv.Adjusted,
		SkillName:  p.SkillName,
	})
}

func (h *Hub) onPlayerDied(id ConnID, p PlayerDiedPayload) {
	d, ok := h.duels.InDuel(id)
	if !ok {
		return
	}
	winnerID := d.Opponent(id)
	if p.KillerID != "" && p.KillerID != winnerID {
		Log.Debugw("killer is not the duel opponent", "conn", id, "killer", p.KillerID, "opponent", winnerID)
	}
	h.duels.End(d)
	h.metrics.IncDuelsFinished()

	var winnerName string
	winner := h.registry.Get(winnerID)
	if winner != nil {
		winnerName = winner.Nickname
	}
	h.send(winnerID, EvDuelEnded, DuelEnded{Result: ResultWin, Winner: winnerName})
	h.send(id, EvDuelEnded, DuelEnded{Result: ResultLoss, Winner: winnerName})

	if winner != nil && winner.InZone {
		loser := ""
		if s := h.registry.Get(id); s != nil {
			loser = s.Nickname
		}
		h.announce(winner.ZoneID, "", fmt.Sprintf("%s defeated %s in a duel!", winnerName, loser))
	}
	Log.Infow("duel finished", "duel", d.ID, "winner", winnerID, "loser", id, "killer", p.KillerID)
}

// onDuelEnd 客户端主动结束：只清理状态，不广播结果
func (h *Hub) onDuelEnd(id ConnID, p DuelEndPayload) {
	d, ok := h.duels.InDuel(id)
	if !ok || d.ID != p.DuelID {
		return
	}
	h.duels.End(d)
	h.metrics.IncDuelsFinished()
}

// duelDisconnect 断线：进行中的决斗判对手胜，相关挑战一并清除
func (h *Hub) duelDisconnect(id ConnID) {
	if d, ok := h.duels.InDuel(id); ok {
		opp := d.Opponent(id)
		h.duels.End(d)
		h.metrics.IncDuelsFinished()
		var name string
		if s := h.registry.Get(opp); s != nil {
			name = s.Nickname
		}
		h.send(opp, EvDuelEnded, DuelEnded{Result: ResultOpponentDisconnected, Winner: name})
		Log.Infow("duel forfeited", "duel", d.ID, "leaver", id, "winner", opp)
	}

	for _, c := range h.duels.ChallengesOf(id) {
		h.duels.dropChallenge(c)
		if c.TargetID == id {
			h.send(c.ChallengerID, EvDuelError, errPlayerNotFound)
		}
	}
}

// expireChallenges 清理超时未回应的挑战
func (h *Hub) expireChallenges() {
	timeout := h.cfg.Duel.ChallengeTimeout
	if timeout <= 0 {
		return
	}
	for _, c := range h.duels.Expired(h.now().Add(-timeout)) {
		h.duels.dropChallenge(c)
		h.send(c.ChallengerID, EvDuelError, errChallengeExpired)
	}
}
