package server

import "sort"

// ZoneRouter 区域 -> 成员集合；每个连接最多属于一个区域。只在反应器协程中访问
type ZoneRouter struct {
	groups map[int]map[ConnID]struct{}
	member map[ConnID]int
}

func NewZoneRouter() *ZoneRouter {
	return &ZoneRouter{
		groups: make(map[int]map[ConnID]struct{}),
		member: make(map[ConnID]int),
	}
}

// Move 先离开旧区域再加入新区域，返回旧区域（若有）
func (z *ZoneRouter) Move(id ConnID, zone int) (prev int, hadPrev bool) {
	prev, hadPrev = z.Leave(id)
	g, ok := z.groups[zone]
	if !ok {
		g = make(map[ConnID]struct{})
		z.groups[zone] = g
	}
	g[id] = struct{}{}
	z.member[id] = zone
	return prev, hadPrev
}

// Leave 离开当前区域；空区域随即回收
func (z *ZoneRouter) Leave(id ConnID) (int, bool) {
	zone, ok := z.member[id]
	if !ok {
		return 0, false
	}
	delete(z.member, id)
	if g := z.groups[zone]; g != nil {
		delete(g, id)
		if len(g) == 0 {
			delete(z.groups, zone)
		}
	}
	return zone, true
}

// ZoneOf 当前所在区域
func (z *ZoneRouter) ZoneOf(id ConnID) (int, bool) {
	zone, ok := z.member[id]
	return zone, ok
}

// Members 区域成员，按 id 排序，保证快照顺序稳定
func (z *ZoneRouter) Members(zone int) []ConnID {
	g := z.groups[zone]
	out := make([]ConnID, 0, len(g))
	for id := range g {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Counts 每个区域的人数（状态接口用）
func (z *ZoneRouter) Counts() map[int]int {
	out := make(map[int]int, len(z.groups))
	for zone, g := range z.groups {
		out[zone] = len(g)
	}
	return out
}

// onJoinZone join_zone：离开旧区域、加入新区域，给加入者发快照，给其他成员发 player_joined
func (h *Hub) onJoinZone(id ConnID, zone int) {
	s := h.registry.Get(id)
	if s == nil {
		return
	}

	if prev, ok := h.zones.Move(id, zone); ok && prev != zone {
		h.broadcastZone(prev, id, EvPlayerLeft, id)
	}
	s.ZoneID = zone
	s.InZone = true
	// 新区域的出生点与旧位置无关
	h.guard.ResetPosition(string(id))

	others := make([]PlayerState, 0)
	for _, mid := range h.zones.Members(zone) {
		if mid == id {
			continue
		}
		if m := h.registry.Get(mid); m != nil {
			others = append(others, m.State())
		}
	}
	h.send(id, EvZonePlayers, others)
	h.broadcastZone(zone, id, EvPlayerJoined, s.State())

	Log.Debugw("zone joined", "conn", id, "zone", zone, "members", len(others)+1)
}
