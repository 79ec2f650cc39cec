package server

// Registry 连接 -> 玩家记录；只在反应器协程中访问
type Registry struct {
	sessions map[ConnID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[ConnID]*Session)}
}

// Get 不存在时返回 nil
func (r *Registry) Get(id ConnID) *Session { return r.sessions[id] }

// Put 覆盖同 id 的旧记录
func (r *Registry) Put(s *Session) { r.sessions[s.ID] = s }

// Remove 删除并返回旧记录
func (r *Registry) Remove(id ConnID) *Session {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

func (r *Registry) Len() int { return len(r.sessions) }

// onJoin join_game：创建或覆盖玩家记录，回送 my_id，不广播
func (h *Hub) onJoin(id ConnID, p JoinGamePayload) {
	profile := profileFromPayload(p)
	if s := h.registry.Get(id); s != nil {
		// 重复加入只覆盖资料，保留区域与位置
		s.Profile = profile
	} else {
		h.registry.Put(&Session{ID: id, Profile: profile, JoinedAt: h.now()})
	}
	h.guard.SetProfile(string(id), profile.Class, profile.Level)
	h.send(id, EvMyID, id)
	Log.Infow("player joined", "conn", id, "nickname", profile.Nickname, "class", profile.Class, "level", profile.Level)
}

// onMove player_move：先过反作弊，通过后更新并转发给同区域其他人
func (h *Hub) onMove(id ConnID, p MovePayload) {
	s := h.registry.Get(id)
	if s == nil {
		return
	}

	verdict := h.guard.ValidateMove(string(id), p.X, p.Y)
	if !verdict.Valid {
		h.metrics.IncMovesRejected()
		h.reject(id, verdict)
		return
	}

	s.X, s.Y = p.X, p.Y
	s.Rotation = p.Rotation
	s.IsMoving = p.IsMoving
	s.IsAttacking = p.IsAttacking
	h.metrics.IncMovesAccepted()

	if s.InZone {
		h.broadcastZone(s.ZoneID, id, EvPlayerMoved, PlayerMoved{ID: id, MovePayload: p})
	}
}

// onDisconnect 连接断开：结束决斗（判负）、清理挑战、通知区域、丢弃反作弊状态
func (h *Hub) onDisconnect(id ConnID) {
	h.duelDisconnect(id)

	if s := h.registry.Remove(id); s != nil {
		if zone, ok := h.zones.Leave(id); ok {
			h.broadcastZone(zone, id, EvPlayerLeft, id)
		}
		Log.Infow("player left", "conn", id, "nickname", s.Nickname)
	}

	h.guard.Forget(string(id))
	delete(h.peers, id)
	delete(h.closing, id)
}
