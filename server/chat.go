package server

import "strings"

// onChat chat_message：盖上 id 与时间戳后广播给所有连接；频道过滤由客户端负责
func (h *Hub) onChat(id ConnID, p ChatPayload) {
	s := h.registry.Get(id)
	if s == nil {
		return
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		return
	}
	if limit := h.cfg.Chat.MaxLength; limit > 0 {
		if r := []rune(text); len(r) > limit {
			text = string(r[:limit])
		}
	}

	if v := h.guard.ValidateAction(string(id), "chat"); !v.Valid {
		h.reject(id, v)
		return
	}

	channel := p.Channel
	if channel == "" {
		channel = h.cfg.Chat.DefaultChannel
	}

	h.metrics.IncChatRelayed()
	h.broadcastAll(EvChatBroadcast, ChatBroadcast{
		ID:        h.newID(),
		SenderID:  id,
		Sender:    s.Nickname,
		Text:      text,
		Type:      channel,
		Timestamp: h.now().UnixMilli(),
	})
}

// announce 以系统身份向一个区域发送公告，except 非空时跳过该连接
func (h *Hub) announce(zone int, except ConnID, text string) {
	h.broadcastZone(zone, except, EvChatBroadcast, ChatBroadcast{
		ID:        h.newID(),
		Sender:    h.cfg.Chat.SystemSender,
		Text:      text,
		Type:      h.cfg.Chat.DefaultChannel,
		Timestamp: h.now().UnixMilli(),
	})
}
