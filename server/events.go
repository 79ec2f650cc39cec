package server

import (
	"bytes"
	"encoding/json"
)

// 入站事件（客户端 -> 服务端）
const (
	EvJoinGame     = "join_game"
	EvJoinZone     = "join_zone"
	EvPlayerMove   = "player_move"
	EvChatMessage  = "chat_message"
	EvDuelRequest  = "duel_request"
	EvDuelResponse = "duel_response"
	EvAttackPlayer = "attack_player"
	EvPlayerDied   = "player_died"
	EvDuelEnd      = "duel_end"
)

// 出站事件（服务端 -> 客户端）
const (
	EvMyID             = "my_id"
	EvZonePlayers      = "zone_players"
	EvPlayerJoined     = "player_joined"
	EvPlayerLeft       = "player_left"
	EvPlayerMoved      = "player_moved"
	EvChatBroadcast    = "chat_broadcast"
	EvDuelChallenge    = "duel_challenge"
	EvDuelStarted      = "duel_started"
	EvDuelRejected     = "duel_rejected"
	EvDuelEnded        = "duel_ended"
	EvDuelError        = "duel_error"
	EvDamageReceived   = "damage_received"
	EvAnticheatWarning = "anticheat_warning"
	EvBanned           = "banned"
)

// duel_ended 的结果取值
const (
	ResultWin                  = "win"
	ResultLoss                 = "loss"
	ResultOpponentDisconnected = "opponent_disconnected"
)

// Envelope WebSocket 文本帧的统一结构
// 示例：{"type":"player_move","data":{"x":1,"y":2}}
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinGamePayload join_game
type JoinGamePayload struct {
	Nickname  string          `json:"nickname"`
	Class     string          `json:"class"`
	Level     int             `json:"level"`
	Equipment json.RawMessage `json:"equipment,omitempty"`
}

// MovePayload player_move
type MovePayload struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Rotation    float64 `json:"rotation"`
	IsMoving    bool    `json:"isMoving"`
	IsAttacking bool    `json:"isAttacking"`
}

// ChatPayload chat_message，可以是对象也可以是纯字符串
type ChatPayload struct {
	Text    string `json:"text"`
	Channel string `json:"channel"`
}

func (p *ChatPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		p.Channel = ""
		return json.Unmarshal(b, &p.Text)
	}
	type plain ChatPayload
	return json.Unmarshal(b, (*plain)(p))
}

// DuelResponsePayload duel_response
type DuelResponsePayload struct {
	ChallengerID ConnID `json:"challengerId"`
	Accepted     bool   `json:"accepted"`
}

// AttackPayload attack_player
type AttackPayload struct {
	TargetID  ConnID  `json:"targetId"`
	Damage    float64 `json:"damage"`
	SkillName string  `json:"skillName"`
}

// PlayerDiedPayload player_died
type PlayerDiedPayload struct {
	KillerID ConnID `json:"killerId"`
}

// DuelEndPayload duel_end
type DuelEndPayload struct {
	WinnerID ConnID `json:"winnerId"`
	DuelID   string `json:"duelId"`
}

// PlayerMoved player_moved
type PlayerMoved struct {
	ID ConnID `json:"id"`
	MovePayload
}

// ChatBroadcast chat_broadcast
type ChatBroadcast struct {
	ID        string `json:"id"`
	SenderID  ConnID `json:"senderId,omitempty"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// DuelChallenge duel_challenge
type DuelChallenge struct {
	ChallengerID    ConnID `json:"challengerId"`
	ChallengerName  string `json:"challengerName"`
	ChallengerLevel int    `json:"challengerLevel"`
}

// DuelStarted duel_started
type DuelStarted struct {
	OpponentID   ConnID `json:"opponentId"`
	OpponentName string `json:"opponentName"`
	DuelID       string `json:"duelId"`
}

// DuelRejected duel_rejected
type DuelRejected struct {
	TargetName string `json:"targetName"`
}

// DuelEnded duel_ended
type DuelEnded struct {
	Result string `json:"result"`
	Winner string `json:"winner,omitempty"`
}

// DamageReceived damage_received
type DamageReceived struct {
	AttackerID ConnID  `json:"attackerId"`
	Damage     float64 `json:"damage"`
	SkillName  string  `json:"skillName"`
}

// Notice anticheat_warning / banned
type Notice struct {
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// encodeEvent 编码出站消息；payload 都是本包内的定长结构，编码失败只记录日志
func encodeEvent(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		Log.Errorw("encode payload failed", "event", event, "err", err)
		return nil
	}
	b, err := json.Marshal(Envelope{Type: event, Data: raw})
	if err != nil {
		Log.Errorw("encode envelope failed", "event", event, "err", err)
		return nil
	}
	return b
}

// decodePayload 解析 data 字段；缺失或格式错误返回 false
func decodePayload(raw json.RawMessage, out any) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
