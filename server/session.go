package server

import (
	"encoding/json"
	"time"
)

// ConnID 连接标识，由传输层在握手时分配
type ConnID string

// Profile 玩家在 join_game 时上报的资料；装备原样转发，服务端不解释
type Profile struct {
	Nickname  string
	Class     string
	Level     int
	Equipment json.RawMessage
}

// Session 一个在线连接对应的玩家记录
type Session struct {
	ID ConnID
	Profile

	X           float64
	Y           float64
	Rotation    float64
	IsMoving    bool
	IsAttacking bool

	// 首次 join_zone 之前 InZone 为 false
	ZoneID int
	InZone bool

	JoinedAt time.Time
}

// PlayerState 下发给客户端的玩家快照（zone_players / player_joined）
type PlayerState struct {
	ID          ConnID          `json:"id"`
	Nickname    string          `json:"nickname"`
	Class       string          `json:"class"`
	Level       int             `json:"level"`
	Equipment   json.RawMessage `json:"equipment,omitempty"`
	X           float64         `json:"x"`
	Y           float64         `json:"y"`
	Rotation    float64         `json:"rotation"`
	IsMoving    bool            `json:"isMoving"`
	IsAttacking bool            `json:"isAttacking"`
	ZoneID      *int            `json:"zoneId"`
}

// State 生成只读快照
func (s *Session) State() PlayerState {
	st := PlayerState{
		ID:          s.ID,
		Nickname:    s.Nickname,
		Class:       s.Class,
		Level:       s.Level,
		Equipment:   s.Equipment,
		X:           s.X,
		Y:           s.Y,
		Rotation:    s.Rotation,
		IsMoving:    s.IsMoving,
		IsAttacking: s.IsAttacking,
	}
	if s.InZone {
		zone := s.ZoneID
		st.ZoneID = &zone
	}
	return st
}

// profileFromPayload 等级至少为 1
func profileFromPayload(p JoinGamePayload) Profile {
	level := p.Level
	if level < 1 {
		level = 1
	}
	return Profile{
		Nickname:  p.Nickname,
		Class:     p.Class,
		Level:     level,
		Equipment: p.Equipment,
	}
}
