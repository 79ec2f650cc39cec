// Package anticheat 在事件被接受前校验移动、操作频率与伤害数值。
//
// Validator 不持有游戏状态，只给出裁决；调用方决定丢弃、裁剪还是通知。
// Validator 不是并发安全的，由中继的反应器协程独占使用。
package anticheat

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// BanAction 达到封禁阈值后的处理方式
type BanAction string

const (
	BanDisconnect BanAction = "disconnect" // 通知并断开，同时记录封禁
	BanFlag       BanAction = "flag"       // 只记录，交给外部审核
)

// 违规类别，用于可疑日志
const (
	KindSpeed  = "speed_hack"
	KindCoords = "invalid_coords"
	KindSpam   = "action_spam"
	KindDamage = "damage_hack"
	KindDPS    = "dps_hack"
)

// ActionLimit 某类操作在滑动窗口内允许的最大次数
type ActionLimit struct {
	Max    int           `yaml:"max" json:"max"`
	Window time.Duration `yaml:"window" json:"window"`
}

// Config 反作弊阈值
type Config struct {
	// 移动：允许的距离 = MaxStepDistance + MaxMoveSpeed * 距上次接受位置的间隔
	// 被拒绝的移动不更新基准，允许距离随时间增长直到被接受
	MaxMoveSpeed    float64 `yaml:"max_move_speed" json:"maxMoveSpeed"`
	MaxStepDistance float64 `yaml:"max_step_distance" json:"maxStepDistance"`
	PositionHistory int     `yaml:"position_history" json:"positionHistory"`

	Actions map[string]ActionLimit `yaml:"actions" json:"actions"`

	// 伤害上限 = min(MaxDamagePerHit, (BaseDamage + DamagePerLevel*等级) * 职业系数)
	MaxDamagePerHit    float64            `yaml:"max_damage_per_hit" json:"maxDamagePerHit"`
	BaseDamage         float64            `yaml:"base_damage" json:"baseDamage"`
	DamagePerLevel     float64            `yaml:"damage_per_level" json:"damagePerLevel"`
	ClassMultipliers   map[string]float64 `yaml:"class_multipliers" json:"classMultipliers"`
	MaxDamagePerMinute float64            `yaml:"max_damage_per_minute" json:"maxDamagePerMinute"`

	BanThreshold  int           `yaml:"ban_threshold" json:"banThreshold"`
	BanAction     BanAction     `yaml:"ban_action" json:"banAction"`
	DecayInterval time.Duration `yaml:"decay_interval" json:"decayInterval"`

	LogCapacity  int           `yaml:"log_capacity" json:"logCapacity"`
	LogRetention time.Duration `yaml:"log_retention" json:"logRetention"`
}

// DefaultConfig 默认阈值
func DefaultConfig() Config {
	return Config{
		MaxMoveSpeed:    50,
		MaxStepDistance: 10,
		PositionHistory: 8,
		Actions: map[string]ActionLimit{
			"attack": {Max: 20, Window: time.Second},
			"chat":   {Max: 5, Window: 10 * time.Second},
		},
		MaxDamagePerHit: 10000,
		BaseDamage:      200,
		DamagePerLevel:  100,
		ClassMultipliers: map[string]float64{
			"warrior":        1.2,
			"arctic_knight":  1.2,
			"gale_glaive":    1.3,
			"archer":         1.3,
			"archmage":       1.5,
			"bard":           0.9,
			"cleric":         0.9,
			"martial_artist": 1.3,
			"monk":           1.1,
			"reaper":         1.4,
		},
		MaxDamagePerMinute: 500000,
		BanThreshold:       10,
		BanAction:          BanDisconnect,
		DecayInterval:      time.Minute,
		LogCapacity:        1000,
		LogRetention:       24 * time.Hour,
	}
}

// Clone 深拷贝，map 字段不与原配置共享
func (c Config) Clone() Config {
	out := c
	out.Actions = make(map[string]ActionLimit, len(c.Actions))
	for k, v := range c.Actions {
		out.Actions[k] = v
	}
	out.ClassMultipliers = make(map[string]float64, len(c.ClassMultipliers))
	for k, v := range c.ClassMultipliers {
		out.ClassMultipliers[k] = v
	}
	return out
}

// Validate 检查热更新提交的阈值
func (c Config) Validate() error {
	switch {
	case c.MaxMoveSpeed < 0 || c.MaxStepDistance < 0:
		return errors.New("movement limits must not be negative")
	case c.MaxDamagePerHit < 0 || c.MaxDamagePerMinute < 0:
		return errors.New("damage limits must not be negative")
	case c.BanThreshold < 0:
		return errors.New("ban threshold must not be negative")
	case c.BanAction != "" && c.BanAction != BanDisconnect && c.BanAction != BanFlag:
		return fmt.Errorf("unknown ban action %q", c.BanAction)
	}
	for kind, l := range c.Actions {
		if l.Max < 0 || l.Window < 0 {
			return fmt.Errorf("action %q: limit must not be negative", kind)
		}
	}
	return nil
}

// Verdict 校验结果；Ban 仅在本次违规使计数越过阈值时为 true
type Verdict struct {
	Valid  bool
	Reason string
	Ban    bool
}

// DamageVerdict 伤害校验结果；Clamped 时 Valid 仍为 true，Adjusted 为裁剪后的值
type DamageVerdict struct {
	Verdict
	Adjusted float64
	Clamped  bool
}

// Incident 一条可疑记录
type Incident struct {
	PlayerID string    `json:"playerId"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason"`
	Time     time.Time `json:"time"`
}

type sample struct {
	x, y float64
	at   time.Time
}

// tracker 单个连接的跟踪状态，断开即丢弃
type tracker struct {
	positions []sample
	actions   map[string][]time.Time

	class string
	level int

	damageSince time.Time
	damageDealt float64

	violations int
	banned     bool
}

// Validator 反作弊校验器
type Validator struct {
	cfg       Config
	now       func() time.Time
	players   map[string]*tracker
	incidents []Incident
}

// New 创建校验器
func New(cfg Config) *Validator {
	return &Validator{
		cfg:     cfg,
		now:     time.Now,
		players: make(map[string]*tracker),
	}
}

// SetClock 替换时间源（测试用）
func (v *Validator) SetClock(now func() time.Time) { v.now = now }

// Config 当前阈值的副本
func (v *Validator) Config() Config { return v.cfg.Clone() }

// Policy 达到阈值后的处理方式
func (v *Validator) Policy() BanAction {
	if v.cfg.BanAction == "" {
		return BanDisconnect
	}
	return v.cfg.BanAction
}

// UpdateConfig 热更新阈值，已有跟踪状态保留
func (v *Validator) UpdateConfig(cfg Config) { v.cfg = cfg }

// Track 为新连接建立跟踪状态（重复调用会重置）
func (v *Validator) Track(id string) {
	v.players[id] = &tracker{
		actions:     make(map[string][]time.Time),
		level:       1,
		damageSince: v.now(),
	}
}

// Forget 连接断开时清理
func (v *Validator) Forget(id string) { delete(v.players, id) }

// Tracked 是否存在跟踪状态
func (v *Validator) Tracked(id string) bool {
	_, ok := v.players[id]
	return ok
}

// SetProfile 记录职业与等级，用于推算伤害上限
func (v *Validator) SetProfile(id, class string, level int) {
	t := v.tracker(id)
	t.class = class
	if level < 1 {
		level = 1
	}
	t.level = level
}

// Violations 当前违规计数
func (v *Validator) Violations(id string) int {
	if t, ok := v.players[id]; ok {
		return t.violations
	}
	return 0
}

func (v *Validator) tracker(id string) *tracker {
	t, ok := v.players[id]
	if !ok {
		v.Track(id)
		t = v.players[id]
	}
	return t
}

// ValidateMove 校验坐标是否合法以及相对上次接受位置的位移
func (v *Validator) ValidateMove(id string, x, y float64) Verdict {
	t := v.tracker(id)
	if !finite(x) || !finite(y) {
		return v.violation(id, t, KindCoords, "invalid coordinates")
	}

	now := v.now()
	if n := len(t.positions); n > 0 {
		last := t.positions[n-1]
		elapsed := now.Sub(last.at)
		if elapsed < 0 {
			elapsed = 0
		}
		allowed := v.cfg.MaxStepDistance + v.cfg.MaxMoveSpeed*elapsed.Seconds()
		if math.Hypot(x-last.x, y-last.y) > allowed {
			return v.violation(id, t, KindSpeed, "movement speed too high")
		}
	}

	t.positions = append(t.positions, sample{x: x, y: y, at: now})
	if keep := v.cfg.PositionHistory; keep > 0 && len(t.positions) > keep {
		t.positions = t.positions[len(t.positions)-keep:]
	}
	return Verdict{Valid: true}
}

// ResetPosition 清空位置基准（切换区域或重生后），下一次移动直接作为新基准
func (v *Validator) ResetPosition(id string) {
	if t, ok := v.players[id]; ok {
		t.positions = t.positions[:0]
	}
}

// LastPosition 最近一次被接受的位置
func (v *Validator) LastPosition(id string) (x, y float64, ok bool) {
	t, found := v.players[id]
	if !found || len(t.positions) == 0 {
		return 0, 0, false
	}
	last := t.positions[len(t.positions)-1]
	return last.x, last.y, true
}

// ValidateAction 滑动窗口计数；未配置的操作类别不限制
func (v *Validator) ValidateAction(id, kind string) Verdict {
	limit, ok := v.cfg.Actions[kind]
	if !ok || limit.Max <= 0 {
		return Verdict{Valid: true}
	}

	t := v.tracker(id)
	now := v.now()
	cutoff := now.Add(-limit.Window)
	recent := t.actions[kind][:0]
	for _, at := range t.actions[kind] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	t.actions[kind] = recent

	if len(recent) >= limit.Max {
		return v.violation(id, t, KindSpam, "too many actions, slow down")
	}
	t.actions[kind] = append(recent, now)
	return Verdict{Valid: true}
}

// ValidateDamage 超过上限的伤害被裁剪而非拒绝；每分钟总伤害超限则拒绝
func (v *Validator) ValidateDamage(id string, claimed float64, targetID string) DamageVerdict {
	t := v.tracker(id)
	if !finite(claimed) || claimed < 0 {
		return DamageVerdict{Verdict: v.violation(id, t, KindDamage, "invalid damage value")}
	}

	now := v.now()
	if now.Sub(t.damageSince) >= time.Minute {
		t.damageSince = now
		t.damageDealt = 0
	}

	adjusted := claimed
	ceiling := v.DamageCeiling(t.class, t.level)
	clamped := claimed > ceiling
	if clamped {
		adjusted = ceiling
	}

	if v.cfg.MaxDamagePerMinute > 0 && t.damageDealt+adjusted > v.cfg.MaxDamagePerMinute {
		return DamageVerdict{Verdict: v.violation(id, t, KindDPS, "damage per minute limit exceeded")}
	}
	t.damageDealt += adjusted

	if clamped {
		verdict := v.violation(id, t, KindDamage, "damage capped")
		verdict.Valid = true
		return DamageVerdict{Verdict: verdict, Adjusted: adjusted, Clamped: true}
	}
	return DamageVerdict{Verdict: Verdict{Valid: true}, Adjusted: adjusted}
}

// DamageCeiling 按职业与等级推算单次伤害上限
func (v *Validator) DamageCeiling(class string, level int) float64 {
	if level < 1 {
		level = 1
	}
	mult, ok := v.cfg.ClassMultipliers[class]
	if !ok || mult <= 0 {
		mult = 1
	}
	ceiling := (v.cfg.BaseDamage + v.cfg.DamagePerLevel*float64(level)) * mult
	if v.cfg.MaxDamagePerHit > 0 && (ceiling > v.cfg.MaxDamagePerHit || ceiling <= 0) {
		ceiling = v.cfg.MaxDamagePerHit
	}
	return ceiling
}

func (v *Validator) violation(id string, t *tracker, kind, reason string) Verdict {
	t.violations++
	v.record(Incident{PlayerID: id, Kind: kind, Reason: reason, Time: v.now()})

	ban := false
	if !t.banned && v.cfg.BanThreshold > 0 && t.violations >= v.cfg.BanThreshold {
		t.banned = true
		ban = true
	}
	return Verdict{Valid: false, Reason: reason, Ban: ban}
}

func (v *Validator) record(in Incident) {
	v.incidents = append(v.incidents, in)
	if keep := v.cfg.LogCapacity; keep > 0 && len(v.incidents) > keep {
		v.incidents = append(v.incidents[:0:0], v.incidents[len(v.incidents)-keep:]...)
	}
}

// Decay 每个周期所有连接的违规计数减一
func (v *Validator) Decay() {
	for _, t := range v.players {
		if t.violations > 0 {
			t.violations--
		}
	}
}

// PruneIncidents 清理超过保留期的可疑记录
func (v *Validator) PruneIncidents() {
	if v.cfg.LogRetention <= 0 {
		return
	}
	cutoff := v.now().Add(-v.cfg.LogRetention)
	kept := v.incidents[:0]
	for _, in := range v.incidents {
		if in.Time.After(cutoff) {
			kept = append(kept, in)
		}
	}
	v.incidents = kept
}

// Incidents 返回最近 limit 条可疑记录的副本
func (v *Validator) Incidents(limit int) []Incident {
	start := 0
	if limit > 0 && len(v.incidents) > limit {
		start = len(v.incidents) - limit
	}
	out := make([]Incident, len(v.incidents)-start)
	copy(out, v.incidents[start:])
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
