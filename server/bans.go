package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"zonerelay/server/anticheat"
)

const (
	redisTimeout = 3 * time.Second
	flaggedKeep  = 200
)

// BanRecord 一条封禁或审核标记
type BanRecord struct {
	Addr   string    `json:"addr"`
	ConnID string    `json:"connId"`
	Reason string    `json:"reason"`
	Action string    `json:"action"` // disconnect | flag
	At     time.Time `json:"at"`
}

// BanList 按来源地址记录封禁；配置了 Redis 时同时写入共享哈希并在审核频道发布
// Add 在反应器协程中调用，Redis 写入放到独立协程，不阻塞事件处理
type BanList struct {
	mu      sync.RWMutex
	banned  map[string]BanRecord
	flagged []BanRecord

	rdb     *redis.Client
	key     string
	channel string
	wg      sync.WaitGroup
}

// NewMemoryBanList 只在进程内生效的封禁表
func NewMemoryBanList() *BanList {
	return &BanList{banned: make(map[string]BanRecord)}
}

// NewBanList Addr 为空时退化为内存封禁表；否则连接 Redis 并预热本地缓存
func NewBanList(cfg RedisConfig) (*BanList, error) {
	b := NewMemoryBanList()
	if cfg.Addr == "" {
		return b, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	b.rdb = rdb
	b.key = cfg.BanKey
	b.channel = cfg.Channel

	all, err := rdb.HGetAll(ctx, b.key).Result()
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("load bans from %s: %w", b.key, err)
	}
	for addr, raw := range all {
		var rec BanRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			Log.Warnw("skip malformed ban record", "addr", addr, "err", err)
			continue
		}
		b.banned[addr] = rec
	}
	Log.Infow("ban list connected", "redis", cfg.Addr, "key", b.key, "loaded", len(b.banned))
	return b, nil
}

// Add 记录封禁；action 为 flag 时只进入审核列表，不阻止重连
func (b *BanList) Add(rec BanRecord) {
	b.mu.Lock()
	if rec.Action == string(anticheat.BanFlag) {
		b.flagged = append(b.flagged, rec)
		if len(b.flagged) > flaggedKeep {
			b.flagged = append(b.flagged[:0:0], b.flagged[len(b.flagged)-flaggedKeep:]...)
		}
	} else if rec.Addr != "" {
		b.banned[rec.Addr] = rec
	}
	b.mu.Unlock()

	if b.rdb == nil {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.persist(rec)
	}()
}

func (b *BanList) persist(rec BanRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		Log.Errorw("encode ban record failed", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	pipe := b.rdb.TxPipeline()
	if rec.Action != string(anticheat.BanFlag) && rec.Addr != "" {
		pipe.HSet(ctx, b.key, rec.Addr, raw)
	}
	if b.channel != "" {
		pipe.Publish(ctx, b.channel, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		Log.Errorw("persist ban failed", "addr", rec.Addr, "err", err)
	}
}

// IsBanned 先查本地，再查共享存储（其他实例写入的封禁）
func (b *BanList) IsBanned(ctx context.Context, addr string) bool {
	b.mu.RLock()
	_, ok := b.banned[addr]
	b.mu.RUnlock()
	if ok || b.rdb == nil || addr == "" {
		return ok
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	found, err := b.rdb.HExists(ctx, b.key, addr).Result()
	if err != nil {
		// 存储不可用时放行，避免 Redis 故障拒绝所有玩家
		Log.Warnw("ban lookup failed", "addr", addr, "err", err)
		return false
	}
	return found
}

// Lift 解除封禁
func (b *BanList) Lift(ctx context.Context, addr string) (bool, error) {
	b.mu.Lock()
	_, ok := b.banned[addr]
	delete(b.banned, addr)
	b.mu.Unlock()

	if b.rdb == nil {
		return ok, nil
	}
	n, err := b.rdb.HDel(ctx, b.key, addr).Result()
	if err != nil {
		return ok, fmt.Errorf("lift ban %s: %w", addr, err)
	}
	return ok || n > 0, nil
}

// List 当前封禁，按时间排序
func (b *BanList) List() []BanRecord {
	b.mu.RLock()
	out := make([]BanRecord, 0, len(b.banned))
	for _, rec := range b.banned {
		out = append(out, rec)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Flagged 等待审核的标记
func (b *BanList) Flagged() []BanRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]BanRecord, len(b.flagged))
	copy(out, b.flagged)
	return out
}

// Close 等待未完成的写入并关闭 Redis 连接
func (b *BanList) Close() error {
	b.wg.Wait()
	if b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
