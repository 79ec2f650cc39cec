package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"zonerelay/server/anticheat"
)

const defaultIncidentLimit = 100

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// hubUnavailable 反应器已停止或请求超时
func hubUnavailable(w http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

// HandleAdminAntiCheat 读取与热更新反作弊阈值
// GET  /admin/anticheat  返回当前配置
// POST /admin/anticheat  JSON 载荷覆盖提交的字段，未提交的字段保持不变
func (h *Hub) HandleAdminAntiCheat(w http.ResponseWriter, r *http.Request) {
	var cur anticheat.Config
	if err := h.Call(r.Context(), func() { cur = h.guard.Config() }); err != nil {
		hubUnavailable(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, cur)
	case http.MethodPost:
		// 在副本上解码，等于只覆盖提交的字段
		if err := json.NewDecoder(r.Body).Decode(&cur); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := cur.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.Call(r.Context(), func() { h.guard.UpdateConfig(cur) }); err != nil {
			hubUnavailable(w, err)
			return
		}
		Log.Infow("anticheat config updated",
			"maxMoveSpeed", cur.MaxMoveSpeed, "maxDamagePerHit", cur.MaxDamagePerHit,
			"banThreshold", cur.BanThreshold, "banAction", cur.BanAction)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSuspicious 最近的反作弊违规记录
// GET /admin/suspicious?limit=100
func (h *Hub) HandleSuspicious(w http.ResponseWriter, r *http.Request) {
	limit := defaultIncidentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var out []anticheat.Incident
	if err := h.Call(r.Context(), func() { out = h.guard.Incidents(limit) }); err != nil {
		hubUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "incidents": out})
}

// HandleBans 封禁列表
// GET    /admin/bans              当前封禁与待审核标记
// DELETE /admin/bans?addr=1.2.3.4 解除封禁
func (h *Hub) HandleBans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"banned":  h.bans.List(),
			"flagged": h.bans.Flagged(),
		})
	case http.MethodDelete:
		addr := r.URL.Query().Get("addr")
		if addr == "" {
			http.Error(w, "missing addr query", http.StatusBadRequest)
			return
		}
		lifted, err := h.bans.Lift(r.Context(), addr)
		if err != nil {
			Log.Errorw("lift ban failed", "addr", addr, "err", err)
			http.Error(w, "lift failed", http.StatusInternalServerError)
			return
		}
		if lifted {
			Log.Infow("ban lifted", "addr", addr)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "lifted": lifted})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出中继运行指标与连接限制统计
// GET /metrics
func (h *Hub) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	total, ips := h.limiter.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": h.metrics.Snapshot(),
		"conns":   map[string]int{"total": total, "ips": ips},
	})
}

// HandleStatus 在线人数与区域分布
// GET /
func (h *Hub) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	st, err := h.Snapshot(r.Context())
	if err != nil {
		hubUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
