package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// ClientConn 一条 WebSocket 连接：读泵把消息投递给反应器，写泵负责出站队列
// send 通道从不关闭；done 关闭后写泵把剩余消息写完再发送关闭帧
type ClientConn struct {
	id      ConnID
	ip      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func NewClientConn(ws *websocket.Conn, id ConnID, ip string, cfg ServerConfig) *ClientConn {
	queue := cfg.SendQueueSize
	if queue <= 0 {
		queue = 64
	}
	var limiter *rate.Limiter
	if cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessageBurst)
	}
	return &ClientConn{
		id:      id,
		ip:      ip,
		ws:      ws,
		send:    make(chan []byte, queue),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

func (c *ClientConn) ID() ConnID       { return c.id }
func (c *ClientConn) RemoteIP() string { return c.ip }

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃，避免阻塞反应器）
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 请求关闭；可重复调用，只有第一次的关闭码生效
func (c *ClientConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeReason), time.Now().Add(time.Second))
			return
		}
	}
}

// flush 关闭前写出队列中剩余的消息（例如 banned 通知）
func (c *ClientConn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *ClientConn) write(msg []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// readPump 读取客户端消息，解码信封后投递给反应器；退出时通知反应器断开
func (c *ClientConn) readPump(h *Hub, maxSize int64, release func()) {
	defer func() {
		h.Disconnect(c.id)
		c.Close(websocket.CloseNormalClosure, "")
		release()
	}()

	if maxSize > 0 {
		c.ws.SetReadLimit(maxSize)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Debugw("read error", "conn", c.id, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if c.limiter != nil && !c.limiter.Allow() {
			h.metrics.IncFlooded()
			Log.Warnw("inbound rate exceeded", "conn", c.id, "ip", c.ip)
			c.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Type == "" {
			h.metrics.IncDropped()
			Log.Debugw("malformed envelope", "conn", c.id, "err", err)
			continue
		}
		if !h.Message(c.id, env) {
			return
		}
	}
}

// HandleWS WebSocket 接入：检查封禁与连接数，升级后交给读写泵
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, h.cfg.Server.TrustProxy)

	if h.bans.IsBanned(r.Context(), ip) {
		h.metrics.IncRefused()
		Log.Infow("refused banned address", "ip", ip)
		http.Error(w, "banned", http.StatusForbidden)
		return
	}
	if !h.limiter.TryAcquire(ip) {
		h.metrics.IncRefused()
		Log.Infow("refused connection over limit", "ip", ip)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	release := func() { h.limiter.Release(ip) }

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return h.cfg.Server.IsOriginAllowed(r.Header.Get("Origin"), r.Host)
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		Log.Warnw("upgrade failed", "ip", ip, "err", err)
		return
	}

	client := NewClientConn(ws, ConnID(h.newID()), ip, h.cfg.Server)
	// 连接事件先于任何消息进入队列
	if !h.Connect(client) {
		release()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	go client.writePump()
	go client.readPump(h, h.cfg.Server.MaxMessageSize, release)
}
