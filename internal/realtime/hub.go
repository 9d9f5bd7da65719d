package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"control-despacho/backend/pkg/metrics"
)

const (
	clientBuffer = 32
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

// Hub 进程内事件分发：本地发布或 LISTEN 桥接的事件广播给所有订阅者
type Hub struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Subscription 单个订阅者；缓冲满时事件被丢弃并关闭订阅
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	tables map[string]struct{}
	hub    *Hub
	once   sync.Once
}

func (s *Subscription) wants(table string) bool {
	if len(s.tables) == 0 {
		return true
	}
	_, ok := s.tables[table]
	return ok
}

// Close 取消订阅
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
		metrics.RealtimeClients.Dec()
	})
}

// Subscribe 订阅指定表的事件，tables 为空表示全部
func (h *Hub) Subscribe(tables ...string) *Subscription {
	ch := make(chan Event, clientBuffer)
	sub := &Subscription{C: ch, ch: ch, tables: make(map[string]struct{}), hub: h}
	for _, t := range tables {
		if t != "" {
			sub.tables[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeClients.Inc()
	return sub
}

// Publish 广播事件，不阻塞发布方
func (h *Hub) Publish(_ context.Context, e Event) error {
	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.subs {
		if !sub.wants(e.Table) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("实时订阅者消费过慢，已断开", zap.String("table", e.Table))
		sub.Close()
	}
	return nil
}

// Count 当前订阅者数量
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeWS 升级为 websocket 并推送事件，直到连接关闭
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tables ...string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub := h.Subscribe(tables...)
	defer sub.Close()

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)
	return nil
}

// readPump 只处理 pong 与关闭帧
func (h *Hub) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case e, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("实时推送写入失败", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
