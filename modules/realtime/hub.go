package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dream-canvas-server/modules/common/logger"
)

const (
	// refreshChannel - 인스턴스 간 새로고침 신호 채널
	refreshChannel = "gallery:refresh"
	counterPrefix  = "gallery:refresh:"
	sendBuffer     = 16
)

// RefreshMessage - 클라이언트로 보내는 메시지
type RefreshMessage struct {
	Type    string `json:"type"`
	Counter int64  `json:"counter"`
}

// refreshEvent - Redis pub/sub payload
type refreshEvent struct {
	UserID  string `json:"userId"`
	Counter int64  `json:"counter"`
}

// Client - 연결된 websocket 1개
type Client struct {
	userID string
	send   chan []byte
}

// Hub - 사용자별 websocket 목록과 갤러리 새로고침 카운터.
// Redis가 있으면 INCR + PUBLISH로 여러 인스턴스에 전달
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	counters map[string]int64
	closed   bool

	rdb *redis.Client

	totalConnections int64
	startTime        time.Time
	log              *zap.Logger
}

// NewHub - rdb가 nil이면 프로세스 내 카운터만 사용
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		clients:   map[string]map[*Client]struct{}{},
		counters:  map[string]int64{},
		rdb:       rdb,
		startTime: time.Now(),
		log:       logger.Module("Realtime"),
	}
}

// Run - Redis 구독 루프 (ctx 취소 시 종료). Redis가 없으면 바로 반환
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}

	sub := h.rdb.Subscribe(ctx, refreshChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			h.log.Error("❌ [Realtime] Failed to subscribe", zap.Error(err))
		}
		return
	}
	h.log.Info("📡 [Realtime] Subscribed", zap.String("channel", refreshChannel))

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev refreshEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.log.Warn("⚠️  [Realtime] Invalid refresh event", zap.Error(err))
				continue
			}
			h.deliver(ev.UserID, ev.Counter)
		case <-ctx.Done():
			return
		}
	}
}

// Bump - 사용자 카운터 증가 후 열린 소켓 전체에 알림
func (h *Hub) Bump(ctx context.Context, userID string) (int64, error) {
	if h.rdb == nil {
		h.mu.Lock()
		h.counters[userID]++
		n := h.counters[userID]
		h.mu.Unlock()

		h.deliver(userID, n)
		return n, nil
	}

	n, err := h.rdb.Incr(ctx, counterPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment refresh counter: %w", err)
	}
	payload, err := json.Marshal(refreshEvent{UserID: userID, Counter: n})
	if err != nil {
		return n, err
	}
	if err := h.rdb.Publish(ctx, refreshChannel, payload).Err(); err != nil {
		return n, fmt.Errorf("failed to publish refresh event: %w", err)
	}
	return n, nil
}

// Counter - 현재 카운터 값
func (h *Hub) Counter(ctx context.Context, userID string) (int64, error) {
	if h.rdb == nil {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.counters[userID], nil
	}

	n, err := h.rdb.Get(ctx, counterPrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read refresh counter: %w", err)
	}
	return n, nil
}

// register - 닫힌 hub면 false
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	set, ok := h.clients[c.userID]
	if !ok {
		set = map[*Client]struct{}{}
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.totalConnections++

	h.log.Info("✅ [Realtime] Client connected",
		zap.String("user_id", c.userID),
		zap.Int("user_connections", len(set)))
	return true
}

// unregister - 여러 번 호출돼도 안전
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.log.Info("👋 [Realtime] Client disconnected", zap.String("user_id", c.userID))
}

// deliver - 해당 사용자의 모든 소켓으로 전송. 버퍼가 찬 느린 클라이언트는 끊음
func (h *Hub) deliver(userID string, counter int64) {
	msg, err := json.Marshal(RefreshMessage{Type: "gallery_refresh", Counter: counter})
	if err != nil {
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("⚠️  [Realtime] Dropping slow client", zap.String("user_id", userID))
		h.unregister(c)
	}
}

// Close - 모든 소켓의 send 채널을 닫아 writer를 종료
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
	h.log.Info("🛑 [Realtime] Hub closed")
}

// Stats - 현재 연결 현황
type Stats struct {
	Users            int       `json:"users"`
	Connections      int       `json:"connections"`
	TotalConnections int64     `json:"totalConnections"`
	StartTime        time.Time `json:"startTime"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{Users: len(h.clients), TotalConnections: h.totalConnections, StartTime: h.startTime}
	for _, set := range h.clients {
		s.Connections += len(set)
	}
	return s
}
