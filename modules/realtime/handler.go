package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dream-canvas-server/modules/auth"
	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// CounterResponse - GET /api/generations/refresh-counter
type CounterResponse struct {
	Success bool  `json:"success"`
	Counter int64 `json:"counter"`
}

type Handler struct {
	hub      *Hub
	resolver *auth.SessionResolver
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler - allowedOrigin이 "*"이면 모든 Origin 허용
func NewHandler(hub *Hub, resolver *auth.SessionResolver, allowedOrigin string) *Handler {
	return &Handler{
		hub:      hub,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
		log: logger.Module("Realtime"),
	}
}

// RegisterRoutes - /ws는 쿼리 토큰으로 직접 인증, 카운터 조회는 RequireUser
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")
	r.Handle("/api/generations/refresh-counter", h.resolver.RequireUser(http.HandlerFunc(h.HandleCounter))).Methods("GET")
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.resolver.Resolve(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		response.Error(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("⚠️  [Realtime] Upgrade failed", zap.Error(err))
		return
	}

	client := &Client{userID: user.ID, send: make(chan []byte, sendBuffer)}
	if !h.hub.register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	// 연결 직후 현재 카운터를 한 번 보내 놓친 변경을 맞춤
	if n, err := h.hub.Counter(r.Context(), user.ID); err == nil {
		h.hub.deliver(user.ID, n)
	}

	go h.writePump(conn, client)
	go h.readPump(conn, client)
}

func (h *Handler) HandleCounter(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		response.Error(w, apperror.Authentication(""))
		return
	}

	n, err := h.hub.Counter(r.Context(), user.ID)
	if err != nil {
		h.log.Error("❌ [Realtime] Failed to read counter", zap.String("user_id", user.ID), zap.Error(err))
		response.Error(w, apperror.Upstream(err))
		return
	}
	response.JSON(w, http.StatusOK, CounterResponse{Success: true, Counter: n})
}

// readPump - 클라이언트 메시지는 무시하고 pong/close만 처리
func (h *Handler) readPump(conn *websocket.Conn, c *Client) {
	defer func() {
		h.hub.unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("⚠️  [Realtime] Read error", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
