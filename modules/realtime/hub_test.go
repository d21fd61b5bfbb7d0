package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"dream-canvas-server/modules/auth"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	resolver := auth.NewSessionResolver(nil, testSecret, nil)
	r := mux.NewRouter()
	NewHandler(hub, resolver, "*").RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readRefresh(t *testing.T, conn *websocket.Conn) RefreshMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg RefreshMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Stats().Connections == n }, 2*time.Second, 10*time.Millisecond)
}

func TestBumpWithoutRedis(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()

	n, err := hub.Counter(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, n)

	for i := 1; i <= 3; i++ {
		n, err = hub.Bump(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, int64(i), n)
	}
	n, err = hub.Bump(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = hub.Counter(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t, NewHub(nil))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketReceivesOwnRefreshOnly(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)
	ctx := context.Background()

	_, err := hub.Bump(ctx, "u1")
	require.NoError(t, err)

	a := dial(t, srv, signToken(t, "u1"))
	b := dial(t, srv, signToken(t, "u2"))

	// 연결 직후 현재 값
	require.Equal(t, RefreshMessage{Type: "gallery_refresh", Counter: 1}, readRefresh(t, a))
	require.Equal(t, RefreshMessage{Type: "gallery_refresh", Counter: 0}, readRefresh(t, b))
	waitForConnections(t, hub, 2)

	_, err = hub.Bump(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(2), readRefresh(t, a).Counter)

	_, err = hub.Bump(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, int64(1), readRefresh(t, b).Counter)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)

	conn := dial(t, srv, signToken(t, "u1"))
	readRefresh(t, conn)
	waitForConnections(t, hub, 1)

	hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Zero(t, hub.Stats().Connections)

	// 닫힌 뒤의 Bump는 전송 대상 없음
	_, err = hub.Bump(context.Background(), "u1")
	require.NoError(t, err)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)

	conn := dial(t, srv, signToken(t, "u1"))
	readRefresh(t, conn)
	waitForConnections(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForConnections(t, hub, 0)
	require.Equal(t, int64(1), hub.Stats().TotalConnections)
}

func TestBumpAcrossInstancesWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	newRDB := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 소켓은 listener에, Bump는 다른 인스턴스에서
	listener := NewHub(newRDB())
	publisher := NewHub(newRDB())
	go listener.Run(ctx)

	srv := newTestServer(t, listener)
	conn := dial(t, srv, signToken(t, "u1"))
	require.Zero(t, readRefresh(t, conn).Counter)
	waitForConnections(t, listener, 1)

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(refreshChannel)[refreshChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	n, err := publisher.Bump(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, int64(1), readRefresh(t, conn).Counter)

	got, err := listener.Counter(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got)
}

func TestHandleCounter(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)
	_, err := hub.Bump(context.Background(), "u1")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/generations/refresh-counter", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1"))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body CounterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Success)
	require.Equal(t, int64(1), body.Counter)

	resp2, err := srv.Client().Get(srv.URL + "/api/generations/refresh-counter")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}
