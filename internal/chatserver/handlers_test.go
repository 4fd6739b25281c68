package chatserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisionet/messaging/internal/common/utils"
	"github.com/fisionet/messaging/internal/messaging"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	hub *Hub
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()

	hub := NewHub()
	go hub.Run()

	svc := NewService(NewMemoryStore(), testUsers(), hub, 50)
	handler := NewHandler(svc, hub, HandlerConfig{RateLimit: 100, RateBurst: 100})
	srv := httptest.NewServer(NewRouter(handler, NewAuthMiddleware(secret), "*"))

	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
	})
	return &testServer{Server: srv, hub: hub}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := utils.GenerateJWT(utils.NewAccessClaims(userID, "", "", time.Hour), testSecret)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRESTFlow(t *testing.T) {
	srv := newTestServer(t, testSecret)

	resp := srv.do(t, http.MethodPost, "/users/u2/messages", "u2", messaging.SendMessageRequest{ReceiverID: "u1", Content: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sent messaging.Message
	decode(t, resp, &sent)
	assert.Equal(t, "u2", sent.SenderID)

	resp = srv.do(t, http.MethodGet, "/users/u1/conversations", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var convs struct {
		Conversations []messaging.Conversation `json:"conversations"`
	}
	decode(t, resp, &convs)
	require.Len(t, convs.Conversations, 1)
	assert.Equal(t, sent.ConversationID, convs.Conversations[0].ConversationID)
	assert.Equal(t, "hi", convs.Conversations[0].LastMessage)
	assert.Equal(t, int64(1), convs.Conversations[0].UnreadCount)

	resp = srv.do(t, http.MethodGet, "/users/u1/conversations/"+sent.ConversationID+"/messages?limit=10", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs struct {
		Messages []messaging.Message `json:"messages"`
	}
	decode(t, resp, &msgs)
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, sent, msgs.Messages[0])

	resp = srv.do(t, http.MethodGet, "/users/u1/unread", "u1", nil)
	var unread struct {
		UnreadCount int64 `json:"unread_count"`
	}
	decode(t, resp, &unread)
	assert.Equal(t, int64(1), unread.UnreadCount)

	resp = srv.do(t, http.MethodPost, "/users/u1/conversations/"+sent.ConversationID+"/read", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/users/u1/unread", "u1", nil)
	decode(t, resp, &unread)
	assert.Equal(t, int64(0), unread.UnreadCount)
}

func TestRESTErrors(t *testing.T) {
	srv := newTestServer(t, testSecret)

	resp := srv.do(t, http.MethodPost, "/users/u1/messages", "u1", messaging.SendMessageRequest{ReceiverID: "u2"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "content is required", body["error"])

	resp = srv.do(t, http.MethodGet, "/users/u1/conversations/nope/messages", "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/users/u1/conversations/nope/messages?limit=abc", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t, testSecret)

	resp := srv.do(t, http.MethodGet, "/users/u1/unread", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/users/u1/unread", "u2", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/users/u1/unread", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, raw.StatusCode)

	resp = srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	srv := newTestServer(t, "")

	resp := srv.do(t, http.MethodGet, "/users/u1/unread", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, testSecret)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/users/u1/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func dialWS(t *testing.T, srv *testServer, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + userID
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, userID))

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return srv.hub.IsUserOnline(userID) }, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) messaging.ProtocolMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := messaging.DecodeFrame(data)
	require.NoError(t, err)
	return msg
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg messaging.ProtocolMessage) {
	t.Helper()
	data, err := messaging.EncodeFrame(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestWebSocketPingPong(t *testing.T) {
	srv := newTestServer(t, testSecret)
	conn := dialWS(t, srv, "u1")

	writeFrame(t, conn, messaging.PingMessage())
	assert.Equal(t, messaging.TypePong, readFrame(t, conn).Type)
}

func TestWebSocketSendDeliversToBothSides(t *testing.T) {
	srv := newTestServer(t, testSecret)
	sender := dialWS(t, srv, "u1")
	receiver := dialWS(t, srv, "u2")

	writeFrame(t, sender, messaging.ChatMessage("u2", "over the wire"))

	echo := readFrame(t, sender)
	require.Equal(t, messaging.TypeMessageSent, echo.Type)
	assert.Equal(t, "over the wire", echo.Message.Content)

	push := readFrame(t, receiver)
	require.Equal(t, messaging.TypeNewMessage, push.Type)
	assert.Equal(t, *echo.Message, *push.Message)
}

func TestWebSocketRejectsForeignToken(t *testing.T) {
	srv := newTestServer(t, testSecret)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/u1"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, "u2"))

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketTokenQueryParam(t *testing.T) {
	srv := newTestServer(t, testSecret)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/u1?token=" + token(t, "u1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	writeFrame(t, conn, messaging.PingMessage())
	assert.Equal(t, messaging.TypePong, readFrame(t, conn).Type)
}

func TestNewerSocketReplacesOlder(t *testing.T) {
	srv := newTestServer(t, testSecret)
	first := dialWS(t, srv, "u1")
	second := dialWS(t, srv, "u1")

	// the first socket gets closed by the server
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	assert.Equal(t, 1, srv.hub.GetActiveConnections())

	writeFrame(t, second, messaging.PingMessage())
	assert.Equal(t, messaging.TypePong, readFrame(t, second).Type)
}
