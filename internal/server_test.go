package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"workspacechat/internal/storage"
)

type gatewayFixture struct {
	store  *storage.Store
	server *Server
	http   *httptest.Server
}

func newGatewayFixture(t *testing.T, opts Options) *gatewayFixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := storage.NewStore("sqlite://file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	server := NewServer(store, opts)
	mux := http.NewServeMux()
	server.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Cleanup(server.Shutdown)

	return &gatewayFixture{store: store, server: server, http: ts}
}

func (f *gatewayFixture) seedUser(t *testing.T, username, password string) (int64, string) {
	t.Helper()
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	id, err := f.store.CreateUser(ctx, username, hash)
	require.NoError(t, err)
	token, _, err := f.store.IssueToken(ctx, id, time.Hour)
	require.NoError(t, err)
	return id, token
}

func (f *gatewayFixture) seedWorkspace(t *testing.T, name string, members ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.CreateWorkspace(ctx, name)
	require.NoError(t, err)
	for _, member := range members {
		require.NoError(t, f.store.AddMember(ctx, id, member))
	}
	return id
}

func (f *gatewayFixture) dial(t *testing.T, workspace, token string) *websocket.Conn {
	t.Helper()
	endpoint := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/chat/chatroom/" + workspace + "/"
	if token != "" {
		endpoint += "?token=" + url.QueryEscape(token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *gatewayFixture) waitForConnections(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.server.Hub().Stats().Connections == n
	}, 2*time.Second, 10*time.Millisecond, "expected %d joined connections", n)
}

func (f *gatewayFixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		assert.Equal(t, code, closeErr.Code)
		return
	}
}

func readChat(t *testing.T, conn *websocket.Conn) ChatMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	return decodeChat(t, payload)
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, payload, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", payload)
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
}

func sendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"message": text}))
}

func TestServeWS_RejectsUnauthenticated(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, _ := f.seedUser(t, "alice", "pw")
	workspace := f.seedWorkspace(t, "Acme", aliceID)

	revoked, _, err := f.store.IssueToken(context.Background(), aliceID, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.store.RevokeToken(context.Background(), revoked))

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "malformed token", token: "not-a-token"},
		{name: "unknown token", token: "7d0c9a4e-52b1-4f7e-9a55-0d3c1b1f2e3a"},
		{name: "revoked token", token: revoked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := f.dial(t, fmt.Sprint(workspace), tt.token)
			expectClose(t, conn, CloseUnauthenticated)
		})
	}

	assert.Equal(t, uint64(len(tests)), f.server.Metrics().Snapshot()["rejected_unauthenticated"])
	assert.Equal(t, HubStats{}, f.server.Hub().Stats())
}

func TestServeWS_RejectsForbidden(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, _ := f.seedUser(t, "alice", "pw")
	_, bobToken := f.seedUser(t, "bob", "pw")
	workspace := f.seedWorkspace(t, "Acme", aliceID)

	tests := []struct {
		name      string
		workspace string
	}{
		{name: "not a member", workspace: fmt.Sprint(workspace)},
		{name: "nonexistent workspace", workspace: "999"},
		{name: "non-numeric workspace", workspace: "acme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := f.dial(t, tt.workspace, bobToken)
			expectClose(t, conn, CloseForbidden)
		})
	}

	assert.Equal(t, uint64(len(tests)), f.server.Metrics().Snapshot()["rejected_forbidden"])
	assert.Equal(t, HubStats{}, f.server.Hub().Stats())
}

func TestServeWS_BroadcastsWithinWorkspace(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, aliceToken := f.seedUser(t, "alice", "pw")
	bobID, bobToken := f.seedUser(t, "bob", "pw")
	carolID, carolToken := f.seedUser(t, "carol", "pw")
	acme := f.seedWorkspace(t, "Acme", aliceID, bobID)
	globex := f.seedWorkspace(t, "Globex", carolID)

	alice := f.dial(t, fmt.Sprint(acme), aliceToken)
	bob := f.dial(t, fmt.Sprint(acme), bobToken)
	carol := f.dial(t, fmt.Sprint(globex), carolToken)
	f.waitForConnections(t, 3)

	sendChat(t, alice, "hello")

	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readChat(t, conn)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, aliceID, msg.Sender)
		assert.Equal(t, "alice", msg.SenderName)
		assert.False(t, msg.IsRead)
		assert.NotZero(t, msg.ID)
		assert.False(t, msg.Timestamp.IsZero())
	}
	expectSilence(t, carol)

	sendChat(t, bob, "first")
	sendChat(t, bob, "second")
	assert.Equal(t, "first", readChat(t, alice).Content)
	assert.Equal(t, "second", readChat(t, alice).Content)
}

func TestServeWS_MalformedFrameKeepsConnection(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, aliceToken := f.seedUser(t, "alice", "pw")
	acme := f.seedWorkspace(t, "Acme", aliceID)

	alice := f.dial(t, fmt.Sprint(acme), aliceToken)
	f.waitForConnections(t, 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"message":"   "}`)))
	sendChat(t, alice, "valid")

	assert.Equal(t, "valid", readChat(t, alice).Content)
	assert.Equal(t, uint64(2), f.server.Metrics().Snapshot()["malformed_messages_total"])
	assert.Equal(t, uint64(1), f.server.Metrics().Snapshot()["messages_total"])
}

func TestServeWS_DisconnectLeavesRoom(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, aliceToken := f.seedUser(t, "alice", "pw")
	bobID, bobToken := f.seedUser(t, "bob", "pw")
	acme := f.seedWorkspace(t, "Acme", aliceID, bobID)

	alice := f.dial(t, fmt.Sprint(acme), aliceToken)
	bob := f.dial(t, fmt.Sprint(acme), bobToken)
	f.waitForConnections(t, 2)

	deadline := time.Now().Add(time.Second)
	require.NoError(t, bob.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline))
	f.waitForConnections(t, 1)
	assert.Equal(t, int64(1), f.server.Metrics().Snapshot()["active_connections"])

	sendChat(t, alice, "anyone?")
	assert.Equal(t, "anyone?", readChat(t, alice).Content)
}

func TestServeWS_IdleTimeoutCloses(t *testing.T) {
	f := newGatewayFixture(t, Options{IdleTimeout: 200 * time.Millisecond})
	aliceID, aliceToken := f.seedUser(t, "alice", "pw")
	acme := f.seedWorkspace(t, "Acme", aliceID)

	_ = f.dial(t, fmt.Sprint(acme), aliceToken)
	f.waitForConnections(t, 1)

	// the client never reads, so pings go unanswered
	f.waitForConnections(t, 0)
	assert.False(t, f.server.Hub().Exists(acme))
}

func TestServeWS_ShutdownClosesWithGoingAway(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, aliceToken := f.seedUser(t, "alice", "pw")
	acme := f.seedWorkspace(t, "Acme", aliceID)

	alice := f.dial(t, fmt.Sprint(acme), aliceToken)
	f.waitForConnections(t, 1)

	f.server.Shutdown()
	expectClose(t, alice, websocket.CloseGoingAway)

	late := f.dial(t, fmt.Sprint(acme), aliceToken)
	expectClose(t, late, websocket.CloseGoingAway)
}

func TestHandleHistory(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, aliceToken := f.seedUser(t, "alice", "pw")
	_, bobToken := f.seedUser(t, "bob", "pw")
	acme := f.seedWorkspace(t, "Acme", aliceID)

	ctx := context.Background()
	room, err := f.store.GetOrCreateRoom(ctx, acme)
	require.NoError(t, err)
	for i := 0; i < 55; i++ {
		_, err := f.store.AppendMessage(ctx, room.ID, aliceID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	path := fmt.Sprintf("/chat/history/%d/messages/", acme)

	t.Run("requires a token", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown workspace", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/chat/history/999/messages/", aliceToken, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("non-member gets an empty list", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, path, bobToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var messages []ChatMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
		assert.NotNil(t, messages)
		assert.Empty(t, messages)
	})

	t.Run("member gets the last fifty oldest first", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, path, aliceToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var messages []ChatMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
		require.Len(t, messages, 50)
		assert.Equal(t, "m5", messages[0].Content)
		assert.Equal(t, "m54", messages[49].Content)
		assert.Equal(t, "alice", messages[0].SenderName)
		for i := 1; i < len(messages); i++ {
			assert.Greater(t, messages[i].ID, messages[i-1].ID)
		}
	})

	t.Run("rejects other methods", func(t *testing.T) {
		resp := f.request(t, http.MethodPost, path, aliceToken, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestHandleHistoryMatchesBroadcast(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, aliceToken := f.seedUser(t, "alice", "pw")
	acme := f.seedWorkspace(t, "Acme", aliceID)

	alice := f.dial(t, fmt.Sprint(acme), aliceToken)
	f.waitForConnections(t, 1)
	sendChat(t, alice, "persisted")
	live := readChat(t, alice)

	resp := f.request(t, http.MethodGet, fmt.Sprintf("/chat/history/%d/messages/", acme), aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var messages []ChatMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
	require.Len(t, messages, 1)
	assert.Equal(t, live.ID, messages[0].ID)
	assert.Equal(t, live.Content, messages[0].Content)
	assert.True(t, live.Timestamp.Equal(messages[0].Timestamp))
}

func TestHandleRooms(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, aliceToken := f.seedUser(t, "alice", "pw")
	bobID, _ := f.seedUser(t, "bob", "pw")
	acme := f.seedWorkspace(t, "Acme", aliceID)
	f.seedWorkspace(t, "Globex", bobID)

	for _, path := range []string{"/chat/rooms/", "/chat/chatroom/"} {
		t.Run(path, func(t *testing.T) {
			resp := f.request(t, http.MethodGet, path, aliceToken, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var rooms []roomDTO
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
			require.Len(t, rooms, 1)
			assert.Equal(t, "Acme Chat", rooms[0].Name)
			assert.Equal(t, acme, rooms[0].Workspace)
			assert.Equal(t, "Acme", rooms[0].WorkspaceName)
		})
	}

	resp := f.request(t, http.MethodGet, "/chat/rooms/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginLogout(t *testing.T) {
	f := newGatewayFixture(t, Options{LoginLimit: -1, TokenTTL: time.Hour})
	f.seedUser(t, "alice", "correct horse")

	resp := f.request(t, http.MethodPost, "/auth/login", "", loginRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/auth/login", "", loginRequest{Username: "alice", Password: "correct horse"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	assert.Equal(t, "alice", login.Username)
	require.NotNil(t, login.ExpiresAt)
	assert.True(t, login.ExpiresAt.After(time.Now()))

	resp = f.request(t, http.MethodGet, "/chat/rooms/", login.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/auth/logout", login.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/chat/rooms/", login.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := f.dial(t, "1", login.Token)
	expectClose(t, conn, CloseUnauthenticated)

	resp = f.request(t, http.MethodGet, "/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, uint64(1), f.server.Metrics().Snapshot()["logins_total"])
}

func TestLoginRateLimited(t *testing.T) {
	f := newGatewayFixture(t, Options{LoginLimit: 2, LoginWindow: time.Hour})
	f.seedUser(t, "alice", "pw")

	for i := 0; i < 2; i++ {
		resp := f.request(t, http.MethodPost, "/auth/login", "", loginRequest{Username: "alice", Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := f.request(t, http.MethodPost, "/auth/login", "", loginRequest{Username: "alice", Password: "pw"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestMetricsAndUp(t *testing.T) {
	f := newGatewayFixture(t, Options{})
	aliceID, aliceToken := f.seedUser(t, "alice", "pw")
	acme := f.seedWorkspace(t, "Acme", aliceID)
	f.dial(t, fmt.Sprint(acme), aliceToken)
	f.waitForConnections(t, 1)

	resp := f.request(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var metrics map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metrics))
	assert.Equal(t, float64(1), metrics["active_connections"])
	assert.Equal(t, float64(1), metrics["rooms"])
	assert.Equal(t, float64(1), metrics["joined_connections"])

	resp = f.request(t, http.MethodGet, "/up", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var up struct {
		Status string   `json:"status"`
		Hub    HubStats `json:"hub"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	assert.Equal(t, "ok", up.Status)
	assert.Equal(t, HubStats{Rooms: 1, Connections: 1}, up.Hub)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Token abc":    "abc",
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for header, want := range tests {
		assert.Equal(t, want, bearerToken(header), "header %q", header)
	}
}
