package internal

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ServeWS upgrades the request and runs the handshake for
// /ws/chat/chatroom/{workspaceID}/?token=<token>. The upgrade always happens
// first so a refused peer receives a close frame carrying 4001 or 4003.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	websocketConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	client := newClient(s, websocketConn)
	if err := client.admit(r.Context(), r.URL.Query().Get("token"), r.PathValue("workspaceID")); err != nil {
		client.reject(err)
		return
	}
	if err := client.activate(); err != nil {
		s.logger.Info("websocket refused during shutdown", slog.Any("error", err))
		deadline := time.Now().Add(writeWait)
		_ = websocketConn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = websocketConn.Close()
	}
}

// authenticate resolves a raw bearer token into an identity.
func (s *Server) authenticate(ctx context.Context, rawToken string) (Identity, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return Identity{}, unauthenticated("missing token")
	}
	if _, err := uuid.Parse(token); err != nil {
		return Identity{}, unauthenticated("malformed token")
	}
	user, err := s.identities.ResolveToken(ctx, token)
	if err != nil {
		s.logger.Error("token lookup failed", slog.Any("error", err))
		return Identity{}, unauthenticated("token lookup failed")
	}
	if user == nil {
		return Identity{}, unauthenticated("unknown or expired token")
	}
	return Identity{UserID: user.ID, Username: user.Username}, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
