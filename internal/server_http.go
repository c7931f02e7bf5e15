package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"workspacechat/internal/storage"
)

var errUnauthorized = errors.New("unauthorized")

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	Username  string     `json:"username"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type roomDTO struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Workspace     int64     `json:"workspace"`
	WorkspaceName string    `json:"workspace_name"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type authContext struct {
	User  *storage.User
	Token string
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	token, expiresAt, err := s.store.IssueToken(r.Context(), user.ID, s.opts.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncLogin()
	resp := loginResponse{Token: token, Username: user.Username}
	if !expiresAt.IsZero() {
		resp.ExpiresAt = &expiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.store.RevokeToken(r.Context(), authCtx.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHistory returns the most recent messages of a workspace room, oldest
// first. Callers outside the workspace get an empty list rather than an error.
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	workspaceID, err := strconv.ParseInt(r.PathValue("workspaceID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	workspace, err := s.store.GetWorkspace(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if workspace == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	messages := make([]ChatMessage, 0)
	identity := Identity{UserID: authCtx.User.ID, Username: authCtx.User.Username}
	if !s.guard.IsAuthorized(r.Context(), identity, workspaceID) {
		writeJSON(w, http.StatusOK, messages)
		return
	}
	room, err := s.store.GetOrCreateRoom(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	recent, err := s.store.RecentMessages(r.Context(), room.ID, s.opts.HistoryLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, msg := range recent {
		messages = append(messages, newChatMessage(msg))
	}
	writeJSON(w, http.StatusOK, messages)
}

// HandleRooms lists the chat rooms of the caller's workspaces.
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	rooms, err := s.store.ListRoomsForUser(r.Context(), authCtx.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := make([]roomDTO, 0, len(rooms))
	for _, room := range rooms {
		resp = append(resp, roomDTO{
			ID:            room.ID,
			Name:          room.Name,
			Workspace:     room.WorkspaceID,
			WorkspaceName: room.WorkspaceName,
			MessageCount:  room.MessageCount,
			CreatedAt:     room.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	payload := s.metrics.Snapshot()
	stats := s.hub.Stats()
	payload["rooms"] = stats.Rooms
	payload["joined_connections"] = stats.Connections
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) HandleUp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": Version, "hub": s.hub.Stats()})
}

// requireAuth resolves the request's token and writes 401 when it is absent or invalid.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (*authContext, bool) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		} else {
			s.logger.Error("request authentication failed", slog.Any("error", err))
		}
		http.Error(w, http.StatusText(status), status)
		return nil, false
	}
	return authCtx, true
}

func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, errUnauthorized
	}
	user, err := s.identities.ResolveToken(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{User: user, Token: token}, nil
}

// bearerToken accepts both "Token <t>" and "Bearer <t>".
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return ""
	}
	if !strings.EqualFold(scheme, "token") && !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
