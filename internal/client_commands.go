package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

type (
	loginResultMsg struct {
		username string
		token    string
		err      error
	}
	roomsLoadedMsg struct {
		rooms []roomDTO
		err   error
	}
	roomOpenedMsg struct {
		workspaceID int64
		history     []ChatMessage
		conn        *websocket.Conn
		err         error
	}
	incomingMsg struct {
		conn *websocket.Conn
		chat ChatMessage
	}
	disconnectedMsg struct {
		conn *websocket.Conn
		err  error
	}
	sendFailedMsg struct{ err error }
	reconnectMsg  struct{}
	loggedOutMsg  struct{ err error }
)

// errSessionRejected and errNotMember surface the gateway's 4001 and 4003
// close codes to the UI.
var (
	errSessionRejected = errors.New("session rejected by server, please log in again")
	errNotMember       = errors.New("you are not a member of that workspace")
)

func (model *TUIModel) loginCmd(username, password string) tea.Cmd {
	serverURL := model.serverURL
	sessionPath := model.sessionPath
	return func() tea.Msg {
		resp, err := apiLogin(serverURL, username, password)
		if err != nil {
			return loginResultMsg{err: err}
		}
		_ = saveSessionToDisk(sessionPath, sessionFile{Server: serverURL, Username: resp.Username, Token: resp.Token})
		return loginResultMsg{username: resp.Username, token: resp.Token}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	serverURL, token, sessionPath := model.serverURL, model.token, model.sessionPath
	return func() tea.Msg {
		err := apiLogout(serverURL, token)
		_ = deleteSessionFile(sessionPath)
		return loggedOutMsg{err: err}
	}
}

func (model *TUIModel) loadRoomsCmd() tea.Cmd {
	serverURL, token := model.serverURL, model.token
	return func() tea.Msg {
		rooms, err := apiRooms(serverURL, token)
		return roomsLoadedMsg{rooms: rooms, err: err}
	}
}

// openRoomCmd fetches the room history and then dials the websocket so no
// message is shown twice or out of order.
func (model *TUIModel) openRoomCmd(workspaceID int64) tea.Cmd {
	serverURL, token := model.serverURL, model.token
	return func() tea.Msg {
		history, err := apiHistory(serverURL, token, workspaceID)
		if err != nil {
			return roomOpenedMsg{workspaceID: workspaceID, err: err}
		}
		conn, err := dialChat(serverURL, workspaceID, token)
		if err != nil {
			return roomOpenedMsg{workspaceID: workspaceID, err: err}
		}
		return roomOpenedMsg{workspaceID: workspaceID, history: history, conn: conn}
	}
}

func dialChat(serverURL string, workspaceID int64, token string) (*websocket.Conn, error) {
	chatURL, err := buildChatURL(serverURL, workspaceID, token)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.Dial(chatURL, http.Header{})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) readOnceCmd() tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return disconnectedMsg{err: errors.New("websocket not connected")}
		}
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return disconnectedMsg{conn: conn, err: classifyClose(err)}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var chat ChatMessage
			if err := json.Unmarshal(payload, &chat); err != nil {
				continue
			}
			return incomingMsg{conn: conn, chat: chat}
		}
	}
}

func (model *TUIModel) sendCmd(text string) tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return sendFailedMsg{err: errors.New("websocket not connected")}
		}
		encoded, err := json.Marshal(map[string]string{"message": text})
		if err != nil {
			return sendFailedMsg{err: err}
		}
		model.writeMutex.Lock()
		err = conn.WriteMessage(websocket.TextMessage, encoded)
		model.writeMutex.Unlock()
		if err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

// classifyClose maps the gateway's application close codes to client errors.
func classifyClose(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case CloseUnauthenticated:
			return errSessionRejected
		case CloseForbidden:
			return errNotMember
		case websocket.CloseGoingAway:
			return fmt.Errorf("server is shutting down: %w", err)
		}
	}
	return err
}
