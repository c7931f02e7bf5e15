package internal

import (
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// TUIModel is the Bubble Tea state for the terminal client: login, room
// picker and the live chat view.
type TUIModel struct {
	textInput       textinput.Model
	serverURL       string
	sessionPath     string
	username        string
	token           string
	pendingUser     string
	rooms           []roomDTO
	selectedRoom    int
	workspaceID     int64
	workspaceName   string
	messages        []ChatMessage
	notices         []string
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	loading         bool
	mode            appMode
}

type appMode int

const (
	modeAuthUsername appMode = iota
	modeAuthPassword
	modeRooms
	modeManualRoom
	modeChat
)

// ClientOptions configures RunClient.
type ClientOptions struct {
	ServerURL   string
	Username    string
	SessionPath string
	// WorkspaceID opens a room straight after login when non-zero.
	WorkspaceID int64
}

func NewTUIModel(opts ClientOptions) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Focus()

	username := opts.Username
	if username == "" {
		username = defaultUsername()
	}
	model := &TUIModel{
		textInput:   input,
		serverURL:   opts.ServerURL,
		sessionPath: opts.SessionPath,
		username:    username,
		workspaceID: opts.WorkspaceID,
		messages:    make([]ChatMessage, 0, 64),
	}
	if session, err := loadSessionFromDisk(opts.SessionPath); err == nil && session.Server == opts.ServerURL {
		model.username = session.Username
		model.token = session.Token
	}
	if model.token == "" {
		model.enterUsernamePrompt()
	} else {
		model.enterRooms()
	}
	return model
}

func defaultUsername() string {
	if user := os.Getenv("WSCHAT_USER"); user != "" {
		return user
	}
	return os.Getenv("USER")
}

func (model *TUIModel) Init() tea.Cmd {
	if model.token == "" {
		return textinput.Blink
	}
	if model.workspaceID != 0 {
		return model.openRoomCmd(model.workspaceID)
	}
	return model.loadRoomsCmd()
}

func (model *TUIModel) enterUsernamePrompt() {
	model.mode = modeAuthUsername
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.SetValue(model.username)
	model.textInput.Placeholder = "username"
	model.textInput.Prompt = "user> "
	model.textInput.Focus()
}

func (model *TUIModel) enterPasswordPrompt() {
	model.mode = modeAuthPassword
	model.textInput.EchoMode = textinput.EchoPassword
	model.textInput.EchoCharacter = '•'
	model.textInput.SetValue("")
	model.textInput.Placeholder = "password"
	model.textInput.Prompt = "pass> "
	model.textInput.Focus()
}

func (model *TUIModel) enterRooms() {
	model.mode = modeRooms
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.SetValue("")
	model.textInput.Blur()
}

func (model *TUIModel) enterManualRoom() {
	model.mode = modeManualRoom
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.SetValue("")
	model.textInput.Placeholder = "workspace id"
	model.textInput.Prompt = "workspace> "
	model.textInput.Focus()
}

func (model *TUIModel) enterChat() {
	model.mode = modeChat
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.SetValue("")
	model.textInput.Placeholder = "Type a message…"
	model.textInput.Prompt = "> "
	model.textInput.Focus()
}

func (model *TUIModel) notify(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > 5 {
		model.notices = model.notices[len(model.notices)-5:]
	}
}

// closeSocket sends a normal close frame and drops the connection.
func (model *TUIModel) closeSocket(reason string) {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
	model.isConnected = false
}
