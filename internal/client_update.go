package internal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeSocket("client quit")
			return model, tea.Quit
		}
		return model.handleKey(typedMessage)

	case loginResultMsg:
		model.loading = false
		if typedMessage.err != nil {
			if errors.Is(typedMessage.err, errUnauthorized) {
				model.notify("Invalid username or password.")
			} else {
				model.notify(fmt.Sprintf("Login failed: %v", typedMessage.err))
			}
			model.enterUsernamePrompt()
			return model, nil
		}
		model.username = typedMessage.username
		model.token = typedMessage.token
		model.notices = nil
		model.enterRooms()
		model.loading = true
		if model.workspaceID != 0 {
			return model, model.openRoomCmd(model.workspaceID)
		}
		return model, model.loadRoomsCmd()

	case roomsLoadedMsg:
		model.loading = false
		if typedMessage.err != nil {
			return model, model.handleAPIError(typedMessage.err)
		}
		model.rooms = typedMessage.rooms
		if model.selectedRoom >= len(model.rooms) {
			model.selectedRoom = 0
		}
		return model, nil

	case roomOpenedMsg:
		model.loading = false
		if typedMessage.err != nil {
			if model.mode == modeChat {
				model.connectionError = typedMessage.err
				return model, model.scheduleReconnect()
			}
			return model, model.handleAPIError(typedMessage.err)
		}
		model.workspaceID = typedMessage.workspaceID
		model.workspaceName = model.roomName(typedMessage.workspaceID)
		model.messages = append(model.messages[:0], typedMessage.history...)
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		model.enterChat()
		return model, model.readOnceCmd()

	case incomingMsg:
		if typedMessage.conn != model.websocketConn {
			return model, nil
		}
		model.messages = append(model.messages, typedMessage.chat)
		return model, model.readOnceCmd()

	case disconnectedMsg:
		if typedMessage.conn != model.websocketConn {
			return model, nil
		}
		model.isConnected = false
		model.websocketConn = nil
		if model.mode != modeChat {
			return model, nil
		}
		switch {
		case errors.Is(typedMessage.err, errSessionRejected):
			model.notify(typedMessage.err.Error())
			model.token = ""
			_ = deleteSessionFile(model.sessionPath)
			model.enterUsernamePrompt()
			return model, nil
		case errors.Is(typedMessage.err, errNotMember):
			model.notify(fmt.Sprintf("%v (workspace %d)", typedMessage.err, model.workspaceID))
			model.workspaceID = 0
			model.enterRooms()
			return model, model.loadRoomsCmd()
		}
		model.connectionError = typedMessage.err
		return model, model.scheduleReconnect()

	case sendFailedMsg:
		model.connectionError = typedMessage.err
		return model, nil

	case reconnectMsg:
		if model.mode == modeChat && !model.isConnected && model.workspaceID != 0 {
			return model, model.openRoomCmd(model.workspaceID)
		}
		return model, nil

	case loggedOutMsg:
		model.token = ""
		model.rooms = nil
		model.notices = nil
		if typedMessage.err != nil {
			model.notify(fmt.Sprintf("Logout: %v", typedMessage.err))
		}
		model.enterUsernamePrompt()
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeAuthUsername:
		if key.Type == tea.KeyEsc {
			return model, tea.Quit
		}
		if key.Type == tea.KeyEnter {
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				model.notify("Username cannot be empty.")
				return model, nil
			}
			model.pendingUser = trimmed
			model.enterPasswordPrompt()
			return model, nil
		}
	case modeAuthPassword:
		if key.Type == tea.KeyEsc {
			model.enterUsernamePrompt()
			return model, nil
		}
		if key.Type == tea.KeyEnter {
			password := model.textInput.Value()
			model.textInput.SetValue("")
			model.loading = true
			return model, model.loginCmd(model.pendingUser, password)
		}
	case modeRooms:
		switch key.String() {
		case "q", "esc":
			return model, tea.Quit
		case "up", "k":
			if model.selectedRoom > 0 {
				model.selectedRoom--
			}
		case "down", "j":
			if model.selectedRoom < len(model.rooms)-1 {
				model.selectedRoom++
			}
		case "r":
			model.loading = true
			return model, model.loadRoomsCmd()
		case "m":
			model.enterManualRoom()
		case "l":
			return model, model.logoutCmd()
		case "enter":
			if len(model.rooms) == 0 {
				return model, nil
			}
			model.loading = true
			return model, model.openRoomCmd(model.rooms[model.selectedRoom].Workspace)
		}
		return model, nil
	case modeManualRoom:
		if key.Type == tea.KeyEsc {
			model.enterRooms()
			return model, nil
		}
		if key.Type == tea.KeyEnter {
			workspaceID, err := strconv.ParseInt(strings.TrimSpace(model.textInput.Value()), 10, 64)
			if err != nil || workspaceID <= 0 {
				model.notify("Workspace id must be a positive number.")
				return model, nil
			}
			model.loading = true
			return model, model.openRoomCmd(workspaceID)
		}
	case modeChat:
		if key.Type == tea.KeyEsc {
			model.leaveRoom()
			return model, model.loadRoomsCmd()
		}
		if key.Type == tea.KeyEnter {
			text := strings.TrimSpace(model.textInput.Value())
			switch strings.ToLower(text) {
			case "":
				return model, nil
			case "/quit", "/exit":
				model.closeSocket("client quit")
				return model, tea.Quit
			case "/leave":
				model.leaveRoom()
				return model, model.loadRoomsCmd()
			}
			if !model.isConnected {
				return model, nil
			}
			model.textInput.SetValue("")
			return model, model.sendCmd(text)
		}
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) leaveRoom() {
	model.closeSocket("left room")
	model.workspaceID = 0
	model.workspaceName = ""
	model.messages = model.messages[:0]
	model.connectionError = nil
	model.enterRooms()
}

// handleAPIError routes expired sessions back to login and shows the rest.
func (model *TUIModel) handleAPIError(err error) tea.Cmd {
	if errors.Is(err, errUnauthorized) {
		model.token = ""
		_ = deleteSessionFile(model.sessionPath)
		model.notify(errSessionRejected.Error())
		model.enterUsernamePrompt()
		return nil
	}
	model.notify(err.Error())
	return nil
}

func (model *TUIModel) roomName(workspaceID int64) string {
	for _, room := range model.rooms {
		if room.Workspace == workspaceID {
			return room.Name
		}
	}
	return fmt.Sprintf("Workspace %d", workspaceID)
}
