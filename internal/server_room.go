package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnState is the lifecycle stage of a websocket session.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateAuthorizing
	StateActive
	StateClosing
	StateClosed
	StateRejected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorizing:
		return "authorizing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

const (
	writeWait   = 10 * time.Second
	maxMsgSize  = 8192
	sendBufSize = 256
)

// Client wraps a single websocket connection and a buffered send queue. The
// send channel is never closed; done signals teardown instead so Send can
// never panic.
type Client struct {
	id          string
	server      *Server
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	state       atomic.Int32
	closeOnce   sync.Once
	closeCode   int
	closeReason string
	identity    Identity
	workspaceID int64
	logger      *slog.Logger
}

func newClient(server *Server, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		server: server,
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		done:   make(chan struct{}),
		logger: server.logger.With(slog.String("conn_id", id)),
	}
}

func (client *Client) ID() string           { return client.id }
func (client *Client) Identity() Identity   { return client.identity }
func (client *Client) WorkspaceID() int64   { return client.workspaceID }
func (client *Client) State() ConnState     { return ConnState(client.state.Load()) }
func (client *Client) setState(s ConnState) { client.state.Store(int32(s)) }

// admit runs authentication then authorization. It returns a *RejectionError
// describing the close code when the session must not proceed.
func (client *Client) admit(ctx context.Context, rawToken, rawWorkspace string) error {
	client.setState(StateAuthenticating)
	identity, err := client.server.authenticate(ctx, rawToken)
	if err != nil {
		return err
	}
	client.identity = identity

	client.setState(StateAuthorizing)
	workspaceID, err := strconv.ParseInt(rawWorkspace, 10, 64)
	if err != nil || workspaceID <= 0 {
		return forbidden("invalid workspace id")
	}
	if !client.server.guard.IsAuthorized(ctx, identity, workspaceID) {
		return forbidden("not a member of this workspace")
	}
	client.workspaceID = workspaceID
	client.logger = client.logger.With(
		slog.Int64("user_id", identity.UserID),
		slog.Int64("workspace_id", workspaceID),
	)
	return nil
}

// reject sends the close frame for a failed handshake and drops the socket.
func (client *Client) reject(err error) {
	client.setState(StateRejected)
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		rejection = unauthenticated(err.Error())
	}
	client.server.metrics.IncRejected(rejection.Code)
	client.logger.Info("websocket rejected",
		slog.Int("code", rejection.Code),
		slog.String("reason", rejection.Error()),
	)
	deadline := time.Now().Add(writeWait)
	_ = client.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(rejection.Code, rejection.Reason.Error()), deadline)
	_ = client.conn.Close()
}

// activate registers the client with the hub and starts both pumps.
func (client *Client) activate() error {
	if err := client.server.hub.Join(client.workspaceID, client); err != nil {
		return err
	}
	client.setState(StateActive)
	client.server.metrics.IncConn()
	client.logger.Info("websocket connected")
	go client.writePump()
	go client.readPump()
	return nil
}

// Send queues a payload for the write pump without blocking.
func (client *Client) Send(payload []byte) error {
	select {
	case <-client.done:
		return ErrDeliveryFailure
	default:
	}
	select {
	case client.send <- payload:
		return nil
	case <-client.done:
		return ErrDeliveryFailure
	default:
		return fmt.Errorf("%w: send buffer full", ErrDeliveryFailure)
	}
}

// Close starts teardown: the client leaves its room and the write pump sends
// the close frame and releases the socket.
func (client *Client) Close(code int, reason string) error {
	client.closeOnce.Do(func() {
		client.setState(StateClosing)
		client.closeCode = code
		client.closeReason = reason
		client.server.hub.Leave(client.workspaceID, client)
		close(client.done)
		client.server.metrics.DecConn()
		client.logger.Info("websocket closing", slog.Int("code", code), slog.String("reason", reason))
	})
	return nil
}

func (client *Client) readPump() {
	defer func() {
		_ = client.Close(websocket.CloseNormalClosure, "")
	}()
	idle := client.server.opts.IdleTimeout
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(idle))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// read error ends the loop so the deferred cleanup can fire.
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.logger.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(idle))
		if err := client.server.dispatcher.HandleInbound(client.server.baseCtx, client, payload); err != nil {
			client.logger.Debug("inbound message not delivered", slog.Any("error", err))
		}
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod(client.server.opts.IdleTimeout))
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
		client.setState(StateClosed)
	}()
	for {
		select {
		case message := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				_ = client.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = client.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-client.done:
			client.flush()
			deadline := time.Now().Add(writeWait)
			_ = client.conn.WriteControl(websocket.CloseMessage, closeFrame(client.closeCode, client.closeReason), deadline)
			return
		}
	}
}

// flush writes whatever is still queued so members closed by shutdown see
// messages accepted before it.
func (client *Client) flush() {
	for {
		select {
		case message := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func closeFrame(code int, reason string) []byte {
	switch code {
	case websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived, 0:
		// these codes must not appear on the wire.
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	default:
		return websocket.FormatCloseMessage(code, reason)
	}
}

func pingPeriod(idle time.Duration) time.Duration {
	return (idle * 9) / 10
}
