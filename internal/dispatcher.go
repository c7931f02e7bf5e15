package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"workspacechat/internal/storage"
)

// Dispatcher turns inbound frames into persisted messages and fans them out
// to every member of the sender's room, the sender included.
type Dispatcher struct {
	store   MessageStore
	hub     *Hub
	relay   Relay
	metrics *Metrics
	logger  *slog.Logger
	// one ordering lock per workspace; held across append and enqueue so
	// every member observes the store's insertion order.
	locks sync.Map
}

func NewDispatcher(store MessageStore, hub *Hub, relay Relay, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, hub: hub, relay: relay, metrics: metrics, logger: logger}
}

// HandleInbound processes one client frame. Malformed frames and persistence
// failures are logged and returned; the connection stays open either way.
func (d *Dispatcher) HandleInbound(ctx context.Context, conn Connection, payload []byte) error {
	content, err := decodeInbound(payload)
	if err != nil {
		d.metrics.IncMalformed()
		d.logger.Warn("discarding malformed message",
			slog.String("conn_id", conn.ID()),
			slog.Any("error", err),
		)
		return err
	}

	workspaceID := conn.WorkspaceID()
	lock := d.roomLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := d.persist(ctx, workspaceID, conn.Identity().UserID, content)
	if err != nil {
		d.metrics.IncPersistenceFailure()
		d.logger.Error("message not persisted",
			slog.Int64("workspace_id", workspaceID),
			slog.Int64("user_id", conn.Identity().UserID),
			slog.Any("error", err),
		)
		return err
	}
	d.metrics.IncMessage()

	encoded, err := encodeEvent(chatMessageEvent{Message: newChatMessage(*msg)})
	if err != nil {
		return err
	}
	if d.relay != nil {
		err := d.relay.Publish(ctx, workspaceID, encoded)
		if err == nil {
			return nil
		}
		d.logger.Warn("relay publish failed, delivering locally",
			slog.Int64("workspace_id", workspaceID),
			slog.Any("error", err),
		)
	}
	d.Deliver(workspaceID, encoded)
	return nil
}

// Deliver sends an encoded event to a snapshot of the room's members. A member
// that cannot accept it is closed; the rest still receive it. It returns the
// number of members the payload was queued to.
func (d *Dispatcher) Deliver(workspaceID int64, payload []byte) int {
	delivered := 0
	for _, member := range d.hub.MembersOf(workspaceID) {
		if err := member.Send(payload); err != nil {
			d.metrics.IncDeliveryFailure()
			d.logger.Warn("dropping connection after failed delivery",
				slog.String("conn_id", member.ID()),
				slog.Int64("workspace_id", workspaceID),
				slog.Any("error", err),
			)
			_ = member.Close(websocket.CloseTryAgainLater, "delivery failure")
			continue
		}
		delivered++
	}
	return delivered
}

func (d *Dispatcher) persist(ctx context.Context, workspaceID, senderID int64, content string) (*storage.Message, error) {
	room, err := d.store.GetOrCreateRoom(ctx, workspaceID)
	if err != nil {
		return nil, asPersistenceFailure(err)
	}
	msg, err := d.store.AppendMessage(ctx, room.ID, senderID, content)
	if err != nil {
		return nil, asPersistenceFailure(err)
	}
	return msg, nil
}

func (d *Dispatcher) roomLock(workspaceID int64) *sync.Mutex {
	if lock, ok := d.locks.Load(workspaceID); ok {
		return lock.(*sync.Mutex)
	}
	lock, _ := d.locks.LoadOrStore(workspaceID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func asPersistenceFailure(err error) error {
	if errors.Is(err, storage.ErrPersistenceFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", storage.ErrPersistenceFailure, err)
}
