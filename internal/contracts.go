package internal

import (
	"context"

	"workspacechat/internal/storage"
)

// Connection is one live, authorized websocket session as seen by the hub
// and the dispatcher.
type Connection interface {
	ID() string
	Identity() Identity
	WorkspaceID() int64
	// Send queues a payload without blocking. It returns ErrDeliveryFailure
	// when the connection is closed or cannot keep up.
	Send(payload []byte) error
	// Close tears the connection down. Calling it more than once is a no-op.
	Close(code int, reason string) error
}

// MessageStore persists chat rooms and messages.
type MessageStore interface {
	GetOrCreateRoom(ctx context.Context, workspaceID int64) (*storage.Room, error)
	AppendMessage(ctx context.Context, roomID, senderID int64, content string) (*storage.Message, error)
	RecentMessages(ctx context.Context, roomID int64, limit int) ([]storage.Message, error)
}

// MembershipOracle answers whether a user belongs to a workspace.
type MembershipOracle interface {
	IsMember(ctx context.Context, workspaceID, userID int64) (bool, error)
}

// IdentityResolver maps a bearer token to its user. A nil user with a nil
// error means the token is unknown, expired or revoked.
type IdentityResolver interface {
	ResolveToken(ctx context.Context, token string) (*storage.User, error)
}
