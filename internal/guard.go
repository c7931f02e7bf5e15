package internal

import (
	"context"
	"log/slog"
)

// Guard decides whether an identity may use a workspace's chat room.
type Guard struct {
	oracle MembershipOracle
	logger *slog.Logger
}

func NewGuard(oracle MembershipOracle, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{oracle: oracle, logger: logger}
}

// IsAuthorized reports whether the identity is on the workspace roster.
// Lookup failures deny access.
func (g *Guard) IsAuthorized(ctx context.Context, identity Identity, workspaceID int64) bool {
	ok, err := g.oracle.IsMember(ctx, workspaceID, identity.UserID)
	if err != nil {
		g.logger.Error("membership lookup failed",
			slog.Int64("workspace_id", workspaceID),
			slog.Int64("user_id", identity.UserID),
			slog.Any("error", err),
		)
		return false
	}
	return ok
}
