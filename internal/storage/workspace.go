package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Workspace is the tenant boundary. The gateway only reads it; the rows are
// owned by the project-management API and seeded here for local runs.
type Workspace struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// CreateWorkspace inserts a workspace together with its chat room.
func (s *Store) CreateWorkspace(ctx context.Context, name string) (id int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	now := s.nowMicro()
	res, err := tx.ExecContext(ctx, `INSERT INTO workspaces(name, created_at) VALUES(?, ?)`, name, now)
	if err != nil {
		return 0, err
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_rooms(workspace_id, name, created_at) VALUES(?, ?, ?)`, id, roomName(name), now); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// GetWorkspace fetches a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id int64) (*Workspace, error) {
	var (
		ws      Workspace
		created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM workspaces WHERE id = ?`, id).Scan(&ws.ID, &ws.Name, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ws.CreatedAt = fromMicro(created)
	return &ws, nil
}

// AddMember adds a user to a workspace roster. Adding twice is a no-op.
func (s *Store) AddMember(ctx context.Context, workspaceID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO workspace_members(workspace_id, user_id) VALUES(?, ?)`, workspaceID, userID)
	return err
}

// IsMember reports whether the user is on the workspace roster. A workspace
// that does not exist has no members.
func (s *Store) IsMember(ctx context.Context, workspaceID, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM workspace_members WHERE workspace_id = ? AND user_id = ?`, workspaceID, userID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func roomName(workspaceName string) string {
	return workspaceName + " Chat"
}
