package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Room is the persisted chat room bound one-to-one with a workspace.
type Room struct {
	ID          int64
	WorkspaceID int64
	Name        string
	CreatedAt   time.Time
}

// RoomSummary is a room row joined with its workspace name and message count.
type RoomSummary struct {
	Room
	WorkspaceName string
	MessageCount  int
}

// Message is an immutable chat message. SenderName is denormalized from the
// users table at read time.
type Message struct {
	ID         int64
	RoomID     int64
	SenderID   int64
	SenderName string
	Content    string
	CreatedAt  time.Time
	IsRead     bool
}

// GetOrCreateRoom returns the room for a workspace, creating it on first use.
// Concurrent first callers in this process share one insert; across processes
// the UNIQUE constraint on workspace_id keeps a single row.
func (s *Store) GetOrCreateRoom(ctx context.Context, workspaceID int64) (*Room, error) {
	v, err, _ := s.roomGroup.Do(strconv.FormatInt(workspaceID, 10), func() (interface{}, error) {
		return s.getOrCreateRoom(ctx, workspaceID)
	})
	if err != nil {
		return nil, err
	}
	room := *v.(*Room)
	return &room, nil
}

func (s *Store) getOrCreateRoom(ctx context.Context, workspaceID int64) (*Room, error) {
	room, err := s.roomByWorkspace(ctx, workspaceID)
	if err != nil || room != nil {
		return room, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_rooms(workspace_id, name, created_at)
		SELECT id, name || ' Chat', ? FROM workspaces WHERE id = ?
		ON CONFLICT(workspace_id) DO NOTHING
	`, s.nowMicro(), workspaceID)
	if err != nil {
		return nil, fmt.Errorf("create room for workspace %d: %w", workspaceID, err)
	}
	room, err = s.roomByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrWorkspaceNotFound
	}
	return room, nil
}

func (s *Store) roomByWorkspace(ctx context.Context, workspaceID int64) (*Room, error) {
	var (
		room    Room
		created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, workspace_id, name, created_at FROM chat_rooms WHERE workspace_id = ?`, workspaceID).
		Scan(&room.ID, &room.WorkspaceID, &room.Name, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.CreatedAt = fromMicro(created)
	return &room, nil
}

// AppendMessage persists a message and returns it with its id, timestamp and
// sender name filled in. Timestamps never go backwards within a room. Any
// database failure is reported as ErrPersistenceFailure.
func (s *Store) AppendMessage(ctx context.Context, roomID, senderID int64, content string) (msg *Message, err error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var last int64
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM chat_messages WHERE room_id = ? ORDER BY id DESC LIMIT 1`, roomID).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	ts := s.nowMicro()
	if ts < last {
		ts = last
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO chat_messages(room_id, sender_id, content, created_at) VALUES(?, ?, ?, ?)`, roomID, senderID, content, ts)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	var senderName string
	if err = tx.QueryRowContext(ctx, `SELECT username FROM users WHERE id = ?`, senderID).Scan(&senderName); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &Message{
		ID:         id,
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  fromMicro(ts),
	}, nil
}

// RecentMessages returns the last limit messages of a room, oldest first.
func (s *Store) RecentMessages(ctx context.Context, roomID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.content, m.created_at, m.is_read
		FROM chat_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = ?
		ORDER BY m.id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg     Message
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.Content, &created, &msg.IsRead); err != nil {
			return nil, err
		}
		msg.CreatedAt = fromMicro(created)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListRoomsForUser returns the rooms of every workspace the user belongs to.
func (s *Store) ListRoomsForUser(ctx context.Context, userID int64) ([]RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.workspace_id, r.name, r.created_at, w.name,
			(SELECT COUNT(1) FROM chat_messages m WHERE m.room_id = r.id)
		FROM chat_rooms r
		JOIN workspaces w ON w.id = r.workspace_id
		JOIN workspace_members wm ON wm.workspace_id = r.workspace_id
		WHERE wm.user_id = ?
		ORDER BY r.id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []RoomSummary
	for rows.Next() {
		var (
			room    RoomSummary
			created int64
		)
		if err := rows.Scan(&room.ID, &room.WorkspaceID, &room.Name, &created, &room.WorkspaceName, &room.MessageCount); err != nil {
			return nil, err
		}
		room.CreatedAt = fromMicro(created)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
