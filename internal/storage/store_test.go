package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected id > 0")
	}
	if _, err := store.CreateUser(ctx, "alice", []byte("hash2")); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil || user.Username != "alice" || user.ID != id {
		t.Fatalf("unexpected user: %+v", user)
	}
	missing, err := store.GetUserByID(ctx, id+100)
	if err != nil || missing != nil {
		t.Fatalf("expected nil user, got %+v err=%v", missing, err)
	}
}

func TestTokenLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "bob", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	token, expiresAt, err := store.IssueToken(ctx, userID, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token == "" || expiresAt.IsZero() {
		t.Fatalf("unexpected token %q expiry %v", token, expiresAt)
	}
	user, err := store.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if user == nil || user.ID != userID {
		t.Fatalf("unexpected user: %+v", user)
	}

	if err := store.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	user, err = store.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("ResolveToken after revoke: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil user after revoke")
	}
}

func TestExpiredTokenDoesNotResolve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, _ := store.CreateUser(ctx, "carol", []byte("hash"))

	base := time.Now()
	store.now = func() time.Time { return base }
	token, _, err := store.IssueToken(ctx, userID, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	user, err := store.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if user != nil {
		t.Fatalf("expected expired token to be rejected, got %+v", user)
	}

	forever, _, err := store.IssueToken(ctx, userID, 0)
	if err != nil {
		t.Fatalf("IssueToken without ttl: %v", err)
	}
	if user, _ := store.ResolveToken(ctx, forever); user == nil {
		t.Fatalf("expected non-expiring token to resolve")
	}
}

func TestWorkspaceMembership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", []byte("hash"))
	bobID, _ := store.CreateUser(ctx, "bob", []byte("hash"))

	wsID, err := store.CreateWorkspace(ctx, "Apollo")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if err := store.AddMember(ctx, wsID, aliceID); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := store.AddMember(ctx, wsID, aliceID); err != nil {
		t.Fatalf("AddMember idempotent: %v", err)
	}

	if ok, err := store.IsMember(ctx, wsID, aliceID); err != nil || !ok {
		t.Fatalf("expected alice to be a member, ok=%v err=%v", ok, err)
	}
	if ok, err := store.IsMember(ctx, wsID, bobID); err != nil || ok {
		t.Fatalf("expected bob not to be a member, ok=%v err=%v", ok, err)
	}
	if ok, err := store.IsMember(ctx, wsID+99, aliceID); err != nil || ok {
		t.Fatalf("expected nonexistent workspace to have no members, ok=%v err=%v", ok, err)
	}

	room, err := store.GetOrCreateRoom(ctx, wsID)
	if err != nil {
		t.Fatalf("GetOrCreateRoom: %v", err)
	}
	if room.Name != "Apollo Chat" || room.WorkspaceID != wsID {
		t.Fatalf("unexpected room created with workspace: %+v", room)
	}
}

func TestGetOrCreateRoomConcurrentFirstCallers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	wsID := insertBareWorkspace(t, store, "Bare")

	const callers = 16
	var wg sync.WaitGroup
	ids := make([]int64, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := store.GetOrCreateRoom(ctx, wsID)
			errs[i] = err
			if room != nil {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got room %d, want %d", i, ids[i], ids[0])
		}
	}
	var count int
	if err := store.db.QueryRow(`SELECT COUNT(1) FROM chat_rooms WHERE workspace_id = ?`, wsID).Scan(&count); err != nil {
		t.Fatalf("count rooms: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one room row, got %d", count)
	}
}

func TestGetOrCreateRoomUnknownWorkspace(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetOrCreateRoom(context.Background(), 404); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
}

func TestAppendAndRecentMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", []byte("hash"))
	wsID, _ := store.CreateWorkspace(ctx, "Apollo")
	room, err := store.GetOrCreateRoom(ctx, wsID)
	if err != nil {
		t.Fatalf("GetOrCreateRoom: %v", err)
	}

	for _, body := range []string{"one", "two", "three"} {
		msg, err := store.AppendMessage(ctx, room.ID, aliceID, body)
		if err != nil {
			t.Fatalf("AppendMessage(%q): %v", body, err)
		}
		if msg.ID == 0 || msg.SenderName != "alice" || msg.IsRead {
			t.Fatalf("unexpected message: %+v", msg)
		}
	}

	recent, err := store.RecentMessages(ctx, room.ID, 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "two" || recent[1].Content != "three" {
		t.Fatalf("expected [two three] oldest first, got %+v", recent)
	}
	if recent[0].SenderName != "alice" {
		t.Fatalf("expected sender name, got %+v", recent[0])
	}
}

func TestAppendMessageTimestampsNeverGoBackwards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", []byte("hash"))
	wsID, _ := store.CreateWorkspace(ctx, "Apollo")
	room, _ := store.GetOrCreateRoom(ctx, wsID)

	base := time.Now()
	store.now = func() time.Time { return base }
	first, err := store.AppendMessage(ctx, room.ID, aliceID, "first")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	store.now = func() time.Time { return base.Add(-time.Minute) }
	second, err := store.AppendMessage(ctx, room.ID, aliceID, "second")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if second.CreatedAt.Before(first.CreatedAt) {
		t.Fatalf("timestamp went backwards: %v before %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestAppendMessageRejectsEmptyContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", []byte("hash"))
	wsID, _ := store.CreateWorkspace(ctx, "Apollo")
	room, _ := store.GetOrCreateRoom(ctx, wsID)

	if _, err := store.AppendMessage(ctx, room.ID, aliceID, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	recent, _ := store.RecentMessages(ctx, room.ID, 50)
	if len(recent) != 0 {
		t.Fatalf("expected no stored messages, got %d", len(recent))
	}
}

func TestAppendMessageFailureIsPersistenceFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", []byte("hash"))

	// room 999 does not exist, so the foreign key rejects the insert.
	_, err := store.AppendMessage(ctx, 999, aliceID, "hello")
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
}

func TestListRoomsForUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", []byte("hash"))
	apollo, _ := store.CreateWorkspace(ctx, "Apollo")
	_, _ = store.CreateWorkspace(ctx, "Gemini")
	_ = store.AddMember(ctx, apollo, aliceID)
	room, _ := store.GetOrCreateRoom(ctx, apollo)
	_, _ = store.AppendMessage(ctx, room.ID, aliceID, "hi")

	rooms, err := store.ListRoomsForUser(ctx, aliceID)
	if err != nil {
		t.Fatalf("ListRoomsForUser: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected one room, got %+v", rooms)
	}
	if rooms[0].WorkspaceName != "Apollo" || rooms[0].MessageCount != 1 {
		t.Fatalf("unexpected summary: %+v", rooms[0])
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	path := "sqlite://file:" + name + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func insertBareWorkspace(t *testing.T, store *Store, name string) int64 {
	t.Helper()
	res, err := store.db.Exec(`INSERT INTO workspaces(name, created_at) VALUES(?, ?)`, name, store.nowMicro())
	if err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("workspace id: %v", err)
	}
	return id
}
