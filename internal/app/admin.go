package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"workspacechat/internal/storage"
)

// ErrUnknownCommand is returned by Admin.Run for an unrecognised subcommand.
var ErrUnknownCommand = errors.New("unknown command")

// AdminUsage lists the seeding subcommands.
const AdminUsage = `usage: wschat-admin [-db path] <command> [args]

commands:
  user-add <username> <password>
  workspace-add <name>
  member-add <workspace-id> <username>
  token-issue <username> [-ttl 24h]
`

// Admin seeds the users, workspaces and rosters the gateway reads. In
// production those rows belong to the project-management API.
type Admin struct {
	store *storage.Store
	out   io.Writer
}

func NewAdmin(store *storage.Store, out io.Writer) *Admin {
	return &Admin{store: store, out: out}
}

// Run dispatches one subcommand and prints its result.
func (a *Admin) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", ErrUnknownCommand)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "user-add":
		if len(rest) != 2 {
			return errors.New("user-add needs <username> <password>")
		}
		id, err := a.AddUser(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "user %s created with id %d\n", rest[0], id)
	case "workspace-add":
		if len(rest) != 1 {
			return errors.New("workspace-add needs <name>")
		}
		id, err := a.AddWorkspace(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "workspace %q created with id %d\n", rest[0], id)
	case "member-add":
		if len(rest) != 2 {
			return errors.New("member-add needs <workspace-id> <username>")
		}
		workspaceID, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid workspace id %q", rest[0])
		}
		if err := a.AddMember(ctx, workspaceID, rest[1]); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s added to workspace %d\n", rest[1], workspaceID)
	case "token-issue":
		fs := flag.NewFlagSet("token-issue", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime (0 never expires)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("token-issue needs <username>")
		}
		token, expiresAt, err := a.IssueToken(ctx, fs.Arg(0), *ttl)
		if err != nil {
			return err
		}
		if expiresAt.IsZero() {
			fmt.Fprintln(a.out, token)
		} else {
			fmt.Fprintf(a.out, "%s (expires %s)\n", token, expiresAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
	return nil
}

// AddUser hashes the password with bcrypt and inserts the user.
func (a *Admin) AddUser(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, errors.New("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	return a.store.CreateUser(ctx, username, hash)
}

// AddWorkspace creates a workspace and its chat room.
func (a *Admin) AddWorkspace(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("workspace name is required")
	}
	return a.store.CreateWorkspace(ctx, name)
}

func (a *Admin) AddMember(ctx context.Context, workspaceID int64, username string) error {
	workspace, err := a.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if workspace == nil {
		return storage.ErrWorkspaceNotFound
	}
	user, err := a.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	return a.store.AddMember(ctx, workspaceID, user.ID)
}

// IssueToken mints a bearer token without a password check, for scripted
// websocket clients.
func (a *Admin) IssueToken(ctx context.Context, username string, ttl time.Duration) (string, time.Time, error) {
	user, err := a.lookupUser(ctx, username)
	if err != nil {
		return "", time.Time{}, err
	}
	return a.store.IssueToken(ctx, user.ID, ttl)
}

func (a *Admin) lookupUser(ctx context.Context, username string) (*storage.User, error) {
	user, err := a.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %q not found", username)
	}
	return user, nil
}
