package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig defines how the HTTP/WebSocket gateway should run.
type ServerConfig struct {
	Addr               string        `env:"WSCHAT_ADDR"                 envDefault:":8080"`
	DBPath             string        `env:"WSCHAT_DB_PATH"`
	IdleTimeout        time.Duration `env:"WSCHAT_IDLE_TIMEOUT"         envDefault:"60s"`
	TokenTTL           time.Duration `env:"WSCHAT_TOKEN_TTL"            envDefault:"24h"`
	HistoryLimit       int           `env:"WSCHAT_HISTORY_LIMIT"        envDefault:"50"`
	RedisAddr          string        `env:"WSCHAT_REDIS_ADDR"`
	RedisChannelPrefix string        `env:"WSCHAT_REDIS_CHANNEL_PREFIX" envDefault:"chat:workspace:"`
	LogLevel           string        `env:"WSCHAT_LOG_LEVEL"            envDefault:"info"`
	LogFormat          string        `env:"WSCHAT_LOG_FORMAT"           envDefault:"text"`
	AllowedOrigins     []string      `env:"WSCHAT_ALLOWED_ORIGINS"      envSeparator:","`
	ShutdownTimeout    time.Duration `env:"WSCHAT_SHUTDOWN_TIMEOUT"     envDefault:"10s"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL   string `env:"WSCHAT_SERVER"       envDefault:"http://localhost:8080"`
	Username    string `env:"WSCHAT_USER"`
	SessionPath string `env:"WSCHAT_SESSION_PATH"`
	WorkspaceID int64
}

// ParseServerConfig loads defaults from the environment and then lets flags
// override them.
func ParseServerConfig(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	origins := strings.Join(cfg.AllowedOrigins, ",")

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the SQLite database file")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close websocket sessions idle for this long")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "lifetime of tokens issued by /auth/login (0 never expires)")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "messages returned by the history endpoint")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for cross-instance fan-out (empty disables)")
	fs.StringVar(&cfg.RedisChannelPrefix, "redis-prefix", cfg.RedisChannelPrefix, "Redis pub/sub channel prefix")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	fs.StringVar(&origins, "allowed-origins", origins, "comma separated websocket origins (empty allows all)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown deadline")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}
	cfg.AllowedOrigins = splitList(origins)
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// ParseClientConfig loads client defaults from the environment and flags. An
// optional positional argument opens that workspace id right after login.
func ParseClientConfig(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "gateway base URL (e.g. http://localhost:8080)")
	fs.StringVar(&cfg.Username, "user", cfg.Username, "default username for the login prompt")
	fs.StringVar(&cfg.SessionPath, "session", cfg.SessionPath, "where to cache the login token")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		var id int64
		if _, err := fmt.Sscan(rest[0], &id); err != nil || id <= 0 {
			return ClientConfig{}, fmt.Errorf("invalid workspace id %q", rest[0])
		}
		cfg.WorkspaceID = id
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot run with.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("idle timeout must be positive"))
	}
	if c.TokenTTL < 0 {
		errs = append(errs, errors.New("token ttl must not be negative"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("history limit must be positive"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// NewLogger builds the structured logger selected by the config.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if dir := os.Getenv("WSCHAT_DATA_DIR"); dir != "" {
		return filepath.Join(dir, "workspacechat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "workspacechat", "workspacechat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "WorkspaceChat", "workspacechat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "WorkspaceChat", "workspacechat.db")
		}
		return filepath.Join(home, ".local", "share", "workspacechat", "workspacechat.db")
	}
	return filepath.Join(".", ".workspacechat", "workspacechat.db")
}
