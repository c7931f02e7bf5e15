package app

import (
	"bytes"
	"flag"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseServerConfigDefaults(t *testing.T) {
	t.Setenv("WSCHAT_DATA_DIR", t.TempDir())

	cfg, err := ParseServerConfig(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, "chat:workspace:", cfg.RedisChannelPrefix)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, DefaultDBPath(), cfg.DBPath)
}

func TestParseServerConfigEnvAndFlags(t *testing.T) {
	t.Setenv("WSCHAT_ADDR", ":9000")
	t.Setenv("WSCHAT_IDLE_TIMEOUT", "30s")
	t.Setenv("WSCHAT_REDIS_ADDR", "redis:6379")
	t.Setenv("WSCHAT_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WSCHAT_DB_PATH", "/tmp/env.db")

	cfg, err := ParseServerConfig(newFlagSet(), []string{"-addr", ":9100", "-history-limit", "20", "-log-format", "json"})
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Addr, "flags override env")
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestParseServerConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "bad duration env", env: map[string]string{"WSCHAT_IDLE_TIMEOUT": "soon"}},
		{name: "zero idle timeout", args: []string{"-idle-timeout", "0s"}},
		{name: "negative ttl", args: []string{"-token-ttl", "-1h"}},
		{name: "zero history", args: []string{"-history-limit", "0"}},
		{name: "unknown level", args: []string{"-log-level", "loud"}},
		{name: "unknown format", args: []string{"-log-format", "xml"}},
		{name: "unknown flag", args: []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WSCHAT_DB_PATH", "/tmp/test.db")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := ParseServerConfig(newFlagSet(), tt.args)
			assert.Error(t, err)
		})
	}
}

func TestParseClientConfig(t *testing.T) {
	t.Setenv("WSCHAT_USER", "alice")

	cfg, err := ParseClientConfig(newFlagSet(), []string{"-server", "https://chat.example.com", "42"})
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.ServerURL)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, int64(42), cfg.WorkspaceID)

	cfg, err = ParseClientConfig(newFlagSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Zero(t, cfg.WorkspaceID)

	_, err = ParseClientConfig(newFlagSet(), []string{"acme"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", slog.Int64("workspace_id", 3))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"workspace_id":3`)

	_, err = NewLogger(&buf, "verbose", "text")
	assert.Error(t, err)
}
