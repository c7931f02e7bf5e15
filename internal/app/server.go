package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	intrnl "workspacechat/internal"
	"workspacechat/internal/storage"
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr      string
	server    *http.Server
	gateway   *intrnl.Server
	store     *storage.Store
	relay     intrnl.Relay
	stopRelay context.CancelFunc
	logger    *slog.Logger
	done      chan struct{}
	err       error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Gateway exposes the chat server, mainly for health checks and tests.
func (h *ServerHandle) Gateway() *intrnl.Server {
	return h.gateway
}

// Stop triggers a graceful shutdown with the provided context deadline. Live
// websocket sessions are closed with 1001.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the SQLite store, runs migrations, connects the optional
// Redis relay, wires handlers and starts serving in the background. Call
// Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if needsDataDir(cfg.DBPath) {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var relay intrnl.Relay
	if cfg.RedisAddr != "" {
		redisRelay, err := connectRedisRelay(cfg, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		relay = redisRelay
	}

	gateway := intrnl.NewServer(store, intrnl.Options{
		IdleTimeout:    cfg.IdleTimeout,
		TokenTTL:       cfg.TokenTTL,
		HistoryLimit:   cfg.HistoryLimit,
		AllowedOrigins: cfg.AllowedOrigins,
		Relay:          relay,
		Logger:         logger,
	})
	relayCtx, stopRelay := context.WithCancel(context.Background())
	if err := gateway.StartRelay(relayCtx); err != nil {
		stopRelay()
		closeQuietly(relay)
		_ = store.Close()
		return nil, fmt.Errorf("start relay: %w", err)
	}

	mux := http.NewServeMux()
	gateway.Routes(mux)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(gateway.Shutdown)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		stopRelay()
		closeQuietly(relay)
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	handle := &ServerHandle{
		addr:      listener.Addr().String(),
		server:    httpServer,
		gateway:   gateway,
		store:     store,
		relay:     relay,
		stopRelay: stopRelay,
		logger:    logger,
		done:      make(chan struct{}),
	}

	go func() {
		if ctx == nil {
			return
		}
		select {
		case <-ctx.Done():
		case <-handle.done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
	}()

	go handle.serve(listener)

	logger.Info("chat gateway listening",
		slog.String("addr", handle.addr),
		slog.Bool("redis_relay", relay != nil),
	)
	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.stopRelay()
	if h.relay != nil {
		if err := h.relay.Close(); err != nil {
			h.logger.Warn("relay close error", slog.Any("error", err))
		}
	}
	if err := h.store.Close(); err != nil {
		h.logger.Error("store close error", slog.Any("error", err))
	}
	h.err = err
}

func connectRedisRelay(cfg ServerConfig, logger *slog.Logger) (*intrnl.RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to redis", slog.String("addr", cfg.RedisAddr), slog.String("prefix", cfg.RedisChannelPrefix))
	return intrnl.NewRedisRelay(client, cfg.RedisChannelPrefix, logger), nil
}

func closeQuietly(relay intrnl.Relay) {
	if relay != nil {
		_ = relay.Close()
	}
}

// needsDataDir reports whether the db path is a plain file path whose parent
// directory should be created.
func needsDataDir(path string) bool {
	for _, prefix := range []string{"sqlite://", "file:", ":memory:"} {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
