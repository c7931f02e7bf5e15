package internal

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"workspacechat/internal/storage"
)

const (
	defaultIdleTimeout  = 60 * time.Second
	defaultTokenTTL     = 24 * time.Hour
	defaultHistoryLimit = 50
	defaultLoginLimit   = 10
	defaultLoginWindow  = time.Minute
)

// Options tunes a Server. Zero values fall back to sensible defaults.
type Options struct {
	IdleTimeout    time.Duration
	TokenTTL       time.Duration
	HistoryLimit   int
	AllowedOrigins []string
	LoginLimit     int
	LoginWindow    time.Duration
	// Relay enables cross-instance fan-out. Nil keeps delivery in-process.
	Relay  Relay
	Logger *slog.Logger
}

// Server owns the chat gateway: websocket handshake, room registry,
// dispatcher and the companion HTTP endpoints.
type Server struct {
	store       *storage.Store
	identities  IdentityResolver
	guard       *Guard
	hub         *Hub
	dispatcher  *Dispatcher
	metrics     *Metrics
	authLimiter *RateLimiter
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	opts        Options
	baseCtx     context.Context
	cancel      context.CancelFunc
}

func NewServer(store *storage.Store, opts Options) *Server {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.TokenTTL < 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.LoginLimit == 0 {
		opts.LoginLimit = defaultLoginLimit
	}
	if opts.LoginWindow <= 0 {
		opts.LoginWindow = defaultLoginWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	metrics := NewMetrics()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:       store,
		identities:  store,
		guard:       NewGuard(store, opts.Logger),
		hub:         hub,
		dispatcher:  NewDispatcher(store, hub, opts.Relay, metrics, opts.Logger),
		metrics:     metrics,
		authLimiter: NewRateLimiter(opts.LoginLimit, opts.LoginWindow),
		logger:      opts.Logger,
		opts:        opts,
		baseCtx:     ctx,
		cancel:      cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	go s.sweepLimiter(ctx)
	return s
}

// Routes registers every gateway endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/chat/chatroom/{workspaceID}/", s.ServeWS)
	mux.HandleFunc("/chat/history/{workspaceID}/messages/", s.HandleHistory)
	mux.HandleFunc("/chat/rooms/", s.HandleRooms)
	mux.HandleFunc("/chat/chatroom/", s.HandleRooms)
	mux.HandleFunc("/auth/login", s.HandleLogin)
	mux.HandleFunc("/auth/logout", s.HandleLogout)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/up", s.HandleUp)
}

// StartRelay subscribes to the configured relay so events published by any
// instance reach members connected here. It is a no-op without a relay.
func (s *Server) StartRelay(ctx context.Context) error {
	if s.opts.Relay == nil {
		return nil
	}
	return s.opts.Relay.Subscribe(ctx, func(workspaceID int64, payload []byte) {
		s.dispatcher.Deliver(workspaceID, payload)
	})
}

// Shutdown closes every live connection with 1001 and cancels in-flight
// dispatches. It is safe to register with http.Server.RegisterOnShutdown.
func (s *Server) Shutdown() {
	s.hub.Shutdown()
	s.cancel()
	s.logger.Info("chat gateway shut down")
}

func (s *Server) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(s.opts.LoginWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.authLimiter.Sweep()
		}
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}
