package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"workspacechat/internal/app"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	mode, args := parseMode(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		err = runServerMode(ctx, args)
	case modeLocal:
		err = runLocalMode(ctx, args)
	default:
		err = runClientMode(args)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "wschat: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, args []string) error {
	cfg, err := app.ParseServerConfig(flag.NewFlagSet("wschat server", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return handle.Wait()
}

func runClientMode(args []string) error {
	cfg, err := app.ParseClientConfig(flag.NewFlagSet("wschat client", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	return app.RunClient(cfg)
}

// runLocalMode starts a private gateway on a loopback port and points the
// TUI at it. Server logs go to a file so they do not tear the alt screen.
func runLocalMode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("wschat local", flag.ExitOnError)
	user := fs.String("user", os.Getenv("WSCHAT_USER"), "default username for the login prompt")
	logPath := fs.String("log-file", os.DevNull, "where the embedded server writes its logs")
	if os.Getenv("WSCHAT_ADDR") == "" {
		_ = os.Setenv("WSCHAT_ADDR", "127.0.0.1:0")
	}
	serverCfg, err := app.ParseServerConfig(fs, args)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger, err := app.NewLogger(logFile, serverCfg.LogLevel, serverCfg.LogFormat)
	if err != nil {
		return err
	}

	handle, err := app.RunServer(ctx, serverCfg, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg := app.ClientConfig{
		ServerURL: "http://" + handle.Addr(),
		Username:  *user,
	}
	if rest := fs.Args(); len(rest) > 0 {
		if _, err := fmt.Sscan(rest[0], &clientCfg.WorkspaceID); err != nil {
			return fmt.Errorf("invalid workspace id %q", rest[0])
		}
	}
	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
