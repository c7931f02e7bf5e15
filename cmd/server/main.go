package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	intrnl "workspacechat/internal"
	"workspacechat/internal/app"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	cfg, err := app.ParseServerConfig(flag.CommandLine, os.Args[1:])
	if *showVersion {
		fmt.Println(intrnl.VersionString("wschat-server"))
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	handle, err := app.RunServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("server failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("workspace chat gateway started",
		slog.String("version", intrnl.Version),
		slog.String("db", cfg.DBPath),
		slog.Duration("idle_timeout", cfg.IdleTimeout),
	)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				if err := handle.Stop(ctx); err != nil {
					return err
				}
				return handle.Wait()
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", slog.Int("code", exitCode))
	os.Exit(exitCode)
}
