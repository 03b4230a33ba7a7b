package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/bot"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/config"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/metrics"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logging
	closeLog := setupLogging(cfg.LogLevel, cfg.LogFile)
	defer closeLog()

	roleCfg, err := config.LoadRoles(cfg.RoleConfigPath)
	if err != nil {
		slog.Error("Failed to load role config", "path", cfg.RoleConfigPath, "error", err)
		os.Exit(1)
	}

	slog.Info("Starting SkyBlock promotion bot", "mode", roleCfg.Mode)

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()

	// Create the bot
	b, err := bot.New(cfg, roleCfg, rec)
	if err != nil {
		slog.Error("Failed to create bot", "error", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := b.Start(ctx); err != nil {
			_ = b.Stop()
			return err
		}
		slog.Info("Bot is running. Press Ctrl+C to stop.")
		<-ctx.Done()

		slog.Info("Shutting down...")
		return b.Stop()
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           rec.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("Serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("Bot exited with error", "error", err)
		closeLog()
		os.Exit(1)
	}

	slog.Info("Bot stopped")
}

// setupLogging logs to stdout and, when file is set, to a rotating log file
func setupLogging(level, file string) func() {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
	return closeFn
}
