// inboxwatch is a dashboard that searches many mailbox accounts at once and
// reports where the matching messages landed.
//
// Usage:
//
//	inboxwatch serve    Start the HTTP server
//	inboxwatch config   Print the effective configuration
//	inboxwatch version  Print version information
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"

	"github.com/eslider/inboxwatch/internal/auth"
	"github.com/eslider/inboxwatch/internal/config"
	"github.com/eslider/inboxwatch/internal/dashboard"
	"github.com/eslider/inboxwatch/internal/storage"
	"github.com/eslider/inboxwatch/internal/upstream"
	"github.com/eslider/inboxwatch/internal/web"
)

var version = "1.0.0-dev"

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "config":
		runConfig()
	case "version":
		fmt.Printf("inboxwatch %s\n", version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: inboxwatch <command>

Commands:
  serve       Start the HTTP server
  config      Print the effective configuration as YAML
  version     Print version information

Environment:
  CONFIG_FILE         Optional YAML config file (default: ./inboxwatch.yaml)
  LISTEN_ADDR         HTTP listen address (default: :8090)
  DATA_DIR            Session storage directory (default: ./data)
  UPSTREAM_URL        Base URL of the mail-check service (default: http://localhost:5000)
  REQUEST_TIMEOUT     Per-account search timeout (default: 30s)
  MAX_INFLIGHT        Concurrent searches per round, 0 = unlimited (default: 0)
  SESSION_BACKEND     sqlite or blob (default: sqlite)
  LOG_LEVEL           debug, info, warn or error (default: info)
  LOKI_URL            Loki push URL; logs go to the console only when empty

  S3_ENDPOINT         With SESSION_BACKEND=blob, store sessions in S3 instead of DATA_DIR
  S3_ACCESS_KEY       S3 access key
  S3_SECRET_KEY       S3 secret key
  S3_BUCKET           S3 bucket (default: inboxwatch)`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(envOr("CONFIG_FILE", "inboxwatch.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runConfig() {
	out, err := loadConfig().YAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Print(out)
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	lokiService := sloki.NewService(sloki.Configuration{
		URL:          cfg.LokiURL,
		Service:      cfg.ServiceName,
		ConsoleLevel: level,
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   cfg.LokiURL != "",
	})
	slog.SetDefault(slog.New(lokiService))
}

func runServe() {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		slog.Error("Failed to create data directory", slog.String("dir", cfg.DataDir), sloki.WrapError(err))
		os.Exit(1)
	}

	backend, closeBackend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open session storage", slog.String("backend", cfg.SessionBackend), sloki.WrapError(err))
		os.Exit(1)
	}
	defer closeBackend()

	sessions, err := auth.NewSessionStore(ctx, backend)
	if err != nil {
		slog.Error("Failed to init session store", sloki.WrapError(err))
		os.Exit(1)
	}

	client := upstream.NewClient(cfg.UpstreamURL, cfg.Endpoints, &http.Client{Timeout: cfg.RequestTimeout + 5*time.Second})
	workspaces := web.NewWorkspaces(client, sessions, dashboard.Options{
		RequestTimeout: cfg.RequestTimeout,
		MaxInFlight:    cfg.MaxInFlight,
	})
	defer workspaces.Close()

	// Set static assets and templates path.
	web.StaticDir = cfg.StaticDir
	web.TemplateDir = cfg.TemplateDir
	if cfg.TemplateDir != "" {
		web.ReloadTemplates()
	}

	router := web.NewRouter(web.Config{
		Sessions:   sessions,
		Upstream:   client,
		Workspaces: workspaces,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting inboxwatch",
		slog.String("version", version),
		slog.String("addr", cfg.ListenAddr),
		slog.String("upstream", cfg.UpstreamURL),
		slog.String("sessions", cfg.SessionBackend))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Shutdown incomplete", sloki.WrapError(err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", sloki.WrapError(err))
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

// openSessionBackend returns the configured session persistence and a
// function that releases it.
func openSessionBackend(ctx context.Context, cfg *config.Config) (auth.SessionBackend, func(), error) {
	if cfg.SessionBackend == config.BackendBlob {
		store, err := storage.NewBlobStore(ctx, cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return auth.NewBlobSessionBackend(store), func() {}, nil
	}

	db, err := storage.OpenSessionDB(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	go pruneSessions(ctx, db)
	return db, func() { db.Close() }, nil
}

// pruneSessions removes expired rows from the session database every hour.
func pruneSessions(ctx context.Context, db *storage.SessionDB) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := db.DeleteExpired(ctx, now)
			if err != nil {
				slog.Warn("Failed to prune sessions", sloki.WrapError(err))
				continue
			}
			if n > 0 {
				slog.Debug("Pruned expired sessions", slog.Int64("count", n))
			}
		}
	}
}
