package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/projectlens/server/internal/alerts"
	"github.com/obsidianstack/projectlens/server/internal/api"
	"github.com/obsidianstack/projectlens/server/internal/auth"
	"github.com/obsidianstack/projectlens/server/internal/config"
	"github.com/obsidianstack/projectlens/server/internal/history"
	"github.com/obsidianstack/projectlens/server/internal/receiver"
	"github.com/obsidianstack/projectlens/server/internal/store"
	"github.com/obsidianstack/projectlens/server/internal/ws"
)

const (
	shutdownTimeout   = 10 * time.Second
	retentionInterval = time.Hour
)

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return err
	}
	sc := cfg.Server

	slog.Info("projectlens-server starting",
		"config", configPath,
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"report_ttl", sc.Report.TTL,
		"storage", sc.Storage.Backend,
		"alert_rules", len(sc.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := alerts.New(sc.Alerts)
	if err != nil {
		return err
	}
	defer engine.Wait()

	// Interface values stay nil when storage is disabled.
	var (
		rec  receiver.Recorder
		hist api.HistoryReader
		hs   *history.Store
	)
	if sc.Storage.Enabled() {
		hs, err = history.Open(sc.Storage.Path)
		if err != nil {
			return err
		}
		defer hs.Close()
		rec, hist = hs, hs
		slog.Info("history storage enabled", "path", sc.Storage.Path, "retention", sc.Storage.Retention)
	}

	st := store.New(sc.Report.TTL)
	hub := ws.New(st, engine, sc.BroadcastInterval)
	rc := receiver.New(st, engine, rec)
	rc.SetNotifier(hub)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           newMux(sc, st, engine, hist, rc, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st.Run(ctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	if hs != nil && sc.Storage.Retention > 0 {
		g.Go(func() error {
			hs.RunRetention(ctx, sc.Storage.Retention, retentionInterval)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("projectlens-server shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil {
		slog.Error("server stopped", "err", err)
	}
	return err
}

// newMux wires every route. The receiver, REST API and WebSocket stream sit
// behind API key auth; /healthz and the dashboard files do not.
func newMux(sc config.ServerConfig, st *store.Store, engine *alerts.Engine, hist api.HistoryReader, rc *receiver.Receiver, hub *ws.Hub) http.Handler {
	protect := auth.APIKey(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())
	apiHandler := api.New(st, engine, hist)

	mux := http.NewServeMux()
	mux.Handle(receiver.Path, protect(rc))
	mux.Handle("/api/", protect(apiHandler))
	mux.Handle("/ws/stream", protect(hub))
	mux.Handle("/healthz", apiHandler)

	if uiDir != "" {
		fs := http.FileServer(http.Dir(uiDir))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			// SPA fallback: unknown paths get index.html.
			path := filepath.Join(uiDir, filepath.Clean("/"+r.URL.Path))
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, filepath.Join(uiDir, "index.html"))
				return
			}
			fs.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", uiDir)
	}
	return mux
}
