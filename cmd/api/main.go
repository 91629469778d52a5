package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"folio/api/internal/app"
	"folio/api/internal/config"
	"folio/api/internal/draft"
	"folio/api/internal/history"
	"folio/api/internal/search"
	"folio/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	// The interface values stay nil unless a backend is configured; the
	// service degrades those features to no-ops.
	var drafts *draft.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		drafts, err = draft.New(cfg.RedisURL, cfg.DraftTTL)
		if err != nil {
			log.Printf("WARNING: draft cache unavailable, continuing without it: %v", err)
			drafts = nil
		} else {
			defer drafts.Close()
		}
	}

	var archive *history.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			log.Fatalf("failed to create history dir: %v", err)
		}
		archive = history.New(cfg.HistoryDir)
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	service := app.New(cfg, dataStore, wrapDrafts(drafts), wrapArchive(archive), searchService)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Folio API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// wrapDrafts avoids handing the service a typed-nil interface value.
func wrapDrafts(c *draft.Cache) app.DraftCache {
	if c == nil {
		return nil
	}
	return c
}

func wrapArchive(s *history.Service) app.SnapshotArchive {
	if s == nil {
		return nil
	}
	return s
}
