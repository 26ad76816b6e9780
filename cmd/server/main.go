// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/spektrum-live/spektrum/internal/catalog"
	"github.com/spektrum-live/spektrum/internal/config"
	"github.com/spektrum-live/spektrum/internal/handlers"
	"github.com/spektrum-live/spektrum/internal/hub"
	"github.com/spektrum-live/spektrum/internal/middleware"
	"github.com/spektrum-live/spektrum/internal/quiz"
	"github.com/spektrum-live/spektrum/internal/token"
)

const gcInterval = time.Minute

func main() {
	cfg := config.Load()

	logger := logrus.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx := context.Background()

	store, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("storage init failed: %v", err)
	}

	// The catalog must load at startup; a server with no questions is useless.
	raw, err := store.Load(ctx)
	if err != nil {
		logger.Fatalf("catalog load failed: %v", err)
	}
	snap, err := catalog.New(raw)
	if err != nil {
		logger.Fatalf("catalog is invalid: %v", err)
	}
	holder := catalog.NewHolder(snap)

	mint := token.NewMint(cfg.SessionTTL)
	registry := quiz.NewRegistry(logger, mint, holder, cfg.LobbyIdleTTL, cfg.GameOverTTL)
	go registry.Run(ctx, gcInterval)

	wsHub := hub.New(logger, mint, registry, cfg.CORSOrigins)

	api := &handlers.API{
		Logger:         logger,
		Registry:       registry,
		Mint:           mint,
		Catalog:        holder,
		Store:          store,
		AdminPasswords: cfg.AdminPasswords,
		RoundDuration:  cfg.RoundDuration,
	}

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("GET /ws", wsHub.Handler())

	handler := middleware.Log(logger)(middleware.CORS(cfg.CORSOrigins)(mux))

	addr := ":" + cfg.Port
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

// newStore builds the configured catalog blob source.
func newStore(ctx context.Context, cfg *config.Config) (catalog.Store, error) {
	switch cfg.StorageDriver {
	case "redis":
		return catalog.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisKey)
	default:
		return catalog.NewFileStore(cfg.CatalogPath), nil
	}
}
