package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"

	"github.com/srinithinsomasundaram/thamly-sub000/internal/app"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/authpw"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/collab"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/config"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/logging"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/oauth"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/search"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/session"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel)

	if cfg.SessionSecret == config.DefaultSessionSecret && cfg.Environment == "production" {
		logger.Error("THAMLY_SESSION_SECRET must be set in production")
		os.Exit(1)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			logger.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	dataStore := store.NewPostgresStore(db)

	opts := []app.Option{app.WithLogger(logger)}

	var bridge *collab.Bridge
	gatewayOpts := []collab.GatewayOption{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		logger.Info("using redis for session revocation and the collaboration bridge", "node", cfg.NodeID)
		opts = append(opts, app.WithRevocationList(redisStore))

		bridge = collab.NewBridge(redisStore.Client(), cfg.NodeID, logger)
		gatewayOpts = append(gatewayOpts, collab.WithPublisher(bridge))
	} else {
		logger.Info("using postgres for session revocation; collaboration rooms are local to this node")
		go pruneRevokedSessions(ctx, dataStore, logger)
	}

	rooms := collab.NewGateway(logger, gatewayOpts...)
	defer rooms.Close()
	if bridge != nil {
		if err := bridge.Start(ctx, rooms.Deliver); err != nil {
			logger.Error("collaboration bridge failed to start", "error", err)
			os.Exit(1)
		}
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)
	go func() {
		if err := searchService.Reindex(ctx); err != nil {
			logger.Warn("search reindex failed", "error", err)
		}
	}()
	opts = append(opts, app.WithSearch(searchService))

	opts = append(opts, app.WithGoogle(oauth.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)))
	if !cfg.GoogleConfigured() {
		logger.Warn("google oauth is not configured; /auth/google/* will fail")
	}

	service, err := app.New(cfg, dataStore, authpw.NewHasher(), opts...)
	if err != nil {
		logger.Error("service init failed", "error", err)
		os.Exit(1)
	}

	reporter := sentryhttp.New(sentryhttp.Options{Repanic: true})
	// sentry must wrap the middleware stack so websocket hijacking still works.
	handler := reporter.Handle(app.NewHTTPServer(service, rooms, cfg).Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("thamly api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if bridge != nil {
		bridge.Wait()
	}
	searchService.Wait()
}

func pruneRevokedSessions(ctx context.Context, data *store.PostgresStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := data.PruneRevokedSessions(ctx)
			if err != nil {
				logger.Warn("prune revoked sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned revoked sessions", "count", n)
			}
		}
	}
}
