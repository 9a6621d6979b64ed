package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"local.dev/chatspace-backend/internal/backend"
	fbbackend "local.dev/chatspace-backend/internal/backend/firebase"
	"local.dev/chatspace-backend/internal/backend/memdb"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/config"
	"local.dev/chatspace-backend/internal/httpx"
	"local.dev/chatspace-backend/internal/identity"
	"local.dev/chatspace-backend/internal/logger"
	"local.dev/chatspace-backend/internal/presence"
	"local.dev/chatspace-backend/internal/reactions"
	"local.dev/chatspace-backend/internal/search"
	"local.dev/chatspace-backend/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)
	config.EnsureDir(cfg.UploadsDir())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpx.NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Hub.Run(gctx, app.Notifier)
		return nil
	})
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr, "backend", cfg.Backend, "no_auth", cfg.NoAuth)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		app.Hub.CloseAll()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// buildApp selects the backend and assembles the services on top of it.
func buildApp(ctx context.Context, cfg config.Config) (*httpx.AppCtx, func(), error) {
	clk := clock.Real()
	var (
		docs    backend.DocumentStore
		rt      backend.RealtimeStore
		id      identity.Identity
		cleanup = func() {}
	)

	switch cfg.Backend {
	case config.BackendFirebase:
		fb, err := config.NewFirebaseApp(ctx, cfg.Firebase)
		if err != nil {
			return nil, nil, err
		}
		fs, err := fb.Firestore(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore: %w", err)
		}
		fsDocs := fbbackend.NewDocs(fs)
		cleanup = func() { _ = fsDocs.Close() }
		docs = fsDocs

		db, err := fb.Database(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("realtime database (FIREBASE_DATABASE_URL): %w", err)
		}
		rt = fbbackend.NewRealtime(db)

		authClient, err := fb.Auth(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("firebase auth: %w", err)
		}
		if id, err = fbbackend.NewIdentity(ctx, authClient, cfg.Firebase.APIKey); err != nil {
			return nil, nil, err
		}
		if cfg.Firebase.APIKey == "" {
			logger.Warn("FIREBASE_API_KEY not set; password sign-in disabled")
		}

	default:
		docs = memdb.NewDocs(clk)
		rt = memdb.NewRealtime(clk)
		secret := cfg.JWTSecret
		if secret == "" {
			secret = randomSecret()
			logger.Warn("JWT_SECRET not set; tokens will not survive a restart")
		}
		id = identity.NewMemory(secret, 24*time.Hour)
	}

	st := store.NewStore(docs, clk)
	if cfg.Backend == config.BackendMemory && cfg.Seed {
		if err := st.SeedIfEmpty(ctx); err != nil {
			return nil, nil, fmt.Errorf("seed: %w", err)
		}
	}

	t := cfg.Tunables
	limiter := httpx.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	app := &httpx.AppCtx{
		Config:    cfg,
		Clock:     clk,
		Docs:      docs,
		Store:     st,
		Identity:  id,
		Notifier:  identity.NewNotifier(),
		Presence:  presence.NewTracker(rt, docs, clk, t.ForcedCloseGrace),
		Reactions: reactions.New(docs),
		Search:    search.NewAggregator(docs, clk, t.HeaderDebounce, t.ComposeDebounce),
		Limiter:   limiter,
		Hub:       httpx.NewHub(),
	}
	prev := cleanup
	return app, func() {
		limiter.Stop()
		prev()
	}, nil
}

func randomSecret() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
