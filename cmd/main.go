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

	"github.com/Vasu1712/scenyx-sync/internal/api/scenarios"
	"github.com/Vasu1712/scenyx-sync/internal/config"
	"github.com/Vasu1712/scenyx-sync/internal/engine"
	"github.com/Vasu1712/scenyx-sync/internal/messaging"
	"github.com/Vasu1712/scenyx-sync/internal/middleware"
	"github.com/Vasu1712/scenyx-sync/internal/storage"
	"github.com/Vasu1712/scenyx-sync/internal/storage/cache"
	"github.com/Vasu1712/scenyx-sync/internal/storage/memory"
	"github.com/Vasu1712/scenyx-sync/internal/storage/postgres"
	"github.com/Vasu1712/scenyx-sync/internal/ws"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	fabric, closeFabric, err := buildFabric(gctx, g, cfg)
	if err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}

	eng := engine.NewEngine(store, fabric,
		engine.WithLoadTimeout(cfg.LoadTimeout),
		engine.WithFlushTimeout(cfg.FlushTimeout),
		engine.WithFlushOnEvict(cfg.FlushOnEvict),
	)
	wsHandler := ws.NewHandler(eng, fabric, cfg.AllowedOrigin)

	router := mux.NewRouter()
	scenarios.RegisterScenarioRoutes(router,
		&scenarios.ScenarioHandler{Engine: eng, Catalog: store, WS: wsHandler},
		mux.MiddlewareFunc(middleware.Auth(cfg.JWTSecret)),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           middleware.CORS(cfg.AllowedOrigin)(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		slog.InfoContext(gctx, "server started", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "fabric", cfg.Fabric)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		closeFabric()
		// Websocket connections are hijacked, so Shutdown does not wait for
		// them; their disconnects may still flush scenarios to the store.
		if werr := wsHandler.Wait(shutdownCtx); werr != nil {
			slog.Warn("connections still open at shutdown", "error", werr)
		}
		return err
	})

	return g.Wait()
}

func setupLogging(cfg *config.Config) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config) (storage.Backend, func(), error) {
	var (
		store   storage.Backend
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pg, err := postgres.NewScenarioStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("creating postgres store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = pg.Close() })
		store = pg

	default:
		if cfg.SeedFile == "" {
			store = memory.NewScenarioStore(memory.DefaultSeed()...)
			break
		}
		mem, err := memory.NewScenarioStoreFromFile(cfg.SeedFile)
		if err != nil {
			return nil, nil, fmt.Errorf("creating memory store: %w", err)
		}
		store = mem
	}

	if cfg.ValkeyAddr != "" {
		client, err := cache.NewClient(cfg.ValkeyAddr, cfg.ValkeyPassword)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("creating valkey client: %w", err)
		}
		closers = append(closers, client.Close)
		store = cache.NewCachedStore(client, store, cfg.ValkeyTTL)
		slog.InfoContext(ctx, "valkey snapshot cache enabled", "addr", cfg.ValkeyAddr, "ttl", cfg.ValkeyTTL)
	}

	return store, closeAll, nil
}

// buildFabric starts the broadcast fabric on g and returns it with a function
// that disconnects every peer it still holds.
func buildFabric(ctx context.Context, g *errgroup.Group, cfg *config.Config) (ws.Fabric, func(), error) {
	if cfg.Fabric != config.FabricNats {
		hub := ws.NewHub()
		g.Go(func() error { return hub.Start(ctx) })
		return hub, func() {}, nil
	}

	ns, err := messaging.NewNatsServer(
		messaging.WithHost(cfg.NatsHost),
		messaging.WithPort(cfg.NatsPort),
		messaging.WithStartTimeout(cfg.NatsStartTimeout),
	)
	if err != nil {
		return nil, nil, err
	}
	g.Go(func() error { return ns.Start(ctx) })

	conn, err := ns.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	fabric := messaging.NewNatsFabric(conn)

	return fabric, func() {
		fabric.Close()
		conn.Close()
	}, nil
}
