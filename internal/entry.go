// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/dagaz/internal/api"
	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/evaluator"
	"github.com/starford/dagaz/internal/manager"
	"github.com/starford/dagaz/internal/mcpserver"
	"github.com/starford/dagaz/internal/metrics"
	"github.com/starford/dagaz/internal/slotstore"
	"github.com/starford/dagaz/internal/source"
	"github.com/starford/dagaz/internal/sse"
	"github.com/starford/dagaz/internal/statefile"
)

// digestThrottle bounds how often the SSE broker emits the aggregate
// slots.digest event.
const digestThrottle = 2 * time.Second

// Run starts the host daemon with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("state_file", cfg.State.File),
		slog.Bool("sensor_sim", cfg.Sensors.Sim),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Slot store.
	store, err := slotstore.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open slot store: %w", err)
	}
	defer store.Close()

	// Prometheus metrics, registered once on the default registry.
	m := metrics.New()

	// Live state store. The file driver and the API both feed it.
	states := source.NewMemoryStateStore()

	// SSE broker.
	broker := sse.NewBroker(digestThrottle, sse.WithClientCountFunc(m.SetSSEClients))
	defer broker.Close()

	// Tick gateway for time-dependent expressions.
	ticker := source.NewIntervalTicker(cfg.Ticks.Interval(), logger)

	// Evaluator, with simulated sensors when enabled.
	evalOpts := []evaluator.Option{
		evaluator.WithStateStore(states),
		evaluator.WithTicks(ticker),
		evaluator.WithLogger(logger),
	}
	var sim *source.SimProvider
	if cfg.Sensors.Sim {
		sim = source.NewSimProvider(cfg.Sensors.Seed, logger)
		reg := dynamic.NewSensorRegistry()
		if err := reg.AddProvider(sim, sim.Keys()...); err != nil {
			return fmt.Errorf("register sim sensors: %w", err)
		}
		evalOpts = append(evalOpts, evaluator.WithSensors(reg))
	}
	eval := evaluator.New(evalOpts...)

	// runCtx bounds every background worker; the shutdown goroutine
	// cancels it once a signal arrives.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Manager: one evaluation session per slot, restored from the store.
	mgr := manager.New(runCtx, eval, store, broker, m, logger)
	defer mgr.Close()
	if err := mgr.Restore(); err != nil {
		return fmt.Errorf("restore slots: %w", err)
	}

	// State file: load once now, follow changes below.
	var stateWatcher *statefile.Watcher
	if cfg.State.File != "" {
		stateWatcher = statefile.New(cfg.State.File, states, logger)
		if err := stateWatcher.Load(); err != nil {
			logger.Warn("initial state load failed", slog.String("error", err.Error()))
		}
		m.SetStateKeys(states.Len())
	}

	// Build API router.
	apiRouter := api.NewRouter(mgr, states, broker, m, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus exposition.
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(runCtx)

	// Tick fanout.
	g.Go(func() error {
		if err := ticker.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ticker: %w", err)
		}
		return nil
	})

	// Simulated sensor walk.
	if sim != nil {
		g.Go(func() error {
			if err := sim.Run(gCtx, cfg.Sensors.Interval()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("sim sensors: %w", err)
			}
			return nil
		})
	}

	// State file watcher with SSE fan-out.
	if stateWatcher != nil {
		g.Go(func() error {
			return stateWatcher.Watch(gCtx, func(changed []string) {
				for _, key := range changed {
					broker.PublishStateChanged(key)
				}
				m.SetStateKeys(states.Len())
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals. Cancelling runCtx winds down the workers
	// above; the HTTP server needs an explicit Shutdown.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancelRun()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP stdio server on the same slot store and
// evaluation stack as the daemon. No HTTP surface and no metrics
// registration; stdout belongs to the protocol, so logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	store, err := slotstore.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open slot store: %w", err)
	}
	defer store.Close()

	states := source.NewMemoryStateStore()

	// The broker satisfies the event interfaces; without HTTP there are
	// no subscribers, publications just fall through.
	broker := sse.NewBroker(digestThrottle)
	defer broker.Close()

	ticker := source.NewIntervalTicker(cfg.Ticks.Interval(), logger)

	evalOpts := []evaluator.Option{
		evaluator.WithStateStore(states),
		evaluator.WithTicks(ticker),
		evaluator.WithLogger(logger),
	}
	var sim *source.SimProvider
	if cfg.Sensors.Sim {
		sim = source.NewSimProvider(cfg.Sensors.Seed, logger)
		reg := dynamic.NewSensorRegistry()
		if err := reg.AddProvider(sim, sim.Keys()...); err != nil {
			return fmt.Errorf("register sim sensors: %w", err)
		}
		evalOpts = append(evalOpts, evaluator.WithSensors(reg))
	}
	eval := evaluator.New(evalOpts...)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	mgr := manager.New(runCtx, eval, store, broker, nil, logger)
	defer mgr.Close()
	if err := mgr.Restore(); err != nil {
		return fmt.Errorf("restore slots: %w", err)
	}

	var stateWatcher *statefile.Watcher
	if cfg.State.File != "" {
		stateWatcher = statefile.New(cfg.State.File, states, logger)
		if err := stateWatcher.Load(); err != nil {
			logger.Warn("initial state load failed", slog.String("error", err.Error()))
		}
	}

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := ticker.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ticker: %w", err)
		}
		return nil
	})

	if sim != nil {
		g.Go(func() error {
			if err := sim.Run(gCtx, cfg.Sensors.Interval()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("sim sensors: %w", err)
			}
			return nil
		})
	}

	if stateWatcher != nil {
		g.Go(func() error {
			return stateWatcher.Watch(gCtx, func(changed []string) {
				for _, key := range changed {
					broker.PublishStateChanged(key)
				}
			})
		})
	}

	// Serve the protocol until stdin closes, then wind everything down.
	g.Go(func() error {
		defer cancelRun()
		srv := mcpserver.New(mgr, states, broker, nil)
		logger.Info("MCP server starting on stdio")
		if err := srv.ServeStdio(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("MCP server error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("MCP server stopped")
	return nil
}
