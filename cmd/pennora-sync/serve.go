package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Andival-Sei/pennora/backend/internal/api"
	"github.com/Andival-Sei/pennora/backend/internal/logging"
	"github.com/Andival-Sei/pennora/backend/internal/mutation"
	syncpkg "github.com/Andival-Sei/pennora/backend/internal/sync"
	"github.com/Andival-Sei/pennora/backend/internal/sync/monitor"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the sync engine and the connectivity monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.config.HTTP.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

// serve wires the runtime and blocks until ctx is canceled.
func serve(ctx context.Context, a *app) error {
	store, err := a.remoteStore()
	if err != nil {
		return err
	}
	cfg := a.config

	hub := api.NewHub(cfg.HTTP.AllowedOrigins)
	defer hub.Close()

	status := syncpkg.NewStatusStore()
	engine := syncpkg.NewEngine(a.queue, store, status,
		syncpkg.WithInvalidator(hub.BroadcastCacheInvalidate),
		syncpkg.WithNoticeDuration(cfg.Sync.NoticeDuration),
	)
	defer engine.Close()

	mutator := mutation.New(store, a.queue, mutation.WithInvalidator(hub.BroadcastCacheInvalidate))
	server := api.NewServer(engine, a.queue, mutator, status, hub, api.Config{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	var prober monitor.Prober
	if cfg.Remote.HealthURL != "" {
		prober = monitor.NewHTTPProber(cfg.Remote.HealthURL, 0)
	}
	mon := monitor.New(engine, status, prober, &monitor.Config{
		ProbeInterval: cfg.Sync.ProbeInterval,
		SyncInterval:  cfg.Sync.Interval,
		PurgeInterval: cfg.Sync.PurgeInterval,
	}, monitor.WithPurger(a.queue))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.Relay(gctx)
		return nil
	})
	g.Go(func() error {
		logging.Info("HTTP server listening", map[string]interface{}{"addr": cfg.HTTP.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(httpServer, mon.Stop, shutdownTimeout)
	})

	// The durable queue may already hold operations from an earlier session.
	engine.RefreshPending(gctx)
	mon.Initialize(gctx)

	err = g.Wait()
	logging.Info("Server stopped")
	return err
}

// httpShutdowner is the part of *http.Server used on shutdown.
type httpShutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops the HTTP server and the monitor concurrently and gives
// both at most timeout. A sync still running past the timeout is left to
// finish on its own; its operations stay queued if bookkeeping fails.
func shutdown(srv httpShutdowner, stopMonitor func(), timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		stopMonitor()
		close(stopped)
	}()

	err := srv.Shutdown(ctx)
	select {
	case <-stopped:
	case <-ctx.Done():
		logging.Warn("Shutdown timed out waiting for a running sync", map[string]interface{}{
			"timeout": timeout.String(),
		})
	}
	return err
}
