package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/zenforge"
	"github.com/aretw0/zenforge/internal/render"
	httpAdapter "github.com/aretw0/zenforge/pkg/adapters/http"
	mcpAdapter "github.com/aretw0/zenforge/pkg/adapters/mcp"
	"github.com/aretw0/zenforge/pkg/observability"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the HTTP API on addr until ctx is cancelled.
func Serve(ctx context.Context, app *App, addr string) error {
	store := app.Store()
	forge, err := app.Forge(
		zenforge.WithStore(store),
		zenforge.WithLifecycleHooks(observability.ComposeLifecycle(
			app.Metrics.LifecycleHooks(),
			observability.LogHooks(app.Logger),
		)),
	)
	if err != nil {
		return err
	}
	mode, err := app.Mode("")
	if err != nil {
		return err
	}

	api := httpAdapter.NewServer(forge, store,
		httpAdapter.WithMetrics(app.Metrics.Handler()),
		httpAdapter.WithWatcher(observability.NewAggregator(forge.Slots(), forge)),
		httpAdapter.WithLogger(app.Logger),
		httpAdapter.WithDefaultMode(mode),
	)
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Synchronous runs stop with the server.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error {
		app.Logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info("shutting down http server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		api.Close()
		if rerr := forge.Release(sctx); rerr != nil {
			app.Logger.Warn("failed to release model", "err", rerr)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ServeMCP runs the MCP server on stdio until the client disconnects.
func ServeMCP(ctx context.Context, app *App) error {
	store := app.Store()
	forge, err := app.Forge(
		zenforge.WithStore(store),
		zenforge.WithLifecycleHooks(observability.LogHooks(app.Logger)),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := forge.Release(context.WithoutCancel(ctx)); err != nil {
			app.Logger.Warn("failed to release model", "err", err)
		}
	}()

	srv := mcpAdapter.NewServer(forge,
		mcpAdapter.WithStore(store),
		mcpAdapter.WithRenderer(render.New(app.Settings.OutputDir, render.WithLogger(app.Logger))),
		mcpAdapter.WithLogger(app.Logger),
	)
	app.Logger.Info("mcp server ready on stdio", "modes", len(forge.Modes()))
	if err := srv.ServeStdio(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
