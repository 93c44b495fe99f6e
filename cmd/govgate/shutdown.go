package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/govgate/internal/config"
	"github.com/vyrodovalexey/govgate/internal/observability"
)

// runGateway starts the listener and the config watcher, then blocks
// until a shutdown signal arrives.
func runGateway(ctx context.Context, app *application, configPath string) {
	if err := app.server.Start(ctx); err != nil {
		app.closeStores()
		fatalWithSync(app.logger, "failed to start server", observability.Error(err))
		return
	}

	watcher := startConfigWatcher(ctx, app, configPath)

	waitForShutdown(app, watcher)
}

// waitForShutdown waits for a shutdown signal and performs graceful
// shutdown.
func waitForShutdown(app *application, watcher *config.Watcher) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	app.logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	app.shutdown(watcher)
}

// shutdown stops everything in dependency order: readiness fails first so
// load balancers stop routing here, then the listener drains, then the
// tracer flushes and the stores close.
func (app *application) shutdown(watcher *config.Watcher) {
	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	app.health.SetDraining(true)

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			app.logger.Warn("failed to stop config watcher", observability.Error(err))
		}
		app.reload.watcherRunning.Set(0)
	}

	if app.server.IsRunning() {
		if err := app.server.Stop(ctx); err != nil {
			app.logger.Error("failed to stop server gracefully", observability.Error(err))
		}
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		app.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	app.closeStores()

	app.logger.Info("govgate stopped")
}

// closeStores closes the window and session stores, then the shared Redis
// client they use.
func (app *application) closeStores() {
	if app.windows != nil {
		if err := app.windows.Close(); err != nil {
			app.logger.Error("failed to close rate limit store", observability.Error(err))
		}
	}
	if app.sessions != nil {
		if err := app.sessions.Close(); err != nil {
			app.logger.Error("failed to close session store", observability.Error(err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("failed to close redis client", observability.Error(err))
		}
	}
}
