// Command councild serves the council over HTTP and WebSocket and runs the
// discussions started through its API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/emilixs/Aicouncil/internal/broadcast"
	"github.com/emilixs/Aicouncil/internal/config"
	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/internal/server"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load environment variables
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 2. Build the service graph, seed experts and start the hub
	d, err := newDaemon(ctx, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 3. Serve until a signal or a listener failure
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Councild] Listening on %s", env.HTTPAddr)
		if err := d.echo.Start(env.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Printf("[Councild] Received shutdown signal, shutting down gracefully...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "HTTP server error: %v\n", err)
		exitCode = 1
	}

	// 4. Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	d.shutdown(shutdownCtx)
	cancel()

	log.Printf("[Councild] Stopped")
	os.Exit(exitCode)
}

// daemon is a running councild: the resolved services and the HTTP router.
type daemon struct {
	bus    *blackboard.Client
	store  blackboard.Store
	engine *orchestrator.Engine
	hub    *broadcast.Hub
	echo   *echo.Echo

	cancelRuns context.CancelFunc
	stopOnce   sync.Once
}

// newDaemon resolves every service, seeds experts from council.yml and starts
// the hub. Discussions started through the API run until shutdown, not until
// ctx is done.
func newDaemon(ctx context.Context, env *config.Env) (*daemon, error) {
	injector := setupDI(env)

	bus, err := do.Invoke[*blackboard.Client](injector)
	if err != nil {
		return nil, err
	}
	d := &daemon{bus: bus, cancelRuns: func() {}}

	if d.store, err = do.Invoke[blackboard.Store](injector); err != nil {
		d.close()
		return nil, err
	}
	cfg, err := do.Invoke[*config.CouncilConfig](injector)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("failed to load %s: %w", env.ConfigPath, err)
	}
	if d.engine, err = do.Invoke[*orchestrator.Engine](injector); err != nil {
		d.close()
		return nil, err
	}
	if d.hub, err = do.Invoke[*broadcast.Hub](injector); err != nil {
		d.close()
		return nil, err
	}

	n, err := seedExperts(ctx, d.store, cfg)
	if err != nil {
		d.close()
		return nil, err
	}
	log.Printf("[Councild] Instance '%s' starting with %d experts from %s", env.InstanceName, n, env.ConfigPath)

	runCtx, cancelRuns := context.WithCancel(context.Background())
	d.cancelRuns = cancelRuns
	go d.hub.Run(runCtx)

	opts := server.DefaultOptions()
	opts.APIToken = env.APIToken
	opts.DefaultMaxMessages = cfg.DefaultMaxMessages()
	if opts.APIToken == "" {
		log.Printf("[Councild] WARN: COUNCIL_API_TOKEN not set, the API is unauthenticated")
	}
	d.echo = server.New(runCtx, d.store, d.engine, d.hub, opts).Echo()

	return d, nil
}

// shutdown stops accepting requests, aborts running discussions, waits for
// them to be finalized as CANCELLED and closes the connections. Later calls
// do nothing.
func (d *daemon) shutdown(ctx context.Context) {
	d.stopOnce.Do(func() { d.stop(ctx) })
}

func (d *daemon) stop(ctx context.Context) {
	if err := d.echo.Shutdown(ctx); err != nil {
		log.Printf("[Councild] WARN: HTTP shutdown: %v", err)
	}

	if active := d.engine.ActiveRuns(); len(active) > 0 {
		log.Printf("[Councild] Cancelling %d running discussions", len(active))
	}
	d.cancelRuns()
	d.engine.Wait()
	<-d.hub.Done()

	d.close()
}

func (d *daemon) close() {
	if d.store != nil && d.store != blackboard.Store(d.bus) {
		d.store.Close()
	}
	d.bus.Close()
}
