// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/cmux-sub011/internal/bridge"
	"github.com/coder/cmux-sub011/internal/cmuxconfig"
	"github.com/coder/cmux-sub011/internal/events"
	"github.com/coder/cmux-sub011/internal/extmeta"
	"github.com/coder/cmux-sub011/internal/historystore"
	"github.com/coder/cmux-sub011/internal/partialstore"
	"github.com/coder/cmux-sub011/internal/tokenizer"
	"github.com/coder/cmux-sub011/internal/toolpolicy"
	"github.com/coder/cmux-sub011/internal/workspace"
)

// Options configures a new App.
type Options struct {
	Host    string
	Port    int
	Debug   bool
	Version string
}

// App is the running cmux daemon: every on-disk store, the workspace
// manager, the per-workspace session registry, and the HTTP+WS bridge that
// exposes them, tied together and given a start/stop lifecycle.
type App struct {
	mu sync.RWMutex

	opts Options
	home string

	eventBus   events.EventBus
	config     *cmuxconfig.Store
	history    *historystore.Store
	partial    *partialstore.Store
	ext        *extmeta.Store
	workspaces *workspace.Manager
	sessions   *sessionRegistry
	providers  *providerStore
	cfgWatcher *workspace.ConfigWatcher

	httpServer *http.Server

	done     chan struct{}
	stopOnce sync.Once
}

// New loads every on-disk store under the resolved cmux home directory and
// wires the components that don't depend on an HTTP listener yet; call
// Initialize to build the router and Start to begin serving.
func New(opts Options) (*App, error) {
	home, err := cmuxHome()
	if err != nil {
		return nil, fmt.Errorf("app: resolve home: %w", err)
	}
	p := resolvePaths(home)

	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("app: create home: %w", err)
	}

	config, err := cmuxconfig.New(p.configFile)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	secrets, err := cmuxconfig.LoadProviderSecrets(p.providersFile)
	if err != nil {
		return nil, fmt.Errorf("app: load provider secrets: %w", err)
	}

	ext, err := extmeta.New(p.extMetaFile, nil)
	if err != nil {
		return nil, fmt.Errorf("app: load extension metadata: %w", err)
	}
	if err := ext.ClearStaleStreaming(); err != nil {
		log.Printf("cmux: failed to clear stale streaming flags: %v", err)
	}

	history := historystore.New(p.historyDir, nil)
	partial := partialstore.New(p.partialDir, history)

	bus := events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: 1000,
		HistoryMaxAge:    24 * time.Hour,
	})

	resolver := newClientResolver(secrets)
	providers := newProviderStore(p.providersFile, secrets, resolver)
	tokenizers := tokenizer.NewRegistry()
	sessions := newSessionRegistry(config, history, partial, ext, resolver, tokenizers)

	workspaces := workspace.New(config, bus, history, sessions.StreamStopper)

	if purged, err := workspaces.PurgeArchived(context.Background(), time.Now()); err != nil {
		log.Printf("cmux: failed to purge archived workspaces: %v", err)
	} else if purged > 0 {
		log.Printf("cmux: purged %d expired archived workspaces", purged)
	}

	cfgWatcher, err := workspace.NewConfigWatcher(config, bus, p.configFile, 250*time.Millisecond)
	if err != nil {
		// A file watcher failing to start (e.g. inotify limits exhausted)
		// shouldn't block cmux from running single-process; config.json is
		// still read/written correctly, it just won't pick up external edits.
		log.Printf("cmux: config watcher disabled: %v", err)
	}

	if err := toolpolicy.LoadOverride(p.policiesFile); err != nil {
		// A malformed override shouldn't stop cmux from serving sessions
		// with the canonical embedded policies.
		log.Printf("cmux: tool policy override disabled: %v", err)
	}

	app := &App{
		opts:       opts,
		home:       home,
		eventBus:   bus,
		config:     config,
		history:    history,
		partial:    partial,
		ext:        ext,
		workspaces: workspaces,
		sessions:   sessions,
		providers:  providers,
		cfgWatcher: cfgWatcher,
		done:       make(chan struct{}),
	}
	return app, nil
}

// Initialize builds the HTTP server around the bridge router. Split from
// New so tests can construct an App against a populated store before a
// listener exists.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	deps := bridge.Dependencies{
		Workspaces: a.workspaces,
		Config:     a.config,
		Sessions:   a.sessions,
		History:    a.history,
		Bash:       &bashExecutor{config: a.config},
		Metadata:   metadataAdapter{store: a.ext},
		Providers:  a.providers,
		EventBus:   a.eventBus,
		ChatHub:    a.sessions.ChatHub,
	}

	addr := fmt.Sprintf("%s:%d", a.opts.Host, a.opts.Port)
	a.httpServer = &http.Server{
		Addr:    addr,
		Handler: bridge.NewRouter(deps),
	}
	return nil
}

// Handler returns the bridge's HTTP handler, built by Initialize. Exposed
// so tests can drive the full wiring through httptest without binding a
// real listener.
func (a *App) Handler() http.Handler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.httpServer.Handler
}

// Start begins serving the bridge in the background.
func (a *App) Start(ctx context.Context) error {
	a.mu.RLock()
	srv := a.httpServer
	a.mu.RUnlock()

	go func() {
		log.Printf("cmux: bridge listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("cmux: bridge server error: %v", err)
		}
	}()
	return nil
}

// Run initializes, starts, and blocks until a termination signal, context
// cancellation, or Stop arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("cmux: received signal %v, shutting down", sig)
	case <-ctx.Done():
		log.Printf("cmux: context cancelled, shutting down")
	case <-a.done:
		log.Printf("cmux: shutdown requested")
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting connections and closes every owned resource.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("cmux: error shutting down bridge server: %v", err)
		}
	}
	if a.cfgWatcher != nil {
		a.cfgWatcher.Close()
	}
	if a.eventBus != nil {
		a.eventBus.Close()
	}
	return nil
}

// Stop signals Run to shut down. Safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}
