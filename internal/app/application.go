// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"tutorhub/internal/api"
	"tutorhub/internal/completion"
	"tutorhub/internal/config"
	"tutorhub/internal/gateway"
	"tutorhub/internal/session"
	"tutorhub/internal/store"
	"tutorhub/internal/turn"
	storecfg "tutorhub/pkg/store"
)

// Application coordinates all system components. Initialization follows
// strict dependency order: Store → Resolver → Completion → Turn Registry
// → Gateway → API → HTTP.
type Application struct {
	config     *config.Config
	store      *store.Store
	resolver   *session.Resolver
	completer  *completion.Client
	turns      *turn.Registry
	gateway    *gateway.Handler
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication creates an application with all components initialized.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Open the conversation store (foundation layer).
	storeConfig := &storecfg.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	conversationStore, err := store.New(storeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	// STEP 1.5: Apply schema migrations before anything touches tables.
	migrationManager := storecfg.NewMigrationManager(conversationStore.DB())
	if err := migrationManager.ApplyMigrations(); err != nil {
		conversationStore.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	// STEP 2: Session resolver on top of the store.
	resolver := session.NewResolver(conversationStore)

	// STEP 3: Completion client for the external model backend.
	completionConfig := &completion.Config{
		BaseURL:     cfg.Completion.BaseURL,
		APIKey:      cfg.Completion.APIKey,
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
		Timeout:     cfg.Completion.Timeout,
	}
	completer, err := completion.NewClient(completionConfig)
	if err != nil {
		conversationStore.Close()
		return nil, fmt.Errorf("failed to build completion client: %w", err)
	}

	// STEP 4: Turn registry owning per-conversation controllers.
	turns := turn.NewRegistry(conversationStore, completer, cfg.Turn.IdleTTL, cfg.Turn.TurnTimeout)

	// STEP 5: Connection gateway routing websocket traffic.
	gatewayHandler := gateway.NewHandler(resolver, conversationStore, turns, cfg.Turn.RateLimitPerMinute)

	// STEP 6: HTTP API for health, leaderboard, and topic management.
	apiServer := api.NewServer(conversationStore, resolver, turns)

	// STEP 7: HTTP server with API and websocket endpoints.
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", gatewayHandler.HandleSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      conversationStore,
		resolver:   resolver,
		completer:  completer,
		turns:      turns,
		gateway:    gatewayHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins serving. The turn registry is already running after
// construction; only the HTTP listener needs to come up.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting tutorhub on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("tutorhub started successfully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP → Turn Registry → Store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down tutorhub")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.turns.Close()

	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("tutorhub shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
