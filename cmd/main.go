package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leyline/core/internal/api"
	"github.com/leyline/core/internal/api/middleware"
	"github.com/leyline/core/internal/cli"
	"github.com/leyline/core/internal/config"
	"github.com/leyline/core/internal/database"
	"github.com/leyline/core/internal/functions"
	"github.com/leyline/core/internal/functions/ai"
	"github.com/leyline/core/internal/functions/forms"
	"github.com/leyline/core/internal/mailbox"
	"github.com/leyline/core/internal/objectstorage"
	"github.com/leyline/core/internal/services"
)

// shutdownTimeout bounds the drain of in-flight requests and engine runs
const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	apiKeys, err := middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to initialize API key manager: %v", err)
	}

	logService := services.NewLogServiceWithLevel(db, cfg.LogLevel)
	store := services.NewEmailStore(db)
	hub := services.NewEventHub()

	model := ai.NewClient(ai.Settings{
		BaseURL:      cfg.AI.BaseURL,
		APIKey:       cfg.AI.APIKey,
		Model:        cfg.AI.Model,
		MappingModel: cfg.AI.MappingModel,
	})
	profiles := services.NewProfileService(db, model, logService)

	engineDeps := functions.EngineDeps{
		Model:    model,
		Forms:    forms.NewFiller(),
		Profiles: profiles,
		Tracker:  services.NewStatusTracker(store, hub),
		Actions:  store,
	}
	bucket, err := objectstorage.New(objectstorage.Config{
		Endpoint:      cfg.ObjectStorage.Endpoint,
		Region:        cfg.ObjectStorage.Region,
		AccessKey:     cfg.ObjectStorage.AccessKey,
		SecretKey:     cfg.ObjectStorage.SecretKey,
		Bucket:        cfg.ObjectStorage.Bucket,
		PublicBaseURL: cfg.ObjectStorage.PublicBaseURL,
	})
	switch {
	case err == nil:
		engineDeps.Storage = bucket
	case errors.Is(err, objectstorage.ErrNotConfigured):
		log.Println("Object storage not configured, filled forms cannot be uploaded")
	default:
		log.Fatalf("Failed to initialize object storage: %v", err)
	}
	engine := functions.NewEngine(engineDeps)

	pipeline := services.NewPipeline(services.PipelineDeps{
		Tokens: mailbox.NewTokenProvider(mailbox.Credentials{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			RefreshToken: cfg.Google.RefreshToken,
		}),
		Dialer:       mailbox.NewDialer(),
		Store:        store,
		Engine:       engine,
		LogService:   logService,
		Hub:          hub,
		ProcessAsync: cfg.ProcessAsync,
	})

	serve := func() error {
		router := api.SetupRouter(cfg, api.Dependencies{
			Pipeline:   pipeline,
			Store:      store,
			Profiles:   profiles,
			Hub:        hub,
			LogService: logService,
			APIKeys:    apiKeys,
		})

		var poller *services.PollScheduler
		if cfg.PollInterval > 0 {
			poller = services.NewPollScheduler(pipeline, logService, cfg.PollInterval.Std())
			poller.Start()
		}

		log.Printf("Starting Leyline server on port %s", cfg.APIPort)
		log.Printf("Data directory: %s", cfg.DataDir)
		log.Printf("Database: %s", cfg.DatabaseDriver)
		log.Printf("Action engine mode: %s", engine.Mode())
		log.Printf("Audit log level: %s", logService.GetLogLevel())
		log.Printf("API Key: %s", apiKeys.GetCurrentKey())

		return run(router, cfg.APIPort, func() {
			if poller != nil {
				poller.Stop()
			}
			pipeline.Wait()
		})
	}

	// Check if running CLI command
	if len(os.Args) > 1 {
		cli.Execute(&cli.Env{
			Config:     cfg,
			APIKeys:    apiKeys,
			LogService: logService,
			Store:      store,
			Profiles:   profiles,
			Pipeline:   pipeline,
			Serve:      serve,
		})
		return
	}

	if err := serve(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// run serves handler until SIGINT or SIGTERM, then drains requests and calls drain
func run(handler http.Handler, port string, drain func()) error {
	// cancelled on shutdown so open event streams end
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
	}

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		drain()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Println("Engine runs still in flight at shutdown")
	}
	return nil
}
