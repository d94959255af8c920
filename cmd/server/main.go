package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqttadapter "github.com/havenhub/haven-backend-go/internal/adapters/mqtt"
	"github.com/havenhub/haven-backend-go/internal/ai"
	"github.com/havenhub/haven-backend-go/internal/ai/providers"
	"github.com/havenhub/haven-backend-go/internal/api"
	"github.com/havenhub/haven-backend-go/internal/bus"
	"github.com/havenhub/haven-backend-go/internal/config"
	"github.com/havenhub/haven-backend-go/internal/core/automation"
	"github.com/havenhub/haven-backend-go/internal/core/registry"
	"github.com/havenhub/haven-backend-go/internal/core/retention"
	"github.com/havenhub/haven-backend-go/internal/database"
	"github.com/havenhub/haven-backend-go/internal/websocket"
	"github.com/havenhub/haven-backend-go/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}

	repos := database.NewRepositories(db)
	events := bus.New(log)

	wsHub := websocket.NewHub(log)
	go wsHub.Run()

	forwarder := websocket.NewForwarder(wsHub, events, log)
	forwarder.Start()
	defer forwarder.Stop()

	devices := registry.NewService(repos.Device, events, log)
	if err := devices.Start(context.Background()); err != nil {
		log.Fatal("Failed to load device registry: ", err)
	}

	var generator *ai.AutomationGenerator
	if cfg.AI.Enabled {
		provider := providers.NewOpenAIProvider(cfg.AI, log)
		generator = ai.NewAutomationGenerator(provider, devices, log)
		log.WithField("provider", provider.GetName()).Info("AI automation generation enabled")
	}

	executionTimeout := 60 * time.Second
	if parsed, err := time.ParseDuration(cfg.Automation.ExecutionTimeout); err == nil && parsed > 0 {
		executionTimeout = parsed
	}

	engine := automation.NewEngine(automation.Config{
		Timezone:         cfg.Automation.Timezone,
		ExecutionTimeout: executionTimeout,
		EventBufferSize:  cfg.Automation.EventBufferSize,
	}, repos.Automation, events, devices, engineGenerator(generator), log)
	if err := engine.Start(context.Background()); err != nil {
		log.Fatal("Failed to start automation engine: ", err)
	}
	defer engine.Stop()
	if generator != nil {
		generator.BindAutomations(engine)
	}

	if cfg.MQTT.Enabled {
		adapter := mqttadapter.NewAdapter(cfg.MQTT, devices, events, log)
		if err := adapter.Start(context.Background()); err != nil {
			log.WithError(err).Warn("MQTT adapter failed to start, continuing without it")
		} else {
			defer adapter.Stop()
		}
	}

	if cfg.Retention.Enabled {
		cleaner := retention.NewService(cfg.Retention, repos.Device, repos.Automation, log)
		cleaner.Start(context.Background())
		defer cleaner.Stop()
	}

	router := api.NewRouter(cfg, devices, engine, wsHub, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Starting Haven backend on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Info("Server exited")
}

// engineGenerator converts the optional concrete generator into the engine's
// interface without producing a non-nil interface around a nil pointer.
func engineGenerator(g *ai.AutomationGenerator) automation.Generator {
	if g == nil {
		return nil
	}
	return g
}
