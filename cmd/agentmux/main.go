package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/activity"
	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/orchestration"
	"github.com/agentmux/agentmux/internal/scheduler"
	"github.com/agentmux/agentmux/internal/server"
	"github.com/agentmux/agentmux/internal/server/ws"
	"github.com/agentmux/agentmux/internal/storage"
	"github.com/agentmux/agentmux/internal/supervisor"
	"github.com/agentmux/agentmux/internal/taskfolder"
	"github.com/agentmux/agentmux/internal/taskregistry"
	"github.com/agentmux/agentmux/internal/tmux"
	"github.com/agentmux/agentmux/internal/workflow"
	websock "github.com/agentmux/agentmux/pkg/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting AgentMux server...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus (in-memory unless nats.url is set)
	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to create event bus", zap.Error(err))
	}
	defer eventBus.Close()

	// 5. Open the snapshot store
	homeDir, err := cfg.Home.ExpandedHomeDir()
	if err != nil {
		log.Fatal("Failed to resolve home directory", zap.Error(err))
	}
	store, err := storage.NewStore(homeDir, log)
	if err != nil {
		log.Fatal("Failed to open snapshot store", zap.Error(err))
	}
	log.Info("Snapshot store ready", zap.String("dir", homeDir))

	// 6. Session driver
	driver := tmux.NewClient(cfg.Tmux, log)

	// 7. Task folders and registry
	folders := taskfolder.NewStore(log)
	registry, err := taskregistry.NewRegistry(store, folders, log)
	if err != nil {
		log.Fatal("Failed to load task registry", zap.Error(err))
	}

	// 8. Scheduler (re-arms persisted messages on Start)
	sched := scheduler.NewScheduler(store, driver, eventBus, cfg.Agent, log)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// 9. Supervisor and activity monitor
	sup := supervisor.NewSupervisor(store, driver, eventBus, cfg.Agent, log)
	monitor := activity.NewMonitor(store, driver, sup, eventBus, cfg.Monitor, log)
	monitor.Start(ctx)

	// 10. Workflow engine
	workflows := workflow.NewEngine("config", driver, folders, eventBus, log)

	// 11. Orchestration service
	service := orchestration.NewService(store, driver, sched, sup, registry, folders, workflows, eventBus, cfg.Agent, log)

	// 12. Optional fsnotify watchers on registered project task trees
	var watchers []*taskregistry.Watcher
	if cfg.Monitor.WatchTasks {
		projects, err := store.GetProjects()
		if err != nil {
			log.Error("Failed to list projects for task watching", zap.Error(err))
		}
		for _, p := range projects {
			w, err := taskregistry.NewWatcher(registry, p.Path, p.ID, log)
			if err != nil {
				log.Error("Failed to watch task tree",
					zap.String("project_id", p.ID),
					zap.Error(err))
				continue
			}
			w.Start(ctx)
			watchers = append(watchers, w)
		}
	}

	// 13. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(server.Recovery(log))
	router.Use(server.RequestLogger(log))
	router.Use(server.CORS())

	// 14. Register API routes
	apiV1 := router.Group("/api/v1")
	server.SetupRoutes(apiV1, service, log)

	handler := server.NewHandler(service, log)
	router.GET("/health", handler.HealthCheck)

	// 15. WebSocket event channel
	dispatcher := websock.NewDispatcher()
	ws.RegisterHealthHandler(dispatcher)
	hub := ws.NewHub(dispatcher, log)
	if err := hub.BridgeBus(eventBus); err != nil {
		log.Fatal("Failed to bridge event bus", zap.Error(err))
	}
	go hub.Run(ctx)
	wsHandler := ws.NewHandler(hub, log)
	router.GET("/ws", wsHandler.HandleConnection)

	// 16. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WebPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 17. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 18. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down AgentMux server...")

	// 19. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	for _, w := range watchers {
		w.Stop()
	}
	monitor.Stop()
	sched.Stop()

	log.Info("AgentMux server stopped")
}
