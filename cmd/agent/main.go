package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waregrid/picksync/internal/agent"
	"github.com/waregrid/picksync/internal/config"
	"github.com/waregrid/picksync/internal/database"
	"github.com/waregrid/picksync/internal/handlers"
	"github.com/waregrid/picksync/internal/remote"
	"github.com/waregrid/picksync/internal/store"
	syncengine "github.com/waregrid/picksync/internal/sync"
	"github.com/waregrid/picksync/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	st := store.NewStore(db)
	if err := st.Migrate(); err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Remote client and connectivity monitoring
	syncCfg := config.LoadSyncConfig()

	api := remote.NewClient(cfg.Remote.BaseURL, cfg.DeviceID, cfg.JWTSecret,
		time.Duration(cfg.Remote.TimeoutSec)*time.Second)

	routes := []syncengine.RouteConfig{
		{URL: cfg.Remote.BaseURL, Type: syncengine.RouteTypePrimary, Timeout: cfg.Remote.TimeoutSec, Priority: 0},
	}
	if cfg.Remote.FallbackURL != "" {
		routes = append(routes, syncengine.RouteConfig{
			URL: cfg.Remote.FallbackURL, Type: syncengine.RouteTypeFallback, Timeout: cfg.Remote.TimeoutSec, Priority: 1,
		})
	}
	conn := syncengine.NewConnectionManager(routes, time.Duration(syncCfg.HealthCheckInterval)*time.Second)

	// 5. Event stream for the UI shell
	hub := websocket.NewHub()
	go hub.Run()

	// 6. Sync engine and background scheduler
	engine := syncengine.NewEngine(st, api, conn, syncCfg, hub)

	conn.OnTransition(func(online bool) {
		if err := st.SetOnline(online); err != nil {
			log.Printf("⚠️ Failed to persist online flag: %v", err)
		}
		hub.Publish(syncengine.Event{
			Type:    syncengine.EventOnlineStatus,
			Payload: map[string]bool{"online": online},
		})
		if route := conn.CurrentRoute(); online && route != "offline" {
			api.SetBaseURL(route)
		}
	})
	conn.Start()

	scheduler := syncengine.NewScheduler(engine, st, conn, syncCfg)

	if syncCfg.Enabled {
		if err := engine.Start(); err != nil {
			log.Printf("⚠️ Sync Engine: Failed to start: %v", err)
		} else {
			log.Println("✅ Sync Engine: Started successfully")
		}
		if syncCfg.AutoSyncEnabled {
			scheduler.Start()
		}
	}

	// 7. Agent facade and HTTP router
	a := agent.New(st, engine, conn, api)
	router := handlers.NewRouter(a, hub)

	// 8. Start server with graceful shutdown
	port := cfg.Port
	if envPort := os.Getenv("PORT"); envPort != "" {
		port = envPort
	}

	server := &http.Server{
		Addr:    "127.0.0.1:" + port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Agent for device %s starting on port %s\n", cfg.DeviceID, port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop background loops
	scheduler.Stop()
	engine.Stop()
	conn.Stop()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
