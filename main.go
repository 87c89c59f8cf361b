package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/api"
	"github.com/nexpostgres/nexpostgres/internal/config"
	"github.com/nexpostgres/nexpostgres/internal/database"
	"github.com/nexpostgres/nexpostgres/internal/logger"
	"github.com/nexpostgres/nexpostgres/internal/monitoring"
	"github.com/nexpostgres/nexpostgres/internal/services"
	"github.com/nexpostgres/nexpostgres/internal/websocket"
)

func main() {
	logger.Init()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()

	// Set up services
	opener := &services.SSHSessionOpener{
		ConnectTimeout: cfg.SSHConnectTimeout,
		CommandTimeout: cfg.SSHCommandTimeout,
	}
	locks := services.NewHostLocks()

	eventService := services.NewEventService(db, hub)
	serverService := services.NewServerService(db, opener, eventService)
	databaseService := services.NewDatabaseService(db, opener, serverService, eventService)
	s3Service := services.NewS3Service(db, eventService)
	backupService := services.NewBackupService(db, opener, serverService, databaseService, s3Service, eventService, locks)
	restoreService := services.NewRestoreService(db, opener, serverService, databaseService, backupService, s3Service, eventService, locks)

	// Set up and run the background scheduler
	scheduler := monitoring.NewScheduler(backupService, eventService, cfg.SchedulerInterval)
	go scheduler.Run()

	// Set up and run the background health updater
	healthUpdater := monitoring.NewHealthUpdater(backupService, eventService, hub, 15*time.Minute)
	go healthUpdater.Run()

	// Set up router
	router := api.NewRouter(hub, api.Services{
		Server:   serverService,
		Database: databaseService,
		S3:       s3Service,
		Backup:   backupService,
		Restore:  restoreService,
		Event:    eventService,
	})

	// Set up server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("Server starting")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	healthUpdater.Stop()
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}
