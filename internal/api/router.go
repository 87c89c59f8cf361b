package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nexpostgres/nexpostgres/internal/api/handlers"
	"github.com/nexpostgres/nexpostgres/internal/services"
	"github.com/nexpostgres/nexpostgres/internal/websocket"
)

// Services bundles everything the router wires into handlers.
type Services struct {
	Server   services.ServerServiceProvider
	Database services.DatabaseServiceProvider
	S3       services.S3ServiceProvider
	Backup   services.BackupServiceProvider
	Restore  services.RestoreServiceProvider
	Event    services.EventServiceProvider
}

// NewRouter creates and configures a new Chi router.
func NewRouter(hub *websocket.Hub, svcs Services) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration for development
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"}, // Adjust for your frontend URL
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	serverHandler := handlers.NewServerHandler(svcs.Server)
	databaseHandler := handlers.NewDatabaseHandler(svcs.Database)
	s3Handler := handlers.NewS3Handler(svcs.S3)
	backupHandler := handlers.NewBackupHandler(svcs.Backup)
	restoreHandler := handlers.NewRestoreHandler(svcs.Restore)
	eventHandler := handlers.NewEventHandler(svcs.Event)
	wsHandler := handlers.NewWebSocketHandler(hub)

	// API versioning
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket connection endpoint
		r.Get("/ws", wsHandler.Serve)

		r.Get("/events", eventHandler.GetRecent)

		r.Route("/servers", func(r chi.Router) {
			r.Get("/", serverHandler.GetAll)
			r.Post("/", serverHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", serverHandler.Get)
				r.Put("/", serverHandler.Update)
				r.Delete("/", serverHandler.Delete)
				r.Post("/test", serverHandler.TestConnection)
				r.Post("/initialize", serverHandler.Initialize)
				r.Get("/version", serverHandler.GetVersion)
			})
			r.Post("/{serverId}/databases/sync", databaseHandler.Sync)
		})

		r.Route("/databases", func(r chi.Router) {
			r.Get("/", databaseHandler.GetAll)
			r.Post("/", databaseHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", databaseHandler.Get)
				r.Delete("/", databaseHandler.Delete)
				r.Get("/users", databaseHandler.GetUsers)
				r.Post("/users", databaseHandler.CreateUser)
				r.Delete("/users/{userId}", databaseHandler.DeleteUser)
				r.Get("/permissions", databaseHandler.GetPermissions)
				r.Put("/permissions", databaseHandler.SetPermissions)
				r.Post("/restore", restoreHandler.Start)
				r.Get("/restore/logs", restoreHandler.GetLogs)
			})
		})
		r.Get("/restores/{logId}", restoreHandler.GetLog)

		r.Route("/s3-targets", func(r chi.Router) {
			r.Get("/", s3Handler.GetAll)
			r.Post("/", s3Handler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s3Handler.Get)
				r.Put("/", s3Handler.Update)
				r.Delete("/", s3Handler.Delete)
				r.Post("/test", s3Handler.Test)
			})
		})

		r.Route("/backup-jobs", func(r chi.Router) {
			r.Get("/", backupHandler.GetAll)
			r.Post("/", backupHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", backupHandler.Get)
				r.Put("/", backupHandler.Update)
				r.Delete("/", backupHandler.Delete)
				r.Post("/enabled", backupHandler.SetEnabled)
				r.Post("/run", backupHandler.Run)
				r.Get("/logs", backupHandler.GetLogs)
				r.Get("/backups", backupHandler.ListRemote)
				r.Get("/health", backupHandler.Health)
			})
		})
		r.Get("/backup-logs/{logId}", backupHandler.GetLog)
	})

	return r
}
