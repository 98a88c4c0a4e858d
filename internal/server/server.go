package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/petgo/apiserver/config"
	"github.com/petgo/apiserver/internal/db"
	"github.com/petgo/apiserver/internal/handlers"
	"github.com/petgo/apiserver/internal/moderation"
	"github.com/petgo/apiserver/internal/mq"
	"github.com/petgo/apiserver/internal/services"
	"github.com/petgo/apiserver/internal/storage"
	"github.com/petgo/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     *mq.MQ
}

// New constructs a Server with all dependencies injected: database,
// repositories, photo storage, moderation analyzer and optional event
// broker. Nothing is process-global.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	uploads, err := newUploadStorage(ctx, cfg.Uploads)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if err := uploads.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	analyzer, err := moderation.NewVisionAnalyzer(ctx, cfg.Vision)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	broker, events, err := newEventPublisher(ctx, cfg.Events)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	animalRepo := store.NewAnimalRepository(dbConn)

	userService := services.NewUserService(userRepo)
	animalService := services.NewAnimalService(animalRepo)

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.NotFound(handlers.NotFound)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, jwtSecret, authMiddleware)
	})
	router.Route("/animals", func(r chi.Router) {
		handlers.AnimalRouter(r, animalService, uploads, analyzer, events)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		broker:     broker,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.broker != nil {
		_ = s.broker.Close()
	}
	return s.httpServer.Close()
}

func newUploadStorage(ctx context.Context, cfg config.UploadsConfig) (*storage.Storage, error) {
	switch cfg.Backend {
	case "", "local":
		backend, err := storage.NewLocalClient(cfg.Local)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	case "minio":
		backend, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	case "gcs":
		backend, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	default:
		return nil, fmt.Errorf("unknown uploads backend %q", cfg.Backend)
	}
}

// newEventPublisher builds the registry-event publisher. Events are
// optional; with no backend configured both return values are nil.
func newEventPublisher(ctx context.Context, cfg config.EventsConfig) (*mq.MQ, *mq.EventPublisher, error) {
	var backend mq.Backend
	switch cfg.Backend {
	case "":
		return nil, nil, nil
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, nil, err
		}
		backend = client
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, nil, err
		}
		backend = client
	default:
		return nil, nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}

	broker := mq.New(backend)
	return broker, mq.NewEventPublisher(broker, cfg.Channel), nil
}
