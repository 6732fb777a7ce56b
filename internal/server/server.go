package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/useraccounts/apiserver/config"
	"github.com/useraccounts/apiserver/internal/auth"
	"github.com/useraccounts/apiserver/internal/db"
	"github.com/useraccounts/apiserver/internal/handlers"
	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/mq"
	"github.com/useraccounts/apiserver/internal/services"
	"github.com/useraccounts/apiserver/internal/storage"
	"github.com/useraccounts/apiserver/internal/store"
)

const requestTimeout = 60 * time.Second

// Dependencies are the collaborators the HTTP routes are built on.
// Objects and Notifier may be nil to disable image storage and
// verification dispatch respectively.
type Dependencies struct {
	Pinger   db.Pinger
	Users    services.UserRepository
	Images   services.ImageRepository
	Objects  services.ObjectStore
	Notifier services.Notifier
	Hasher   auth.Hasher
	Tokens   *services.TokenIssuer
	Log      logging.Logger
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	log        logging.Logger
}

// New connects the configured backends and constructs a Server.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	srv := &Server{log: log}

	deps := Dependencies{Log: log}
	switch cfg.Database.Driver {
	case "memory":
		users := store.NewMemoryUserRepository()
		deps.Pinger = users
		deps.Users = users
		deps.Images = store.NewMemoryImageRepository()
		log.Warn(ctx, "using in-memory credential store; accounts are lost on restart")
	case "", "postgres":
		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		srv.db = dbConn
		deps.Pinger = dbConn
		deps.Users = store.NewUserRepository(dbConn, cfg.Timeouts.Database)
		deps.Images = store.NewImageRepository(dbConn, cfg.Timeouts.Database)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	hasher, err := auth.NewBcryptHasher(auth.DefaultCost)
	if err != nil {
		srv.close()
		return nil, err
	}
	deps.Hasher = hasher

	secret := []byte(cfg.Verification.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			srv.close()
			return nil, fmt.Errorf("generate verification secret: %w", err)
		}
		log.Warn(ctx, "VERIFICATION_SECRET not set; tokens will not survive a restart")
	}
	deps.Tokens, err = services.NewTokenIssuer(secret, cfg.Verification.TokenTTL)
	if err != nil {
		srv.close()
		return nil, err
	}

	queue, err := mq.Open(ctx, cfg)
	switch {
	case errors.Is(err, mq.ErrDisabled):
		log.Warn(ctx, "no message queue configured; verification messages are not dispatched")
	case err != nil:
		srv.close()
		return nil, fmt.Errorf("open message queue: %w", err)
	default:
		srv.queue = queue
		deps.Notifier = services.NewQueueNotifier(queue, cfg.Verification.Channel, cfg.Verification.BaseURL)
	}

	objects, err := storage.New(ctx, cfg)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Warn(ctx, "no object storage configured; profile image routes answer 503")
	case err != nil:
		srv.close()
		return nil, fmt.Errorf("open object storage: %w", err)
	default:
		if err := objects.EnsureBucket(ctx); err != nil {
			srv.close()
			return nil, fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
		}
		deps.Objects = objects
	}

	srv.router = NewRouter(cfg, deps)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// NewRouter builds the route tree. The database gate runs ahead of every
// route, so an unreachable database answers 503 on any path.
func NewRouter(cfg config.Config, deps Dependencies) *chi.Mux {
	userService := services.NewUserService(deps.Users, deps.Hasher, deps.Tokens, deps.Notifier, deps.Log, cfg.Verification.Required)
	imageService := services.NewImageService(deps.Images, deps.Objects, deps.Log, cfg.Upload.MaxImageBytes)

	authMiddleware := handlers.RequireBasicAuth(userService, deps.Log)
	limit := handlers.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst).Middleware
	userHandler := handlers.NewUserHandler(userService, deps.Log)
	imageHandler := handlers.NewImageHandler(imageService, deps.Log)

	router := chi.NewRouter()
	router.MethodNotAllowed(handlers.MethodNotAllowed)
	router.NotFound(handlers.NotFound)
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.AccessLog(deps.Log),
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		middleware.SetHeader("Cache-Control", "no-cache"),
	)
	if len(cfg.HTTP.AllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.HTTP.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	router.Use(handlers.RequireDatabase(deps.Pinger, cfg.Timeouts.Database, deps.Log))

	router.Get("/healthz", handlers.Healthz)
	router.Route("/v1/user", func(r chi.Router) {
		handlers.UserRouter(r, userHandler, authMiddleware, limit)
		r.Route("/self/pic", func(r chi.Router) {
			handlers.ImageRouter(r, imageHandler, authMiddleware, limit)
		})
	})

	return router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.log.Error(context.Background(), "close message queue", "error", err)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
