package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sweetcrumb/accounts/config"
	"github.com/sweetcrumb/accounts/internal/auth"
	"github.com/sweetcrumb/accounts/internal/db"
	"github.com/sweetcrumb/accounts/internal/handlers"
	"github.com/sweetcrumb/accounts/internal/logger"
	"github.com/sweetcrumb/accounts/internal/mq"
	"github.com/sweetcrumb/accounts/internal/notify"
	"github.com/sweetcrumb/accounts/internal/services"
	"github.com/sweetcrumb/accounts/internal/storage"
	"github.com/sweetcrumb/accounts/internal/store"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	MailDriverLog   = "log"
	MailDriverSMTP  = "smtp"
	MailDriverQueue = "queue"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}

	s := &Server{}
	repo, err := s.openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	notifier, err := s.openNotifier(ctx, cfg)
	if err != nil {
		s.closeDeps()
		return nil, err
	}

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		s.closeDeps()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	var pics *storage.ProfilePics
	if objects != nil {
		pics = storage.NewProfilePics(objects)
	}

	authService := services.NewAuthService(
		repo,
		auth.NewHasher(cfg.Auth.BcryptCost),
		tokens,
		auth.NewOTPGenerator(nil, nil),
		notifier,
	)

	s.router = NewRouter(authService, pics, handlers.NewClientRateLimiter(cfg.Auth.OTPRateLimit))

	port := cfg.ServerPort
	if port == 0 {
		port = 7000
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("server configured",
		"port", port,
		"store", cfg.Database.Driver,
		"mail", cfg.Mail.Driver,
		"uploads", pics != nil,
	)
	return s, nil
}

// NewRouter builds the HTTP routes around an AuthService. pics and
// otpLimiter may be nil.
func NewRouter(
	authService *services.AuthService,
	pics *storage.ProfilePics,
	otpLimiter *handlers.ClientRateLimiter,
) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, pics, otpLimiter.Middleware())
	})
	router.Route(strings.TrimSuffix(storage.URLPrefix, "/"), func(r chi.Router) {
		handlers.UploadsRouter(r, pics)
	})
	return router
}

// requestLogger stores a logger tagged with the request id in the
// request context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.L.With(slog.String("request_id", middleware.GetReqID(ctx)))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx, log)))
	})
}

func (s *Server) openStore(ctx context.Context, cfg config.DatabaseConfig) (services.AccountRepository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case StoreDriverMemory:
		logger.L.Warn("using in-memory account store; accounts are lost on restart")
		return store.NewMemoryAccountRepository(), nil
	case StoreDriverPostgres, "":
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		s.db = conn
		return store.NewAccountRepository(conn), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (s *Server) openNotifier(ctx context.Context, cfg config.Config) (services.Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mail.Driver)) {
	case MailDriverLog, "":
		return notify.NewLogMailer(logger.L), nil
	case MailDriverSMTP:
		return notify.NewSMTPMailer(cfg.Mail)
	case MailDriverQueue:
		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return nil, fmt.Errorf("open message queue: %w", err)
		}
		s.mq = queue
		return notify.NewQueueMailer(queue, cfg.Mail.Queue)
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Mail.Driver)
	}
}

func (s *Server) closeDeps() {
	if s.mq != nil {
		_ = s.mq.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	logger.L.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases the store and queue.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeDeps()
	return err
}
