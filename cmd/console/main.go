package main

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-admin/internal/config"
	"shop-admin/internal/credstore"
	"shop-admin/internal/domain"
	"shop-admin/internal/gateway"
	"shop-admin/internal/guard"
	"shop-admin/internal/handler"
	"shop-admin/internal/messaging"
	"shop-admin/internal/middleware"
	"shop-admin/internal/observability"
	"shop-admin/internal/security"
	"shop-admin/internal/service"
	"shop-admin/internal/session"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

func main() {
	cfg := config.Load()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting shop admin console",
		slog.String("environment", cfg.Environment),
		slog.String("credential_store", cfg.CredentialStore))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *sql.DB
	if cfg.CredentialStore == config.StorePostgres {
		var err error
		db, err = config.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("connected to postgresql")
	}

	store, err := credstore.New(ctx, cfg, db)
	if err != nil {
		slog.Error("failed to open credential store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if closer, ok := store.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				slog.Error("failed to close credential store", slog.String("error", err.Error()))
			}
		}()
	}

	machine := session.NewMachine(store)
	nav := guard.NewNavigator(guard.LocationHome)
	routeGuard := guard.New(machine, nav)
	defer routeGuard.Close()

	gw := gateway.New(cfg.APIBaseURL, store, gateway.WithTimeout(cfg.APITimeout))

	authService := service.NewAuthService(machine, gw, store, nav,
		service.WithLoginLimiter(rate.NewLimiter(rate.Limit(cfg.LoginRatePerMinute/60), cfg.LoginBurst)))
	gw.OnExpired(authService.Expire)
	dashboardService := service.NewDashboardService(gw, authService)

	rmq := connectEvents(ctx, cfg, machine)
	if rmq != nil {
		defer rmq.Close()
	}

	csrfTokens, err := security.NewTokenManager()
	if err != nil {
		slog.Error("failed to create csrf token", slog.String("error", err.Error()))
		os.Exit(1)
	}
	csrfTokens.Attach(machine)

	go authService.Restore(ctx)

	pages, err := handler.NewPages()
	if err != nil {
		slog.Error("failed to load pages", slog.String("error", err.Error()))
		os.Exit(1)
	}

	authHandler := handler.NewAuthHandler(authService, machine, pages)
	dashboardHandler := handler.NewDashboardHandler(dashboardService, pages)

	loginLimiter := middleware.NewRateLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst)
	defer loginLimiter.Stop()

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestContext())
	r.Use(middleware.Metrics())

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(cfg.APIBaseURL, &http.Client{Timeout: 3 * time.Second}, pinger(store), rmq))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/session", handler.Session(machine, nav))

	r.Group(func(r chi.Router) {
		r.Use(middleware.CSRF(csrfTokens))
		r.Use(middleware.Guard(machine, nav, pages.Loading()))

		r.Get("/", dashboardHandler.Show)
		r.Get("/login", authHandler.LoginPage)
		r.With(loginLimiter.Middleware()).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.APITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("console listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down console")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()

	slog.Info("console stopped gracefully")
}

// connectEvents starts publishing session events when RABBITMQ_URL is set. The
// console keeps running without the audit trail if the broker is unreachable.
func connectEvents(ctx context.Context, cfg *config.Config, machine *session.Machine) *messaging.RabbitMQ {
	if cfg.RabbitMQURL == "" {
		slog.Info("session event publishing disabled")
		return nil
	}

	rmqCtx, rmqCancel := context.WithTimeout(ctx, 30*time.Second)
	defer rmqCancel()

	rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
	if err != nil {
		slog.Warn("session event publishing unavailable", slog.String("error", err.Error()))
		return nil
	}

	publisher := messaging.NewEventPublisher(rmq, cfg.CredentialNamespace)
	publisher.Attach(machine)

	go func() {
		if err := publisher.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("session event publisher error", slog.String("error", err.Error()))
		}
	}()
	slog.Info("session event publisher started")

	return rmq
}

type noopPinger struct{}

func (noopPinger) Ping(ctx context.Context) error { return nil }

func pinger(store domain.CredentialStore) handler.Pinger {
	if p, ok := store.(handler.Pinger); ok {
		return p
	}
	return noopPinger{}
}
