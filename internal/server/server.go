// Пакет server — HTTP-сервер CDR Core с graceful shutdown.
// Без TLS: TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/cdrcore/internal/api/handlers"
	"github.com/bigkaa/cdrcore/internal/api/middleware"
	"github.com/bigkaa/cdrcore/internal/config"
)

// Handlers — обработчики, из которых собирается маршрутизатор.
type Handlers struct {
	Health        *handlers.HealthHandler
	Translation   *handlers.TranslationHandler
	ClientRefresh *handlers.ClientRefreshHandler
	Terminology   *handlers.TerminologyHandler
	Partners      *handlers.PartnerHandler
}

// Server — HTTP-сервер CDR Core.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт сервер. auth — middleware аутентификации для /api/;
// health и metrics доступны без неё.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, auth func(http.Handler) http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(h, auth, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DBQueryTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты. auth может быть nil (тесты).
func NewRouter(h Handlers, auth func(http.Handler) http.Handler, logger *slog.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	if auth != nil {
		router.Use(withExclusions(auth, "/health/", "/metrics"))
	}

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/translation/{family}", h.Translation.Mount)
		r.Route("/client-refresh", h.ClientRefresh.Mount)
		r.Route("/concepts", h.Terminology.MountConcepts)
		r.Route("/imports", h.Terminology.MountImports)
		r.Route("/partners", h.Partners.Mount)
	})
	return router
}

// withExclusions пропускает запросы к путям с указанными префиксами без mw.
func withExclusions(mw func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ждёт SIGINT/SIGTERM или отмены ctx,
// после чего выполняет graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
