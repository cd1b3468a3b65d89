// Package main запускает HTTP-сервер сервиса возмещения расходов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/expenses-system/internal/auth"
	"github.com/mmeshcher/expenses-system/internal/config"
	"github.com/mmeshcher/expenses-system/internal/handler"
	"github.com/mmeshcher/expenses-system/internal/metrics"
	"github.com/mmeshcher/expenses-system/internal/middleware"
	"github.com/mmeshcher/expenses-system/internal/repository"
	"github.com/mmeshcher/expenses-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	svc := service.NewService(repo, collector)
	defer svc.Close()

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	// Лимит на эндпоинты аутентификации: 10 запросов в минуту с адреса.
	loginLimiter := middleware.NewRateLimiter(rate.Limit(10.0/60.0), 10)
	defer loginLimiter.Stop()

	h := handler.NewHandler(svc, tokens, logger, authMiddleware)

	r := h.SetupRouter(handler.RouterOptions{
		Collector:    collector,
		Gatherer:     registry,
		LoginLimiter: loginLimiter,
	})

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting expenses server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
