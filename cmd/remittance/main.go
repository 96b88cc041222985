// Package main запускает HTTP-сервер сервиса переводов.
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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/remittance-ledger/internal/config"
	"github.com/mmeshcher/remittance-ledger/internal/handler"
	"github.com/mmeshcher/remittance-ledger/internal/metrics"
	"github.com/mmeshcher/remittance-ledger/internal/middleware"
	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/notify"
	"github.com/mmeshcher/remittance-ledger/internal/pricing"
	"github.com/mmeshcher/remittance-ledger/internal/rates"
	"github.com/mmeshcher/remittance-ledger/internal/ratesource"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
	"github.com/mmeshcher/remittance-ledger/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	pairs, err := cfg.Pairs()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var store repository.Store
	if cfg.DatabaseURI != "" {
		store, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory store")
		store = repository.NewMemoryRepository()
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var cache rates.Cache = rates.NewMemoryCache(cfg.RateCacheTTL)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		cache = rates.NewRedisCache(client, "remittance:", cfg.RateCacheTTL, logger)
	}

	resolver := rates.NewResolver(store, cfg.FallbackMultipliers(),
		rates.WithCache(cache),
		rates.WithMetrics(m),
		rates.WithLogger(logger),
	)

	var providers []rates.Provider
	if cfg.RatePrimaryURL != "" {
		providers = append(providers, ratesource.NewClient(cfg.RatePrimaryURL, model.RateSourcePrimary))
	}
	if cfg.RateSecondaryURL != "" {
		providers = append(providers, ratesource.NewClient(cfg.RateSecondaryURL, model.RateSourceSecondary))
	}
	updater := rates.NewUpdater(store, resolver, providers, m, logger)

	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher, err = notify.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		if err != nil {
			sugar.Fatalw("kafka publisher initialization error", "error", err.Error())
		}
	}
	defer publisher.Close()
	dispatcher := notify.NewDispatcher(publisher, cfg.NotifyBuffer, logger, m)

	calc := pricing.NewCalculator(pricing.Config{
		LocalDiscountPerUnit:   cfg.LocalDiscountPerUnit,
		HardCurrencyFeePercent: cfg.HardCurrencyFeePercent,
	})

	svc := service.NewService(store, resolver, calc,
		service.WithRateUpdater(updater),
		service.WithNotifier(dispatcher),
		service.WithMetrics(m),
		service.WithLogger(logger),
	)

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, tokens are signed with a random key and die with the process")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware,
		handler.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Обновление курсов по расписанию
	g.Go(func() error {
		return updater.Run(ctx, pairs, cfg.RateRefreshInterval)
	})

	// Публикация уведомлений
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting remittance server", "addr", cfg.RunAddress)
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
