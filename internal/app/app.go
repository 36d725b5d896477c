// Package app wires the checkout service together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-checkout/internal/domain/auth"
	"github.com/xenking/kitchen-checkout/internal/domain/discount"
	"github.com/xenking/kitchen-checkout/internal/domain/loyalty"
	"github.com/xenking/kitchen-checkout/internal/domain/order"
	"github.com/xenking/kitchen-checkout/internal/domain/tax"
	"github.com/xenking/kitchen-checkout/internal/events"
	"github.com/xenking/kitchen-checkout/internal/handler"
	"github.com/xenking/kitchen-checkout/internal/storage/memory"
	"github.com/xenking/kitchen-checkout/internal/storage/postgres"
	redisstore "github.com/xenking/kitchen-checkout/internal/storage/redis"
	"github.com/xenking/kitchen-checkout/pkg/health"
	"github.com/xenking/kitchen-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	var drafts order.DraftStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(client))
		drafts = redisstore.NewDraftStore(client, cfg.Drafts.TTL)
		lg.Info("Drafts stored in Redis", zap.String("redis", cfg.Redis.Addr))
	} else {
		drafts = memory.NewDraftStore(cfg.Drafts.TTL)
		lg.Warn("Drafts stored in memory; they are lost on restart")
	}

	var publisher order.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		defer func() {
			if err := kp.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		}()
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.KafkaCheck(cfg.Kafka.Brokers))
		publisher = kp
	}

	// Repositories.
	menuRepo := postgres.NewMenuRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	taxRepo := postgres.NewTaxRepository(pool)
	loyaltyRepo := postgres.NewLoyaltyRepository(pool)
	orderStore := postgres.NewOrderStore(pool)

	// Domain services.
	rate, err := cfg.Pricing.LoyaltyRate()
	if err != nil {
		return err
	}
	orderService, err := order.NewService(order.Deps{
		Catalog:   menuRepo,
		Discounts: discount.NewRepoValidator(discountRepo),
		Taxes:     tax.NewCalculator(taxRepo),
		Loyalty:   loyalty.NewService(loyaltyRepo),
		Drafts:    drafts,
		Orders:    orderStore,
		Events:    publisher,
	}, order.Options{
		LoyaltyRate:     rate,
		DefaultCategory: cfg.Pricing.DefaultCategory,
		StaleAfter:      cfg.Drafts.StaleAfter,
		MeterProvider:   m.MeterProvider(),
		TracerProvider:  m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	tokens, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return errors.Wrap(err, "create token verifier")
	}
	h := handler.NewHandler(orderService, menuRepo, tokens)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.Instrument("kitchen-api", m),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
