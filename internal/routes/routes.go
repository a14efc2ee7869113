package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/onlinewallet/onlinewallet/internal/config"
	"github.com/onlinewallet/onlinewallet/internal/ledger"
	"github.com/onlinewallet/onlinewallet/internal/middleware"
	"github.com/onlinewallet/onlinewallet/internal/notification"
	"github.com/onlinewallet/onlinewallet/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	Store    ledger.Store
	Cache    *redis.Client
	Logger   *slog.Logger
	Registry *prometheus.Registry
	// Notifiers are informed of appended entries in addition to the log.
	Notifiers []notification.Notifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repo, err := ledger.NewRepository(ctx, d.Store)
	if err != nil {
		return fmt.Errorf("entry store: %w", err)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in the format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Idempotency(middleware.IdempotencyConfig{
		Cache:    d.Cache,
		TTL:      d.Cfg.IdempotencyTTL,
		Logger:   d.Logger,
		Required: d.Cfg.IdempotencyRequired,
	}))

	RegisterHealthRoutes(app, repo, d.Cache)
	if d.Registry != nil {
		RegisterMetricsRoute(app, d.Registry)
	}

	notifiers := notification.Multi{notification.NewLoggerNotifier(d.Logger)}
	if d.Cache != nil && d.Cfg.NotifyRedisChannel != "" {
		notifiers = append(notifiers, notification.NewRedisNotifier(d.Cache, d.Cfg.NotifyRedisChannel))
	}
	notifiers = append(notifiers, d.Notifiers...)

	var metrics *wallet.Metrics
	if d.Registry != nil {
		metrics = wallet.NewMetrics(d.Registry)
	}

	walletSvc, err := wallet.NewService(repo,
		wallet.WithLockMode(d.Cfg.LockMode),
		wallet.WithNotifier(notifiers),
		wallet.WithMetrics(metrics),
		wallet.WithLogger(d.Logger),
	)
	if err != nil {
		return err
	}
	d.Logger.Info("wallet service ready", slog.String("lock_mode", string(walletSvc.LockMode())))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(app, wallet.NewHandler(walletSvc))
	return nil
}
