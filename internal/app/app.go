package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/motionlabs/meterd/internal/adapter/dedup"
	memorystore "github.com/motionlabs/meterd/internal/adapter/store/memory"
	postgresstore "github.com/motionlabs/meterd/internal/adapter/store/postgres"
	sheetstore "github.com/motionlabs/meterd/internal/adapter/store/sheet"
	"github.com/motionlabs/meterd/internal/module/generation"
	"github.com/motionlabs/meterd/internal/module/ledger"
	"github.com/motionlabs/meterd/internal/module/notify"
	"github.com/motionlabs/meterd/internal/shared/cache"
	"github.com/motionlabs/meterd/internal/shared/config"
	"github.com/motionlabs/meterd/internal/shared/database"
	"github.com/motionlabs/meterd/internal/shared/logger"
	"github.com/motionlabs/meterd/internal/utils/metrics"
	"github.com/motionlabs/meterd/internal/utils/middleware"
)

// App wires the ledger service to its store, sinks and HTTP surface.
type App struct {
	config *config.Config
	db     *gorm.DB
	redis  goredis.UniversalClient
	router *gin.Engine
	logger *zap.Logger

	cleanupFuncs []func()
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{config: cfg, logger: log}

	store, err := app.initStore()
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	// Redis is optional; without it webhook dedup falls back to memory.
	if cfg.Redis.Address != "" {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("Redis connection failed, continuing without it", zap.Error(err))
		} else {
			app.redis = redisClient
			app.cleanupFuncs = append(app.cleanupFuncs, func() { _ = cache.Close(redisClient) })
		}
	}

	var eventDedup ledger.EventDedup
	if app.redis != nil {
		eventDedup = dedup.NewRedis(app.redis, cfg.Ledger.EventTTL)
	} else {
		eventDedup = dedup.NewMemory()
	}

	var notifier ledger.Notifier
	if n := notify.New(notify.Config{
		WebhookURL: cfg.Notify.WebhookURL,
		Timeout:    cfg.Notify.Timeout,
	}, log); n != nil {
		notifier = n
	}

	m := metrics.New("meterd")
	service := ledger.NewService(store, notifier, m, cfg.Ledger.UpgradeURL, log)

	app.router = app.setupRouter(m)
	app.registerRoutes(service, eventDedup)

	return app, nil
}

// initStore builds the configured account store backend.
func (a *App) initStore() (ledger.Store, error) {
	switch a.config.Ledger.Store {
	case "memory":
		a.logger.Info("using in-memory account store")
		return memorystore.New(), nil
	case "sheet":
		a.logger.Info("using spreadsheet account store",
			zap.String("path", a.config.Ledger.SheetPath),
		)
		store, err := sheetstore.Open(a.config.Ledger.SheetPath)
		if err != nil {
			return nil, err
		}
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = store.Close() })
		return store, nil
	case "postgres", "":
		db, err := database.New(&a.config.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		a.db = db
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = database.Close(db) })
		return postgresstore.New(db)
	default:
		return nil, fmt.Errorf("unknown store backend %q", a.config.Ledger.Store)
	}
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter(m *metrics.Metrics) *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// registerRoutes mounts the module handlers.
func (a *App) registerRoutes(service ledger.ServiceInterface, eventDedup ledger.EventDedup) {
	api := a.router.Group("/api/v1")
	ledger.NewHandler(service, a.config.Ledger.UpgradeURL).RegisterRoutes(api)
	generation.NewHandler(service, a.config.Ledger.UpgradeURL, a.logger).RegisterRoutes(api)

	webhooks := a.router.Group("/webhooks")
	ledger.NewWebhookHandler(service, eventDedup, a.config.Stripe.WebhookSecret, a.logger).
		RegisterRoutes(webhooks)
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop runs all cleanup functions in reverse order.
func (a *App) Stop() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	_ = a.logger.Sync()
}
