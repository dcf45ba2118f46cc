package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Kusama13/qarte-saas-sub002/internal/cache"
	"github.com/Kusama13/qarte-saas-sub002/internal/config"
	"github.com/Kusama13/qarte-saas-sub002/internal/database"
	"github.com/Kusama13/qarte-saas-sub002/internal/handler"
	"github.com/Kusama13/qarte-saas-sub002/internal/logger"
	"github.com/Kusama13/qarte-saas-sub002/internal/middleware"
	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/queue"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository/memory"
	"github.com/Kusama13/qarte-saas-sub002/internal/router"
	"github.com/Kusama13/qarte-saas-sub002/internal/service"
)

var errNoBroker = errors.New("no message broker configured")

type repos struct {
	visits    repository.VisitRepository
	cards     repository.LoyaltyCardRepository
	merchants repository.MerchantRepository
	logs      repository.AutomationLogRepository
	close     func() error
}

func main() {
	_ = godotenv.Load() // .env is optional
	cfg := config.Load()

	appLogger, err := logger.New(cfg.Env, cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer appLogger.Sync()

	store, err := openStorage(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Could not open storage", zap.String("storage", cfg.Storage), zap.Error(err))
	}
	defer store.close()

	// Redis backs the card and sweep locks and the rate limiter.  Without it
	// only a single instance may run.
	var locker, sweepLocker service.Locker
	rdb, err := config.NewRedisClient()
	switch {
	case err != nil:
		appLogger.Warn("Redis unavailable, using in-process locks", zap.Error(err))
		locker = service.NewKeyedMutex()
		sweepLocker = locker
	case rdb == nil:
		appLogger.Info("Redis disabled, using in-process locks")
		locker = service.NewKeyedMutex()
		sweepLocker = locker
	default:
		defer rdb.Close()
		locker = cache.NewRedisLocker(rdb, cfg.Moderation.LockTTL, 25*time.Millisecond, appLogger)
		sweepLocker = cache.NewRedisLocker(rdb, cfg.Automation.LockTTL, 100*time.Millisecond, appLogger).WithRenewal()
		appLogger.Info("Connected to Redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events service.EventPublisher
	var notifier service.Notifier = service.NotifierFunc(func(context.Context, service.Notification) error {
		return errNoBroker
	})
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, appLogger, queue.WithDialTimeout(cfg.AMQPDial))
		defer pub.Close()
		events = pub
		notifier = service.NewBrokerNotifier(pub)

		audit := queue.NewAuditConsumer(cfg.AMQPURL, appLogger)
		go func() {
			if err := audit.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	} else {
		appLogger.Warn("AMQP_URL not set, moderation events and automation delivery are disabled")
	}

	ledger := service.NewLedger(store.cards, locker, appLogger)
	visits := service.NewVisitService(store.visits, store.cards, store.merchants, ledger, locker, events, appLogger, service.VisitOptions{
		MaxBulk:         cfg.Moderation.BulkMaxVisits,
		WriteTimeout:    cfg.Moderation.WriteTimeout,
		QueueLimit:      cfg.Moderation.QueueLimit,
		DefaultDailyCap: cfg.Moderation.DefaultDailyCap,
	})
	cards := service.NewCardService(store.cards, store.merchants, locker, appLogger)
	authz := service.NewAuthorizer(store.merchants)
	scheduler := service.NewAutomationScheduler(store.merchants, store.cards, store.logs, notifier, sweepLocker, service.AutomationConfig{
		InactiveAfterDays:   cfg.Automation.InactiveAfterDays,
		RewardWaitDays:      cfg.Automation.RewardWaitDays,
		RewardDedupWindow:   cfg.Automation.RewardDedupWindow,
		LogRetention:        cfg.Automation.LogRetention,
		MerchantConcurrency: cfg.Automation.MerchantConcurrency,
	}, appLogger, nil)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(requestLogger(appLogger))

	router.RegisterRoutes(e)
	router.RegisterMerchant(e,
		handler.NewVisitHandler(visits, authz, appLogger),
		handler.NewCardHandler(cards, authz, appLogger),
		cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, appLogger),
	)
	router.RegisterInternal(e, handler.NewAutomationHandler(scheduler, appLogger), cfg.CronSecretHash)

	addr := ":" + cfg.Port
	go func() {
		appLogger.Info("Starting HTTP server", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("storage", cfg.Storage))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("failed to serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), cfg.Moderation.WriteTimeout+5*time.Second)
	defer scancel()
	if err := e.Shutdown(sctx); err != nil {
		appLogger.Error("shutdown", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func openStorage(cfg config.Config, log *zap.Logger) (repos, error) {
	if cfg.Storage == "memory" {
		st := memory.New()
		seedDevMerchant(st, log)
		return repos{
			visits:    st.Visits(),
			cards:     st.Cards(),
			merchants: st.Merchants(),
			logs:      st.AutomationLogs(),
			close:     func() error { return nil },
		}, nil
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return repos{}, err
	}
	if cfg.DBAutoMigrate {
		mctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := database.EnsureSchema(mctx, db); err != nil {
			_ = db.Close()
			return repos{}, err
		}
	}
	log.Info("Connected to MySQL database", zap.String("db_name", cfg.DBName))
	return repos{
		visits:    repository.NewVisitRepo(db),
		cards:     repository.NewLoyaltyCardRepo(db),
		merchants: repository.NewMerchantRepo(db),
		logs:      repository.NewAutomationLogRepo(db),
		close:     db.Close,
	}, nil
}

// seedDevMerchant registers DEV_MERCHANT_ID owned by DEV_OWNER_ID so the
// memory mode can be exercised without a merchant service.
func seedDevMerchant(st *memory.Store, log *zap.Logger) {
	id, owner := os.Getenv("DEV_MERCHANT_ID"), os.Getenv("DEV_OWNER_ID")
	if id == "" || owner == "" {
		return
	}
	st.PutMerchant(model.Merchant{
		ID:                      id,
		OwnerUserID:             owner,
		StampsRequired:          10,
		DailyVisitCap:           1,
		Timezone:                "UTC",
		InactiveReminderEnabled: true,
		RewardReminderEnabled:   true,
	})
	log.Info("Seeded development merchant", zap.String("merchant_id", id))
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.Info("request", fields...)
			return nil
		},
	})
}
