// cmd/inventory-service/main.go
package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"stocknexus/internal/pkg/bootstrap"
	"stocknexus/internal/pkg/logger"
	"stocknexus/internal/pkg/mq"
	pkgredis "stocknexus/internal/pkg/redis"
	"stocknexus/internal/pkg/resilience"
	"stocknexus/internal/service/inventory/application"
	"stocknexus/internal/service/inventory/infrastructure"
	"stocknexus/internal/service/inventory/infrastructure/policy"
	"stocknexus/internal/service/inventory/interfaces"
)

const serviceName = "inventory-service"

func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()
	logger.Init(serviceName, cfg.Service.LogLevel)

	// MySQL
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mysql")
	}
	if err := db.AutoMigrate(
		&infrastructure.LedgerModel{},
		&infrastructure.ReservationModel{},
		&infrastructure.TransferModel{},
		&infrastructure.TransactionModel{},
		&infrastructure.StoreModel{},
		&infrastructure.ProductModel{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database schema")
	}

	// Redis: 缓存 + 默认锁后端
	redisClient, err := pkgredis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	var locks resilience.LockManager
	switch cfg.Lock.Backend {
	case "zookeeper":
		zkLocks, err := infrastructure.NewZkLockManager(cfg.Zookeeper.Servers, cfg.Zookeeper.SessionTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to zookeeper")
		}
		defer zkLocks.Close()
		locks = zkLocks
	default:
		locks, err = infrastructure.NewRedisLockManager(redisClient)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis lock manager")
		}
	}

	guard := resilience.NewGuard(locks, resilience.Config{
		LockWait:            cfg.Lock.WaitTimeout,
		LockLease:           cfg.Lock.LeaseTime,
		MaxAttempts:         cfg.Retry.MaxAttempts,
		RetryInterval:       cfg.Retry.Interval,
		ExponentialBackoff:  cfg.Retry.Exponential,
		BreakerFailureRatio: cfg.Breaker.FailureRatio,
		BreakerMinRequests:  cfg.Breaker.MinRequests,
		BreakerResetTimeout: cfg.Breaker.ResetTimeout,
		Retryable:           application.Retryable,
	})

	// Kafka
	writer := mq.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.EventTopic)
	publisher := infrastructure.NewKafkaEventPublisher(writer)

	// 调整策略
	adjustmentPolicy, err := policy.FromExpression(cfg.Policy.AdjustmentRule)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid adjustment policy expression")
	}

	txManager := infrastructure.NewGormTxManager(db)
	ledgers := infrastructure.NewGormLedgerRepository(db)
	reservations := infrastructure.NewGormReservationRepository(db)
	transfers := infrastructure.NewGormTransferRepository(db)
	transactions := infrastructure.NewGormTransactionRepository(db)
	stores := infrastructure.NewGormStoreRepository(db)
	products := infrastructure.NewGormProductRepository(db)
	cache := infrastructure.NewRedisCache(redisClient)

	// 组合根：三个应用服务共享同一条防护链与事务管理器
	core := struct {
		Inventory   *application.InventoryService
		Reservation *application.ReservationService
		Transfer    *application.TransferService
	}{
		Inventory: application.NewInventoryService(
			guard, txManager, ledgers, stores, products, transactions,
			publisher, cache, adjustmentPolicy,
			cfg.Cache.AvailabilityTTL, cfg.Cache.LowStockThreshold,
		),
		Reservation: application.NewReservationService(
			guard, txManager, ledgers, reservations, transactions, publisher,
		),
		Transfer: application.NewTransferService(
			guard, txManager, transfers, ledgers, stores, products, transactions, publisher,
		),
	}
	log.Info().
		Str("lock_backend", cfg.Lock.Backend).
		Str("event_topic", cfg.Kafka.EventTopic).
		Msg("inventory core wired")

	// 过期预约清扫器
	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	go core.Reservation.RunExpirySweeper(sweeperCtx, cfg.Sweeper.Interval, cfg.Sweeper.Batch)

	// 可用性缓存失效消费者
	reader := mq.NewReader(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.EventTopic)
	invalidator := interfaces.NewCacheInvalidationConsumer(reader, cache)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go func() {
		if err := invalidator.Start(consumerCtx); err != nil {
			log.Error().Err(err).Msg("cache invalidation consumer stopped with error")
		}
	}()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.Service.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				stopSweeper()
				stopConsumer()
				if err := invalidator.Close(); err != nil {
					log.Warn().Err(err).Msg("failed to close kafka reader")
				}
			},
			func(ctx context.Context) {
				if err := publisher.Close(); err != nil {
					log.Warn().Err(err).Msg("failed to close kafka writer")
				}
				if err := redisClient.Close(); err != nil {
					log.Warn().Err(err).Msg("failed to close redis client")
				}
			},
		},
	})
}
