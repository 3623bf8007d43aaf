package main

import (
	"context"
	"os/signal"
	"syscall"

	"flash_mall/internal/config"
	"flash_mall/internal/flashsale"
	"flash_mall/internal/logger"
	"flash_mall/internal/model"
	"flash_mall/internal/queue"
	"flash_mall/internal/router"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	log := logger.Get()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load", zap.Error(err))
	}

	// 1. 连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&model.Product{},
		&model.ProductVariant{},
		&model.FlashSaleWindow{},
		&model.FlashSaleEntry{},
		&model.OrderRequest{},
		&model.Order{},
	); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	// SQLite 写并发靠单连接串行化，避免 database is locked。
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	rdb := rd.NewClient(&rd.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	engine := flashsale.NewEngine(db, rdb, log, cfg.BucketTimezone, cfg.StockCacheTTL)

	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := queue.NewRelay(rdb, producer, log,
		cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer)
	go relay.Run(ctx)

	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, db, rdb, log)
	defer consumer.Close()
	go consumer.Run(ctx)

	r := gin.Default()
	router.Setup(r, db, rdb, engine, log, cfg)

	log.Info("server listening", zap.String("addr", cfg.HTTPAddr))
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal("server run", zap.Error(err))
	}
}
