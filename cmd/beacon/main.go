package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beacon/internal/auth"
	"beacon/internal/broadcast"
	"beacon/internal/config"
	"beacon/internal/db"
	"beacon/internal/google"
	httpx "beacon/internal/http"
	"beacon/internal/jobs"
	"beacon/internal/lock"
	"beacon/internal/mail"
	"beacon/internal/schedule"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// dispatchLockKey is the advisory lock id shared by every node.
const dispatchLockKey int64 = 7420011

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.LogDev)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := broadcast.NewHub(logger)

	// With Redis, events go out over pub/sub and the bridge feeds this
	// node's hub, so websocket clients see events from every node.
	var rdb *redis.Client
	var events broadcast.Publisher = hub
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			logger.Fatal("connect redis", zap.Error(err))
		}
		pingCancel()
		events = broadcast.NewRedisPublisher(rdb, logger)
		go broadcast.RunBridge(ctx, rdb, hub, logger)
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case "redis":
		if rdb == nil {
			logger.Fatal("LOCK_BACKEND=redis requires REDIS_ADDR")
		}
		locker = lock.NewRedis(rdb, "beacon:dispatch", cfg.DispatchBudget+30*time.Second)
	case "local":
		locker = lock.NewLocal()
	default:
		sqlDB, err := gdb.DB()
		if err != nil {
			logger.Fatal("obtain sql connection", zap.Error(err))
		}
		locker = lock.NewAdvisory(sqlDB, dispatchLockKey)
	}

	repo := &jobs.Repo{DB: gdb}
	provisioner := google.NewClient(google.Config{
		TagManagerBaseURL: cfg.TagManagerBaseURL,
		AdsBaseURL:        cfg.AdsBaseURL,
		Timeout:           cfg.GoogleTimeout,
	}, logger)
	worker := &jobs.Worker{
		Repo:        repo,
		DB:          gdb,
		Provisioner: provisioner,
		Events:      events,
		Backoff: jobs.BackoffPolicy{
			Base:       cfg.BackoffBase,
			Cap:        cfg.BackoffCap,
			MaxRetries: cfg.BackoffRetries,
		},
		QuotaCooldown: cfg.QuotaCooldown,
		Log:           logger,
	}
	dispatcher := &jobs.Dispatcher{
		Repo:       repo,
		Worker:     worker,
		Locker:     locker,
		Events:     events,
		Budget:     cfg.DispatchBudget,
		JobDelay:   cfg.DispatchJobDelay,
		StuckAfter: cfg.JobStuckAfter,
		Log:        logger,
	}

	mailer := mail.New(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger)

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	r := httpx.NewRouter(httpx.Deps{
		Cfg:        cfg,
		DB:         gdb,
		JWT:        jwtSvc,
		Hub:        hub,
		Events:     events,
		Dispatcher: dispatcher,
		Mailer:     mailer,
		Log:        logger,
	})

	var runner *schedule.Runner
	if cfg.CronEnabled {
		runner, err = schedule.Start(cfg.CronSchedule, logger, func() {
			cycleCtx, cycleCancel := context.WithTimeout(ctx, cfg.DispatchBudget+30*time.Second)
			defer cycleCancel()
			if _, err := dispatcher.RunCycle(cycleCtx); err != nil {
				logger.Error("scheduled dispatch failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("start scheduler", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if runner != nil {
		runner.Stop(shutdownCtx)
	}
	_ = srv.Shutdown(shutdownCtx)
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
