package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"quantflow/internal/api"
	"quantflow/internal/config"
	"quantflow/internal/domain"
	"quantflow/internal/handlers/analysis"
	"quantflow/internal/marketdata"
	"quantflow/internal/queue"
	"quantflow/internal/report"
	"quantflow/internal/scheduler"
	"quantflow/internal/store"
	"quantflow/internal/taskqueue"
	"quantflow/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config file")
		envPath = flag.String("env", ".env", "dotenv file")
		workers = flag.Int("workers", 0, "number of worker goroutines (overrides config)")
		debug   = flag.Bool("debug", false, "expose pprof handlers")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatal().Err(err).Msg("load env")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *workers > 0 {
		cfg.Workers.Count = *workers
	}
	setupLogging(cfg.Server)

	ctx := context.Background()

	s, history, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
	}
	defer closeStore()

	q, err := openQueue(ctx, cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Queue.Backend).Msg("open queue")
	}
	defer q.Close()

	deps := analysis.Deps{
		Market: marketdata.New(marketdata.Config{
			BaseURL:   cfg.MarketData.BaseURL,
			Timeout:   cfg.MarketData.Timeout,
			CacheSize: cfg.MarketData.CacheSize,
			CacheTTL:  cfg.MarketData.CacheTTL,
		}),
	}
	if cfg.MarketData.BaseURL == "" {
		log.Warn().Msg("marketdata.base_url is not set, analysis tasks will fail")
	}
	deps.History = history
	if cfg.Report.GeminiAPIKey != "" {
		g, err := report.NewGemini(ctx, cfg.Report.GeminiAPIKey, cfg.Report.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("create report writer")
		}
		deps.Reports = g
	}

	registry := worker.NewRegistry()
	analysis.Register(registry, deps)

	tq := taskqueue.New(s, q, registry, taskqueue.Config{
		Workers:     cfg.Workers.Count,
		PollWait:    cfg.Workers.PollWait,
		TaskTimeout: cfg.Workers.TaskTimeout,
		// a Redis queue may be shared with other live processes
		RecoverInterrupted: cfg.Queue.Backend != "redis",
	})
	if err := tq.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start task queue")
	}

	sched := scheduler.NewService(tq)
	for _, sc := range cfg.Schedules {
		job, err := scheduleJob(sc)
		if err == nil {
			err = sched.Add(job)
		}
		if err != nil {
			log.Fatal().Err(err).Str("schedule_name", sc.Name).Msg("invalid schedule")
		}
	}
	sched.Start()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.NewServer(tq, api.Options{Schedules: sched, History: history, EnableDebug: *debug})}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	sched.Stop()
	tq.Stop()
}

func setupLogging(cfg config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.PrettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

// historyStore is implemented by both store.History and store.PostgresHistory.
type historyStore interface {
	Record(ctx context.Context, kind string, payload any) (string, error)
	Get(ctx context.Context, id string) (string, json.RawMessage, error)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, historyStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := store.NewPostgresPool(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return pg, store.NewPostgresHistory(pool), pool.Close, nil
	default:
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DSN)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		db.SetMaxOpenConns(1) // SQLite single writer
		if err := store.EnsureSchema(db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return store.NewSQLite(db), store.NewHistory(db), func() { db.Close() }, nil
	}
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (queue.Queue, error) {
	if cfg.Backend != "redis" {
		return queue.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
	}
	return queue.NewRedis(client, cfg.RedisKey), nil
}

func scheduleJob(sc config.Schedule) (scheduler.Job, error) {
	params, err := json.Marshal(sc.Params)
	if err != nil {
		return scheduler.Job{}, err
	}
	return scheduler.Job{
		Name:     sc.Name,
		CronExpr: sc.Cron,
		UserID:   sc.UserID,
		TaskType: domain.TaskType(sc.TaskType),
		Params:   params,
		Priority: sc.Priority,
	}, nil
}
