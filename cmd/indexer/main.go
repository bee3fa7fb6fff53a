// Command indexer runs the Subscriber worker pool against the bus
// subscription plus the read-only Query API HTTP server and the
// supplemental live-tail websocket hub, all under one supervisor.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/escrow-indexer/internal/api"
	"github.com/ocx/escrow-indexer/internal/bus"
	"github.com/ocx/escrow-indexer/internal/cache"
	"github.com/ocx/escrow-indexer/internal/chainevents"
	"github.com/ocx/escrow-indexer/internal/circuitbreaker"
	"github.com/ocx/escrow-indexer/internal/config"
	"github.com/ocx/escrow-indexer/internal/database"
	"github.com/ocx/escrow-indexer/internal/metrics"
	"github.com/ocx/escrow-indexer/internal/pipeline"
	"github.com/ocx/escrow-indexer/internal/projection"
	"github.com/ocx/escrow-indexer/internal/stream"
)

const (
	exitOK          = 0
	exitFatalConfig = 1
	exitUnreachable = 3
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("indexer: no .env file found, relying on process environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("indexer: config error: %v", err)
		os.Exit(exitFatalConfig)
	}

	db, err := database.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, time.Duration(cfg.Database.ConnMaxLifeMins)*time.Minute)
	if err != nil {
		log.Printf("indexer: database unreachable: %v", err)
		os.Exit(exitUnreachable)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.Migrate(migrateCtx, db)
	cancel()
	if err != nil {
		log.Printf("indexer: migrate: %v", err)
		os.Exit(exitUnreachable)
	}

	var redisCache *cache.Redis
	if cfg.Redis.Enabled {
		redisCache, err = cache.Dial(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, time.Duration(cfg.Redis.CacheTTLMillis)*time.Millisecond)
		if err != nil {
			log.Printf("indexer: redis unreachable, continuing without cache: %v", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
		}
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	sub, pubsubClient, err := bus.OpenSubscriber(dialCtx, cfg.PubSub.ProjectID, cfg.PubSub.Subscription, cfg.PubSub.AckDeadlineSec)
	cancel()
	if err != nil {
		log.Printf("indexer: bus unreachable: %v", err)
		os.Exit(exitUnreachable)
	}
	defer pubsubClient.Close()

	pc := &pipeline.Context{
		Config:   cfg,
		DB:       db,
		Cache:    redisCache,
		Metrics:  metrics.New(),
		Breakers: circuitbreaker.NewPipelineBreakers(),
	}

	health := pipeline.NewHealth()
	engine := projection.New(db)
	hub := stream.NewHub()

	handler := func(ctx context.Context, ev chainevents.Event) error {
		start := time.Now()
		result, err := pc.Breakers.Database.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
			return engine.Apply(ctx, ev)
		})
		pc.Metrics.ObserveProjectionLatency(time.Since(start))
		if err != nil {
			pc.Metrics.EventsProjectedTotal.WithLabelValues(string(ev.EventType), "error").Inc()
			return err
		}
		outcome := result.(projection.Outcome)
		pc.Metrics.EventsProjectedTotal.WithLabelValues(string(ev.EventType), string(outcome)).Inc()
		health.RecordApplied()
		hub.Broadcast(ev)
		return nil
	}

	subscriber := bus.NewSubscriber(sub, handler, cfg.Subscriber.Workers, pc.Metrics, cfg.PubSub.MaxDeliveries)

	rateLimiter := cache.NewRateLimiter(600)
	apiServer := api.NewServer(db, redisCache, health, time.Duration(cfg.Server.StaleThresholdSec)*time.Second)

	router := mux.NewRouter()
	router.PathPrefix("/escrows/stream").Handler(hub)
	router.Handle("/metrics", promhttp.Handler())
	router.PathPrefix("/").Handler(rateLimiter.Middleware(apiServer.Handler()))

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor := pipeline.NewSupervisor(time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second)

	subscriberTask := func(ctx context.Context) error {
		health.SetBrokerAttached(true)
		defer health.SetBrokerAttached(false)
		return subscriber.Run(ctx)
	}

	hubTask := func(ctx context.Context) error {
		stopCh := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stopCh)
		}()
		hub.Run(stopCh)
		return nil
	}

	serverTask := func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}
	}

	log.Printf("indexer: listening on :%s", cfg.Server.Port)
	if err := supervisor.Run(ctx, subscriberTask, hubTask, serverTask); err != nil && ctx.Err() == nil {
		log.Printf("indexer: fatal: %v", err)
		os.Exit(exitFatalConfig)
	}

	log.Println("indexer: shutdown complete")
	os.Exit(exitOK)
}
