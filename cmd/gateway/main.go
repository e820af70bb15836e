package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tipcast/internal/auth"
	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
	"tipcast/internal/engine"
	"tipcast/internal/engine/pion"
	"tipcast/internal/gate"
	handlers "tipcast/internal/handlers/http"
	"tipcast/internal/infrastructure/middleware"
	"tipcast/internal/infrastructure/monitoring"
	"tipcast/internal/infrastructure/repositories/memory"
	redisrepo "tipcast/internal/infrastructure/repositories/redis"
	signalws "tipcast/internal/infrastructure/signal"
	"tipcast/internal/rooms"
	"tipcast/internal/viewercount"
	"tipcast/pkg/circuitbreaker"
	"tipcast/pkg/config"
	"tipcast/pkg/logger"
	"tipcast/pkg/retry"
	"tipcast/pkg/scheduler"
	"tipcast/pkg/tracing"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// store bundles the three persistence ports behind one implementation.
type store interface {
	ports.StreamStore
	ports.ViewerCountSink
	ports.EventSink
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	log := zlog.Sugar()

	log.Infow("starting tipcast gateway", "address", cfg.Server.Address)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "tipcast-gateway",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: os.Getenv("TIPCAST_ENV"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	var (
		st          store
		redisClient *goredis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = redisrepo.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect to Redis", "error", err)
		}
		st = redisrepo.NewStreamStore(redisClient)
	} else {
		log.Warnw("redis disabled, using in-memory store")
		st = memory.NewStreamStore()
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.Engine.ICEServers))
	for _, s := range cfg.Engine.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	eng := pion.New(pion.Config{ICEServers: iceServers}, log)

	pool := engine.NewPool(eng, engine.Config{
		InitialWorkers: cfg.Engine.InitialWorkers,
		MaxWorkers:     cfg.Engine.MaxWorkers,
		AutoScale:      cfg.Engine.AutoScale,
		ScaleThreshold: cfg.Engine.ScaleThreshold,
		RoomsPerWorker: cfg.Engine.RoomsPerWorker,
		BasePort:       cfg.Engine.BasePort,
		PortsPerWorker: cfg.Engine.PortsPerWorker,
	}, retry.DefaultConfig(), log)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := pool.Initialize(initCtx); err != nil {
		cancelInit()
		log.Fatalw("failed to initialize worker pool", "error", err)
	}
	cancelInit()

	clock := scheduler.System()

	registry := rooms.NewRegistry(pool, rooms.Config{
		MaxParticipants:     cfg.Rooms.MaxParticipants,
		InactivityThreshold: cfg.Rooms.InactivityThreshold,
	}, clock, log)

	gt := gate.New(gate.Limits{
		ConnectionsPerIP:   cfg.Gate.ConnectionsPerIP,
		ConnectionsPerUser: cfg.Gate.ConnectionsPerUser,
		MessagesPerUser:    cfg.Gate.MessagesPerUser,
		Window:             cfg.Gate.Window,
	}, clock)

	viewers := viewercount.New(st, circuitbreaker.New(circuitbreaker.DefaultConfig()), log)

	authService := auth.NewService(cfg.Auth.JWTSecret, 24*time.Hour)

	gateway := signalws.NewGateway(signalws.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MaxMessageSize:    cfg.Signal.MaxMessageSize,
		MaxTipAmount:      cfg.Tips.MaxAmount,
		MaxChatMessageLen: cfg.Chat.MaxMessageLength,
		EngineCallTimeout: cfg.Engine.CallTimeout,
	}, registry, gt, authService, st, st, viewers, log)

	registry.SetEvents(rooms.Events{
		ProducerClosed: gateway.NotifyProducerClosed,
		ConsumerClosed: gateway.NotifyConsumerClosed,
	})

	collector := monitoring.NewPrometheusCollector()
	gateway.SetMetrics(collector)

	pool.OnWorkerLost(func(id domain.WorkerID) {
		collector.RecordWorkerDeath()
		terminated := registry.TerminateOnWorker(id)
		for _, room := range terminated {
			gateway.EndStream(room.ID(), room.StreamID(), "worker lost")
		}
		log.Warnw("worker lost, rooms terminated",
			"worker_id", id,
			"rooms", len(terminated),
		)
	})

	sched := scheduler.New(clock, log)
	sched.Every("room-sweep", cfg.Rooms.SweepInterval, registry.SweepInactive)
	sched.Every("viewer-flush", cfg.ViewerCount.FlushInterval, func(ctx context.Context) error {
		if err := viewers.Flush(ctx); err != nil {
			return err
		}
		collector.RecordViewerFlush()
		return nil
	})
	sched.Every("gate-prune", cfg.Gate.Window, func(ctx context.Context) error {
		gt.Prune()
		return nil
	})
	sched.Every("metrics-snapshot", 15*time.Second, func(ctx context.Context) error {
		collector.SetRoomsActive(registry.RoomCount())
		collector.ResetRoomParticipants()
		for _, room := range registry.Rooms() {
			viewerCount, performerCount := room.Counts()
			collector.SetRoomParticipants(room.ID(), viewerCount, performerCount)
		}
		alive := 0
		for _, w := range pool.Snapshot() {
			if w.Alive {
				alive++
			}
			collector.SetWorkerLoad(w.ID, w.Load)
		}
		collector.SetWorkersAlive(alive)
		return nil
	})

	health := monitoring.NewHealthChecker()
	health.AddCheck("workers", func(ctx context.Context) error {
		for _, w := range pool.Snapshot() {
			if w.Alive {
				return nil
			}
		}
		return fmt.Errorf("no alive workers")
	}, 2*time.Second)
	if redisClient != nil {
		health.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}, 2*time.Second)
	}

	router := newRouter(cfg, log, gateway, registry, pool, health, authService)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()
	log.Infow("gateway listening", "address", cfg.Server.Address)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")
	shutdown(cfg, log, server, sched, registry, pool, viewers, tp, redisClient)
}

func newRouter(
	cfg *config.Config,
	log *zap.SugaredLogger,
	gateway *signalws.Gateway,
	registry *rooms.Registry,
	pool *engine.Pool,
	health *monitoring.HealthChecker,
	tokens auth.TokenVerifier,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	ctxLog := logger.NewContextLogger(log.Desugar())
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(ctxLog))
	router.Use(middleware.ErrorHandlerMiddleware(ctxLog))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	router.GET("/ws", gin.WrapF(gateway.HandleWebSocket))
	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	handlers.NewStatsHandler(registry, pool, gateway, health).
		SetupRoutes(router, middleware.AuthMiddleware(tokens))
	return router
}

func shutdown(
	cfg *config.Config,
	log *zap.SugaredLogger,
	server *http.Server,
	sched *scheduler.Scheduler,
	registry *rooms.Registry,
	pool *engine.Pool,
	viewers *viewercount.Aggregator,
	tp *tracing.TracerProvider,
	redisClient *goredis.Client,
) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("server shutdown failed", "error", err)
	}

	sched.Stop()
	registry.Close(ctx)

	// Final flush so viewer counts converge before exit.
	if err := viewers.Flush(ctx); err != nil {
		log.Warnw("final viewer-count flush failed", "error", err)
	}

	if err := pool.Close(); err != nil {
		log.Errorw("worker pool close failed", "error", err)
	}
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			log.Warnw("tracing shutdown failed", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warnw("redis close failed", "error", err)
		}
	}
	log.Infow("shutdown complete")
}
