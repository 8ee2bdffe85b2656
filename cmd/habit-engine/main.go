// Command habit-engine runs the Habit Royale rules engine: the change event
// consumer, the HTTP API and the batch job scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/habitroyale/habit-engine/internal/api/dashboard"
	"github.com/habitroyale/habit-engine/internal/api/ingest"
	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/events"
	"github.com/habitroyale/habit-engine/internal/notify"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/internal/service/achievements"
	"github.com/habitroyale/habit-engine/internal/service/battles"
	"github.com/habitroyale/habit-engine/internal/service/jobs"
	"github.com/habitroyale/habit-engine/internal/service/leaderboard"
	"github.com/habitroyale/habit-engine/internal/service/progression"
	"github.com/habitroyale/habit-engine/internal/service/scheduler"
	"github.com/habitroyale/habit-engine/internal/triggers"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log.Info().Str("environment", cfg.Server.Environment).Msg("Starting habit engine")

	// --- PostgreSQL ---
	db, err := repository.NewDB(&cfg.Database.Postgres, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	if cfg.Database.Postgres.AutoMigrate {
		err = db.AutoMigrate()
	} else {
		err = repository.Migrate(cfg.Database.Postgres.URL(), log)
	}
	if err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Database.Redis.Addr(),
		Password: cfg.Database.Redis.Password,
		DB:       cfg.Database.Redis.DB,
		PoolSize: cfg.Database.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	log.Info().Str("addr", cfg.Database.Redis.Addr()).Msg("Connected to Redis")

	bus := events.NewStreamBus(rdb, cfg.Events, log)
	if err := bus.EnsureGroup(ctx); err != nil {
		return err
	}

	// Engine-written changes are staged in their transaction and relayed to the stream.
	changes := events.NewOutbox(db, bus, cfg.Events.RelayBatchSize, log)

	// --- Services ---
	progressionService := progression.NewService(cfg.Rules, log)

	achievementService := achievements.NewService(db, progressionService, changes, log)
	catalog, err := achievements.LoadCatalog(cfg.Achievements.CatalogPath)
	if err != nil {
		return err
	}
	if err := achievementService.Seed(ctx, catalog); err != nil {
		return fmt.Errorf("seeding achievements: %w", err)
	}

	leaderboardService := leaderboard.NewService(
		repository.NewUserRepository(db),
		repository.NewPetRepository(db),
		repository.NewHabitLogRepository(db),
		repository.NewLeaderboardRepository(db),
		leaderboard.NewRedisRanking(rdb, "leaderboard"),
		log,
	)
	battleService := battles.NewService(db, cfg.Rules, progressionService, achievementService, changes, log)

	dispatcher := triggers.NewDispatcher(db, log)
	triggers.NewHandlers(db, cfg.Rules, leaderboardService, battleService, achievementService, changes, log).Register(dispatcher)

	location, err := cfg.Scheduler.GetLocation()
	if err != nil {
		return err
	}
	jobService := jobs.NewService(db, cfg.Rules, cfg.Scheduler.BatchSize, location, leaderboardService, changes, log)
	relay := notify.NewRelay(db, notify.NewPushClient(&cfg.Push, log), &cfg.Push, log)
	cronService := scheduler.NewService(&cfg.Scheduler, jobService, relay, log)

	// --- HTTP Server ---
	router := newRouter(cfg, log)
	api := router.Group("/api/v1")
	dashboard.NewHandler(db, leaderboardService, achievementService, bus, cfg.Events.IngestToken, log).RegisterRoutes(api)
	ingest.NewHandler(dispatcher, cfg.Events.IngestToken, log).RegisterRoutes(api)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return bus.Consume(gctx, dispatcher.StreamHandler())
	})

	g.Go(func() error {
		return changes.Run(gctx, relayInterval(cfg.Events))
	})

	g.Go(func() error {
		if err := cronService.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		cronService.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Habit engine stopped")
	return nil
}

func relayInterval(cfg config.EventsConfig) time.Duration {
	if cfg.RelayIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(cfg.RelayIntervalSeconds) * time.Second
}

func newRouter(cfg *config.Config, log *logger.Logger) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	if len(cfg.Server.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
		corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", ingest.TokenHeader}
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		router.Use(cors.New(corsConfig))
	}

	if cfg.Metrics.Prometheus.Enabled {
		router.GET(cfg.Metrics.Prometheus.Path, gin.WrapH(promhttp.Handler()))
	}
	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	httpLog := log.Component("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		httpLog.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}
