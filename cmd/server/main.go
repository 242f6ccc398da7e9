package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ruslan-Po/final-weather/internal/api"
	"github.com/Ruslan-Po/final-weather/internal/cache"
	"github.com/Ruslan-Po/final-weather/internal/config"
	"github.com/Ruslan-Po/final-weather/internal/events"
	"github.com/Ruslan-Po/final-weather/internal/forecast"
	"github.com/Ruslan-Po/final-weather/internal/notify"
	"github.com/Ruslan-Po/final-weather/internal/refresh"
	"github.com/Ruslan-Po/final-weather/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(log); err != nil {
		log.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()

	// Connect to PostgreSQL.
	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Run migrations.
	if err := store.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("migrations applied")

	// Connect to Redis.
	redisClient, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	// Wire dependencies.
	clock := forecast.SystemClock{}
	snapCache := cache.New(redisClient, cfg.SnapshotTTL)
	favorites := store.New(pool, snapCache, clock)

	geo := forecast.NewGeoClient(cfg.OpenWeatherAPIKey, cfg.WeatherRPS, cfg.WeatherBurst)
	fetcher := forecast.NewWeatherClient(cfg.OpenWeatherAPIKey, cfg.WeatherRPS, cfg.WeatherBurst)
	local := forecast.NewSingleLocationCache(fetcher, clock, snapCache, log)

	bus := events.NewBus()
	coordinator := refresh.NewCoordinator(favorites, geo, fetcher, clock, bus, log)

	cron := notify.NewCronScheduler(cfg.AlertLocation(), func(identifier string, payload notify.Payload) {
		log.Info("alert fired", "identifier", identifier, "title", payload.Title, "body", payload.Body)
	}, log)
	cron.Start()
	defer cron.Stop()

	schedules := notify.NewScheduleStore(pool)
	engine := notify.NewEngine(cron, favorites, schedules, bus, clock, log)
	if err := engine.RestoreAll(ctx); err != nil {
		return fmt.Errorf("restoring alert schedules: %w", err)
	}

	periodic := refresh.NewPeriodic(coordinator, cfg.RefreshInterval, log)
	if err := periodic.Start(); err != nil {
		return fmt.Errorf("starting periodic refresh: %w", err)
	}
	defer periodic.Stop()

	// Log engine events for operators; the UI would re-read on these.
	evCh, cancelEvents := bus.Subscribe(16)
	defer cancelEvents()
	go func() {
		for ev := range evCh {
			switch e := ev.(type) {
			case events.FavoritesChanged:
				log.Debug("favorites changed")
			case events.NotificationStateChanged:
				log.Debug("notification state changed", "city", e.CityKey, "enabled", e.Enabled)
			}
		}
	}()

	handlers := api.NewHandlers(favorites, snapCache, geo, fetcher, coordinator, engine, local, snapCache, log)

	// Build router with pingers adapted for health check.
	dbPinger := &pgxPoolPinger{pool: pool}
	redisPinger := &redisPingerAdapter{client: redisClient}

	router := api.NewRouter(handlers, cfg.BearerToken, dbPinger, redisPinger, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("server goroutine panicked", "recover", r)
				errCh <- fmt.Errorf("server panicked: %v", r)
			}
		}()
		log.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listening: %w", err)
		}
	}()

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("server shut down cleanly")
	return nil
}

// pgxPoolPinger adapts pgxpool.Pool to the api.dbPinger interface.
type pgxPoolPinger struct {
	pool interface {
		Ping(ctx context.Context) error
	}
}

func (p *pgxPoolPinger) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// redisPingerAdapter adapts redis.Client to the api.redisPinger interface.
type redisPingerAdapter struct {
	client *redis.Client
}

func (r *redisPingerAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
