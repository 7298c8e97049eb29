package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/database"
	"fieldsync/internal/device"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/health"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
	"fieldsync/internal/queue"
	"fieldsync/internal/repository"
	"fieldsync/internal/services"
	"fieldsync/internal/services/directus"
	"fieldsync/internal/services/eas"
	"fieldsync/internal/services/wallet"
	"fieldsync/internal/storage"
	"fieldsync/internal/worker"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	actions, err := loadActions(logger)
	if err != nil {
		return err
	}

	lock, err := acquireLock(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics.Register()

	bus := events.NewEventBus(logger)
	if detach := attachRelay(cfg, st.redis, bus, logger); detach != nil {
		defer detach()
	}

	store := storage.New(st.kv)
	queueService := queue.NewService(store, bus, cfg.Queue.MaxRetries, logger)
	if err := queueService.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("load queue")
		return err
	}

	directusClient, easClient, walletClient := initClients(cfg)
	monitor := health.NewMonitor(directusClient, easClient, cfg.Health.Interval, cfg.Health.Timeout, logger)
	deviceState := device.NewState()

	engine := worker.NewSyncEngine(
		queueService,
		worker.Clients{Database: directusClient, Attester: easClient, Signer: walletClient, Linker: directusClient},
		monitor,
		deviceState,
		bus,
		worker.NewRetryPolicy(cfg.Queue),
		worker.EngineOptions{AttemptTimeout: cfg.Queue.AttemptTimeout, Concurrency: cfg.Queue.Concurrency},
		logger,
	)
	engine.SetContext(ctx)
	queueService.SetRunner(engine)
	defer engine.Wait()

	scheduler := worker.NewScheduler(store, queueService, monitor, engine, cfg.Queue.ListRetryInterval, cfg.Queue.Tick, logger)

	go monitor.Start(ctx)
	go scheduler.Start(ctx)

	if st.db != nil && cfg.Backup.Enabled {
		go database.NewBackupService(st.db, cfg.Backup, logger).Start(ctx)
	}

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	// Items left over from a previous run are attempted right away.
	if queueService.ActiveCount() > 0 {
		engine.Trigger(worker.Request{Trigger: worker.TriggerEnqueue})
	}

	if !cfg.API.Enabled {
		logger.Info().Int("active", queueService.ActiveCount()).Msg("fieldsync started without API")
		<-ctx.Done()
		logger.Info().Msg("shutdown signal received")
		return nil
	}

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Queue:     queueService,
		Health:    monitor,
		Countdown: scheduler,
		Device:    deviceState,
		Taxonomy:  models.NewTaxonomy(actions),
	}, logger)

	err = serve(ctx, httpServer, logger)
	// Stop the scheduler before engine.Wait runs.
	stop()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, &logger, closer, nil
}

func loadActions(logger *zerolog.Logger) ([]models.Action, error) {
	actionsPath := os.Getenv("ACTIONS_PATH")
	if actionsPath == "" {
		actionsPath = "configs/actions.yaml"
	}
	data, err := os.ReadFile(actionsPath)
	if err != nil {
		logger.Error().Err(err).Str("actions_path", actionsPath).Msg("read actions")
		return nil, err
	}

	var actionsConfig struct {
		Actions []models.Action `yaml:"actions"`
	}
	if err := yaml.Unmarshal(data, &actionsConfig); err != nil {
		logger.Error().Err(err).Str("actions_path", actionsPath).Msg("parse actions")
		return nil, err
	}

	if err := config.ValidateActions(actionsConfig.Actions); err != nil {
		logger.Error().Err(err).Msg("actions validation failed")
		return nil, err
	}
	return actionsConfig.Actions, nil
}

// acquireLock makes sure only one worker processes a given data directory.
func acquireLock(cfg *config.Config, logger *zerolog.Logger) (*flock.Flock, error) {
	dir := "data"
	if cfg.Storage.Path != "" {
		dir = filepath.Dir(cfg.Storage.Path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lockPath := filepath.Join(dir, "fieldsync.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another fieldsync instance is already running for this data directory")
	}
	logger.Info().Str("lock", lockPath).Msg("worker lock acquired")
	return lock, nil
}

// storageHandles keeps the concrete backends next to the KVStore built on them.
// Closing kv also closes the sqlite file or the redis client.
type storageHandles struct {
	kv    domain.KVStore
	db    *database.DB
	redis *redis.Client
}

func (s *storageHandles) Close() {
	if s.kv != nil {
		_ = s.kv.Close()
	}
}

func initStorage(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*storageHandles, error) {
	st := &storageHandles{}
	var primary domain.KVStore

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := database.NewDB(cfg.Storage.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Storage.Path).Msg("init database")
			return nil, err
		}
		st.db = db
		primary = db
	case config.DriverRedis:
		st.redis = repository.NewRedisClient(cfg.Storage.Redis)
		redisStore := repository.NewRedisKVStore(st.redis, cfg.Storage.Redis.Prefix)
		if err := redisStore.Ping(ctx); err != nil {
			if !cfg.Storage.Failover {
				_ = redisStore.Close()
				return nil, err
			}
			logger.Warn().Err(err).Msg("redis unavailable, queue writes go to memory until it recovers")
		}
		primary = redisStore
	case config.DriverMemory:
		logger.Warn().Msg("memory storage driver: the queue will not survive a restart")
		st.kv = repository.NewMemoryKVStore()
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	st.kv = primary
	if cfg.Storage.Failover {
		st.kv = repository.NewFailoverKVStore(primary, repository.NewMemoryKVStore(), logger)
	}
	logger.Info().Str("driver", cfg.Storage.Driver).Bool("failover", cfg.Storage.Failover).Msg("storage ready")
	return st, nil
}

// attachRelay mirrors queue events to redis pub/sub when enabled. The returned
// func detaches the relay and closes any client opened for it.
func attachRelay(cfg *config.Config, client *redis.Client, bus *events.EventBus, logger *zerolog.Logger) func() {
	if !cfg.Events.RedisRelay {
		return nil
	}
	owned := false
	if client == nil {
		if cfg.Storage.Redis.Address == "" {
			logger.Warn().Msg("event relay enabled but no redis address configured")
			return nil
		}
		client = repository.NewRedisClient(cfg.Storage.Redis)
		owned = true
	}

	detach := events.NewRedisRelay(client, cfg.Events.Channel, cfg.Events.DeadLetter, logger).Attach(bus)
	return func() {
		detach()
		if owned {
			_ = client.Close()
		}
	}
}

func initClients(cfg *config.Config) (*directus.Client, *eas.Client, *wallet.Client) {
	opts := func(s config.ServiceConfig) services.Options {
		return services.Options{
			BaseURL: s.URL,
			Token:   s.Token,
			RPS:     s.RateRPS,
			Burst:   s.RateBurst,
			Timeout: cfg.Queue.AttemptTimeout,
		}
	}
	return directus.NewClient(cfg.Services.Directus.Collection, opts(cfg.Services.Directus)),
		eas.NewClient(opts(cfg.Services.EAS)),
		wallet.NewClient(opts(cfg.Services.Wallet))
}

func serve(ctx context.Context, httpServer *api.HTTPServer, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}

	logger.Info().Msg("fieldsync stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
