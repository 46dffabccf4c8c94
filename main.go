package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"trading-control-plane/config"
	"trading-control-plane/internal/api"
	"trading-control-plane/internal/database"
	"trading-control-plane/internal/events"
	"trading-control-plane/internal/paramstore"
	"trading-control-plane/internal/secrets"
	"trading-control-plane/internal/tuning"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := buildLogger(cfg.LoggingConfig)
	logger.Info().Msg("starting parameter control plane")

	registry, err := buildRegistry(cfg.TuningConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build parameter registry")
	}

	ctx := context.Background()

	// Token-signing secret: Vault when enabled, config fallback otherwise.
	secretClient, err := secrets.NewClient(secrets.Config{
		Enabled:        cfg.VaultConfig.Enabled,
		Address:        cfg.VaultConfig.Address,
		Token:          cfg.VaultConfig.Token,
		MountPath:      cfg.VaultConfig.MountPath,
		SecretPath:     cfg.VaultConfig.SecretPath,
		TLSEnabled:     cfg.VaultConfig.TLSEnabled,
		CACert:         cfg.VaultConfig.CACert,
		FallbackSecret: cfg.TuningConfig.SigningSecret,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create vault client")
	}
	signingSecret, err := secretClient.SigningSecret(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve token-signing secret")
	}

	// Parameter store + engine control: Redis in production, in-memory
	// for local dry runs.
	var params tuning.ParameterStore
	var engine tuning.EngineController
	if cfg.RedisConfig.Enabled {
		store, err := paramstore.NewRedisStore(paramstore.Config{
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to parameter store")
		}
		defer store.Close()

		defaults := make(map[string]interface{})
		for _, key := range registry.Keys() {
			d, _ := registry.Get(key)
			defaults[d.StoreField] = d.Default
		}
		if err := store.Seed(ctx, defaults); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed parameter defaults")
		}

		params = store
		engine = paramstore.NewEngine(store, logger)
	} else {
		logger.Warn().Msg("redis disabled, using in-memory parameter store (dry run)")
		params = tuning.NewMemoryParamStore(registry)
		engine = tuning.NewMemoryEngine(true)
	}

	// Audit log + snapshot store: Postgres in production, in-memory for
	// local dry runs.
	var auditStore tuning.AuditStore
	var snapshotStore tuning.SnapshotStore
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		auditStore = database.NewAuditRepository(db)
		snapshotStore = database.NewSnapshotRepository(db)
	} else {
		logger.Warn().Msg("database disabled, audit log and snapshots are in-memory (dry run)")
		auditStore = tuning.NewMemoryAuditStore()
		snapshotStore = tuning.NewMemorySnapshotStore()
	}

	eventBus := events.NewEventBus()

	auditLog := tuning.NewAuditLog(auditStore, logger)
	snapshots := tuning.NewSnapshotService(snapshotStore, params, engine, registry, logger)
	cooldown := tuning.NewCooldownTracker(auditStore)
	tokens := tuning.NewTokenService(signingSecret, cfg.TuningConfig.ConfirmTokenTTL)

	orchestrator := tuning.NewOrchestrator(
		registry, params, engine,
		auditLog, snapshots, cooldown, tokens,
		events.NewBusNotifier(eventBus), logger,
	)

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
		ReadTimeout:    cfg.ServerConfig.ReadTimeout,
		WriteTimeout:   cfg.ServerConfig.WriteTimeout,
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, orchestrator, eventBus, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func buildLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func buildRegistry(cfg config.TuningConfig) (*tuning.Registry, error) {
	descriptors := tuning.DefaultParameters()
	if cfg.ParametersFile != "" {
		data, err := os.ReadFile(cfg.ParametersFile)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &descriptors); err != nil {
			return nil, err
		}
	}
	return tuning.NewRegistry(descriptors)
}
