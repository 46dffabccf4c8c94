// Package paramstore provides the Redis-backed live parameter store the
// trading engine reads its tunables from, plus the engine run control.
package paramstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis keys shared with the trading engine.
const (
	paramsKey  = "engine:params"
	metricsKey = "engine:metrics"

	// controlChannel carries start/stop commands to the engine.
	controlChannel = "engine:control"
	runFlagField   = "engine_running"
)

const opTimeout = 5 * time.Second

// Config holds Redis connection configuration.
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// RedisStore implements tuning.ParameterStore over a Redis hash. Every
// read goes to Redis; nothing is cached locally, so multiple control
// plane instances observe the same state.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(cfg Config, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "ParamStore").Logger(),
	}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Get reads one parameter field.
func (s *RedisStore) Get(ctx context.Context, field string) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.HGet(ctx, paramsKey, field).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("field %q not found", field)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read field %q: %w", field, err)
	}
	return decodeValue(raw)
}

// Set writes one parameter field.
func (s *RedisStore) Set(ctx context.Context, field string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode field %q: %w", field, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.client.HSet(ctx, paramsKey, field, string(raw)).Err(); err != nil {
		return fmt.Errorf("failed to write field %q: %w", field, err)
	}
	return nil
}

// FullState reads every parameter field.
func (s *RedisStore) FullState(ctx context.Context) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.HGetAll(ctx, paramsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter state: %w", err)
	}
	state := make(map[string]interface{}, len(raw))
	for field, enc := range raw {
		v, err := decodeValue(enc)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		state[field] = v
	}
	return state, nil
}

// Performance reads the engine's performance metrics hash.
func (s *RedisStore) Performance(ctx context.Context) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.HGetAll(ctx, metricsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read performance metrics: %w", err)
	}
	metrics := make(map[string]float64, len(raw))
	for name, enc := range raw {
		var v float64
		if err := json.Unmarshal([]byte(enc), &v); err != nil {
			return nil, fmt.Errorf("metric %q: %w", name, err)
		}
		metrics[name] = v
	}
	return metrics, nil
}

// Seed writes default values for fields that do not exist yet. Existing
// values are never overwritten.
func (s *RedisStore) Seed(ctx context.Context, defaults map[string]interface{}) error {
	for field, value := range defaults {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode default for %q: %w", field, err)
		}
		set, err := s.client.HSetNX(ctx, paramsKey, field, string(raw)).Result()
		if err != nil {
			return fmt.Errorf("failed to seed field %q: %w", field, err)
		}
		if set {
			s.logger.Debug().Str("field", field).Interface("value", value).Msg("seeded default")
		}
	}
	return nil
}

func decodeValue(raw string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("malformed stored value %q: %w", raw, err)
	}
	return v, nil
}

// Engine implements tuning.EngineController. The run flag lives in the
// same params hash the engine watches; start/stop additionally publish a
// control message so a subscribed engine reacts immediately.
type Engine struct {
	store  *RedisStore
	logger zerolog.Logger
}

// NewEngine builds an engine controller over the store's Redis client.
func NewEngine(store *RedisStore, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With().Str("component", "EngineController").Logger(),
	}
}

// Running reports the engine run flag.
func (e *Engine) Running(ctx context.Context) (bool, error) {
	v, err := e.store.Get(ctx, runFlagField)
	if err != nil {
		return false, err
	}
	running, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("run flag holds %T, expected bool", v)
	}
	return running, nil
}

// Start sets the run flag and signals the engine.
func (e *Engine) Start(ctx context.Context) error {
	return e.signal(ctx, true)
}

// Stop clears the run flag and signals the engine.
func (e *Engine) Stop(ctx context.Context) error {
	return e.signal(ctx, false)
}

func (e *Engine) signal(ctx context.Context, run bool) error {
	if err := e.store.Set(ctx, runFlagField, run); err != nil {
		return err
	}
	command := "stop"
	if run {
		command = "start"
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := e.store.client.Publish(ctx, controlChannel, command).Err(); err != nil {
		return fmt.Errorf("run flag written but %s signal failed: %w", command, err)
	}
	e.logger.Info().Str("command", command).Msg("engine control signal sent")
	return nil
}
