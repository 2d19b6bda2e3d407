package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/gateway"
	"quiz-room-service/internal/infra/memory"
	mongostore "quiz-room-service/internal/infra/mongo"
	pgstore "quiz-room-service/internal/infra/postgres"
	redisstore "quiz-room-service/internal/infra/redis"
)

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// openStore connects the configured room store. The returned func releases its connections.
func openStore(ctx context.Context, cfg config.Config, clk clock.Clock, log zerolog.Logger) (app.RoomStore, func(), error) {
	cacheTTL := config.TTLDuration(cfg.Store.CodeCacheTTL, time.Minute)

	switch cfg.Store.Driver {
	case config.DriverRedis:
		client := newRedisClient(cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		ttl := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
		log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", ttl).Msg("using redis room store")
		return redisstore.NewRoomStore(client, ttl), func() { _ = client.Close() }, nil

	case config.DriverPostgres:
		if err := runMigrations(ctx, cfg, log); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info().Msg("using postgres room store")
		return memory.NewCodeCache(pgstore.NewRoomStore(pool), cacheTTL, clk), pool.Close, nil

	case config.DriverMongo:
		client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		disconnect := func() { _ = client.Disconnect(context.Background()) }
		if err := client.Ping(ctx, nil); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		store := mongostore.NewRoomStore(client.Database(cfg.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, err
		}
		log.Info().Str("database", cfg.Mongo.Database).Msg("using mongo room store")
		return memory.NewCodeCache(store, cacheTTL, clk), disconnect, nil

	default:
		log.Info().Msg("using in-memory room store")
		return memory.NewRoomStore(), func() {}, nil
	}
}

// openFeed connects the configured real-time room channel.
func openFeed(ctx context.Context, cfg config.Config, log zerolog.Logger) (gateway.RoomChannel, func(), error) {
	if cfg.Realtime.Driver != config.DriverRedis {
		return memory.NewRoomFeed(), func() {}, nil
	}
	client := newRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis feed: %w", err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis room feed")
	return redisstore.NewRoomFeed(client, log), func() { _ = client.Close() }, nil
}

func rulesFrom(cfg config.Config) app.Rules {
	rules := app.DefaultRules()
	rules.QuestionTimeout = config.TTLDuration(cfg.Game.QuestionTimeout, rules.QuestionTimeout)
	rules.CloseGrace = config.TTLDuration(cfg.Game.CloseGrace, rules.CloseGrace)
	if cfg.Game.MaxScore > 0 {
		rules.MaxScore = cfg.Game.MaxScore
	}
	return rules
}
