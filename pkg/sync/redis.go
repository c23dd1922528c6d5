package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

const (
	RedisPayloadKey = "p"
)

var DefaultRedisOpts = redis.Options{
	MinIdleConns:       2,
	PoolSize:           64,              // every active subscription holds a conn while blocked in XREAD.
	PoolTimeout:        3 * time.Minute, // amount of time a waiter will wait for a conn to become available.
	MaxRetries:         30,
	MinRetryBackoff:    1 * time.Second,
	MaxRetryBackoff:    3 * time.Second,
	DialTimeout:        10 * time.Second,
	ReadTimeout:        10 * time.Second,
	WriteTimeout:       10 * time.Second,
	IdleCheckFrequency: 30 * time.Second,
	MaxConnAge:         2 * time.Minute,
}

// subscriptionPoll bounds how long a subscription blocks in XREAD before it
// checks its context again.
var subscriptionPoll = time.Second

type RedisConfiguration struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// RedisService is a Service backed by redis, so several sync server replicas
// can share one keyspace. Topics are streams and states are counters.
type RedisService struct {
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	rclient *redis.Client
	log     *zap.SugaredLogger

	barrierCh chan *barrier
}

var _ Service = (*RedisService)(nil)

func NewRedisService(ctx context.Context, log *zap.SugaredLogger, cfg *RedisConfiguration) (*RedisService, error) {
	rclient, err := redisClient(ctx, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &RedisService{
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
		rclient:   rclient,
		barrierCh: make(chan *barrier),
	}

	s.wg.Add(1)
	go s.barrierWorker()

	return s, nil
}

// Close closes this service, cancels ongoing operations, and releases resources.
func (s *RedisService) Close() error {
	s.cancel()
	s.wg.Wait()

	return s.rclient.Close()
}

// barrier represents a barrier over a state. It fires once the target number
// of entries on that state have been registered.
type barrier struct {
	ctx    context.Context
	key    string
	target int64
	doneCh chan error
}

func redisClient(ctx context.Context, log *zap.SugaredLogger, cfg *RedisConfiguration) (*redis.Client, error) {
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	log.Debugw("trying redis host", "host", cfg.Host, "port", port)

	opts := DefaultRedisOpts
	opts.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	client := redis.NewClient(&opts).WithContext(ctx)

	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		log.Errorw("failed to ping redis host", "host", cfg.Host, "port", port, "error", err)
		return nil, err
	}

	log.Debugw("redis ping OK", "addr", opts.Addr)
	return client, nil
}
