package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	// how long DialRedis keeps retrying before giving up
	ConnectTimeout time.Duration
}

// RedisBus is a Bus over Redis PUBLISH/SUBSCRIBE.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

// DialRedis connects and waits until the server answers PING, backing off
// between attempts with intervals capped at two seconds.
func DialRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisBus, error) {
	logger = logger.With(slog.String("component", "redis_bus"))
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = cfg.ConnectTimeout
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}

	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		logger.Warn("Redis not ready, retrying", slog.String("addr", addr), slog.Duration("next", next), slog.Any("error", err))
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Info("Connected to redis", slog.String("addr", addr))
	return &RedisBus{client: client, logger: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, msg []byte) error {
	return b.client.Publish(ctx, channel, msg).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// The first reply is the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	s := &redisSub{
		pubsub: pubsub,
		out:    make(chan []byte, memoryBuffer),
		done:   make(chan struct{}),
	}
	go s.pump(pubsub.Channel(), b.logger.With(slog.String("channel", channel)))
	return s, nil
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSub struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSub) pump(in <-chan *redis.Message, logger *slog.Logger) {
	defer close(s.out)
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				logger.Debug("Redis subscription channel closed")
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) Messages() <-chan []byte { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
